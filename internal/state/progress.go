package state

import (
	"sort"
	"sync"
	"time"
)

// Progress is the resumable completion record (spec.md §3). Go's scheduler
// dispatches tasks on real goroutines rather than a single-threaded event
// loop, so — unlike the teacher's JS-derived model — mutations here are
// guarded by a mutex instead of relying on cooperative scheduling alone.
type Progress struct {
	mu              sync.Mutex
	completedPages  map[string]struct{}
	completedBlocks map[string]struct{}
	lastUpdate      time.Time
	path            string
}

type progressDoc struct {
	CompletedPages  []string  `json:"completedPages"`
	CompletedBlocks []string  `json:"completedBlocks"`
	LastUpdate      time.Time `json:"lastUpdate"`
}

// NewProgress returns an empty Progress bound to path without reading it,
// used for progress.rebuild (spec.md §4.A: rebuild discards prior state).
func NewProgress(path string) *Progress {
	return &Progress{
		completedPages:  make(map[string]struct{}),
		completedBlocks: make(map[string]struct{}),
		path:            path,
	}
}

// LoadProgress loads path if present, or returns an empty Progress bound to
// that path.
func LoadProgress(path string) (*Progress, error) {
	p := &Progress{
		completedPages:  make(map[string]struct{}),
		completedBlocks: make(map[string]struct{}),
		path:            path,
	}
	var doc progressDoc
	ok, err := loadJSON(path, &doc)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, k := range doc.CompletedPages {
			p.completedPages[k] = struct{}{}
		}
		for _, k := range doc.CompletedBlocks {
			p.completedBlocks[k] = struct{}{}
		}
		p.lastUpdate = doc.LastUpdate
	}
	return p, nil
}

// IsPageComplete reports whether pagePath is already marked complete.
func (p *Progress) IsPageComplete(pagePath string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.completedPages[pagePath]
	return ok
}

// IsBlockComplete reports whether blockPath is already marked complete.
func (p *Progress) IsBlockComplete(blockPath string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.completedBlocks[blockPath]
	return ok
}

// MarkBlockComplete records blockPath as done. Invariant (spec.md §8.1): a
// page key is only added once every block under it has been processed —
// enforced by callers only ever calling MarkPageComplete after the block
// processor has finished the page's full block set.
func (p *Progress) MarkBlockComplete(blockPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completedBlocks[blockPath] = struct{}{}
	p.lastUpdate = now()
}

// MarkPageComplete records pagePath as done.
func (p *Progress) MarkPageComplete(pagePath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completedPages[pagePath] = struct{}{}
	p.lastUpdate = now()
}

// CompletedPageCount returns the number of pages marked complete.
func (p *Progress) CompletedPageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.completedPages)
}

// CompletedPages returns a sorted snapshot of completed page keys.
func (p *Progress) CompletedPages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedKeys(p.completedPages)
}

// Empty reports whether there is nothing to persist, letting callers skip
// creating a vestigial file (spec.md §4.I).
func (p *Progress) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.completedPages) == 0 && len(p.completedBlocks) == 0
}

// Save persists Progress atomically, skipping the write entirely when empty.
func (p *Progress) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.completedPages) == 0 && len(p.completedBlocks) == 0 {
		return nil
	}
	doc := progressDoc{
		CompletedPages:  sortedKeysLocked(p.completedPages),
		CompletedBlocks: sortedKeysLocked(p.completedBlocks),
		LastUpdate:      p.lastUpdate,
	}
	return atomicSaveJSON(p.path, doc)
}

// SaveSync is an alias for Save used from signal handlers, kept distinct so
// call sites document intent the way spec.md §4.I names it.
func (p *Progress) SaveSync() error { return p.Save() }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysLocked(m map[string]struct{}) []string { return sortedKeys(m) }
