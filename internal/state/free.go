package state

import (
	"sort"
	"sync"
)

// FreeRecord is the skip catalog (spec.md §3): pages and blocks the site
// itself marks as not requiring extraction.
type FreeRecord struct {
	mu           sync.Mutex
	pages        map[string]struct{}
	blocks       map[string]struct{}
	blocksByPage map[string]map[string]struct{}
	path         string
}

type freeDoc struct {
	LastUpdate   string              `json:"lastUpdate"`
	TotalPages   int                 `json:"totalPages"`
	TotalBlocks  int                 `json:"totalBlocks"`
	Pages        []string            `json:"pages"`
	Blocks       []string            `json:"blocks"`
	BlocksByPage map[string][]string `json:"blocksByPage"`
}

// LoadFree loads path if present, or returns an empty FreeRecord bound to it.
func LoadFree(path string) (*FreeRecord, error) {
	f := &FreeRecord{
		pages:        make(map[string]struct{}),
		blocks:       make(map[string]struct{}),
		blocksByPage: make(map[string]map[string]struct{}),
		path:         path,
	}
	var doc freeDoc
	ok, err := loadJSON(path, &doc)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, k := range doc.Pages {
			f.pages[k] = struct{}{}
		}
		for _, k := range doc.Blocks {
			f.blocks[k] = struct{}{}
		}
		for page, names := range doc.BlocksByPage {
			set := make(map[string]struct{}, len(names))
			for _, n := range names {
				set[n] = struct{}{}
			}
			f.blocksByPage[page] = set
		}
	}
	return f, nil
}

// IsPageFree reports whether pagePath was previously recorded free.
func (f *FreeRecord) IsPageFree(pagePath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pages[pagePath]
	return ok
}

// AddPage records pagePath as free.
func (f *FreeRecord) AddPage(pagePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[pagePath] = struct{}{}
}

// AddBlock records blockName as free under pagePath.
func (f *FreeRecord) AddBlock(pagePath, blockName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blockPath := pagePath + "/" + blockName
	f.blocks[blockPath] = struct{}{}
	set, ok := f.blocksByPage[pagePath]
	if !ok {
		set = make(map[string]struct{})
		f.blocksByPage[pagePath] = set
	}
	set[blockName] = struct{}{}
}

// Pages returns a sorted snapshot of every page recorded free.
func (f *FreeRecord) Pages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.pages)
}

// BlocksByPage returns a sorted snapshot of free block names keyed by page.
func (f *FreeRecord) BlocksByPage() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]string, len(f.blocksByPage))
	for page, set := range f.blocksByPage {
		out[page] = sortedKeys(set)
	}
	return out
}

// Empty reports whether there is nothing to persist.
func (f *FreeRecord) Empty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pages) == 0 && len(f.blocks) == 0
}

// Save persists FreeRecord atomically, skipping the write when empty.
func (f *FreeRecord) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pages) == 0 && len(f.blocks) == 0 {
		return nil
	}
	blocksByPage := make(map[string][]string, len(f.blocksByPage))
	for page, set := range f.blocksByPage {
		blocksByPage[page] = sortedKeys(set)
	}
	doc := freeDoc{
		LastUpdate:   now().UTC().Format(timeLayout),
		TotalPages:   len(f.pages),
		TotalBlocks:  len(f.blocks),
		Pages:        sortedKeys(f.pages),
		Blocks:       sortedKeys(f.blocks),
		BlocksByPage: blocksByPage,
	}
	sort.Strings(doc.Pages)
	return atomicSaveJSON(f.path, doc)
}

// SaveSync is an alias for Save used from signal handlers.
func (f *FreeRecord) SaveSync() error { return f.Save() }

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
