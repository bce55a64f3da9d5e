package state

import (
	"sync"
	"time"
)

// CollectionLinkMeta is the per-link summary SiteMeta carries forward.
type CollectionLinkMeta struct {
	Link               string `json:"link"`
	Name               string `json:"name,omitempty"`
	ExpectedBlockCount int    `json:"expectedBlockCount,omitempty"`
	ActualBlockCount   int    `json:"actualBlockCount,omitempty"`
}

// SiteMeta is the per-run summary persisted to meta.json (spec.md §3),
// carrying forward a prior run's counters when loaded (see LoadSiteMeta).
type SiteMeta struct {
	mu sync.Mutex

	StartURL        string               `json:"startUrl"`
	CollectionLinks  []CollectionLinkMeta `json:"collectionLinks"`
	TotalDisplayed   int                  `json:"totalDisplayed"`
	TotalActual      int                  `json:"totalActual"`
	FreePagesTotal   int                  `json:"freePagesTotal"`
	FreeBlocksTotal  int                  `json:"freeBlocksTotal"`
	StartTime        time.Time            `json:"startTime"`
	EndTime          time.Time            `json:"endTime,omitempty"`
	DurationMS       int64                `json:"durationMs,omitempty"`
	IsComplete       bool                 `json:"isComplete"`

	path string
}

// LoadSiteMeta loads path if present, or returns a fresh SiteMeta bound to
// it with StartTime set to now.
func LoadSiteMeta(path, startURL string) (*SiteMeta, error) {
	m := &SiteMeta{StartURL: startURL, StartTime: now(), path: path}
	var doc SiteMeta
	ok, err := loadJSON(path, &doc)
	if err != nil {
		return nil, err
	}
	if ok {
		doc.StartURL = startURL
		doc.StartTime = now()
		doc.EndTime = time.Time{}
		doc.IsComplete = false
		doc.path = path
		return &doc, nil
	}
	return m, nil
}

// ReadSiteMeta loads path as-is, without resetting StartTime/EndTime/
// IsComplete the way LoadSiteMeta does for a fresh run — for read-only
// consumers such as the report exporter.
func ReadSiteMeta(path string) (*SiteMeta, error) {
	var doc SiteMeta
	ok, err := loadJSON(path, &doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &SiteMeta{path: path}, nil
	}
	doc.path = path
	return &doc, nil
}

// SetCollectionLinks records the resolved work set for this run.
func (m *SiteMeta) SetCollectionLinks(links []CollectionLinkMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CollectionLinks = links
	m.TotalDisplayed = len(links)
}

// RecordBlockCount accumulates an actual block count observed for a page.
func (m *SiteMeta) RecordBlockCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalActual += n
}

// RecordFreePage increments the free-page counter.
func (m *SiteMeta) RecordFreePage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FreePagesTotal++
}

// RecordFreeBlock increments the free-block counter.
func (m *SiteMeta) RecordFreeBlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FreeBlocksTotal++
}

// Finish marks the run complete or incomplete and stamps the end time.
func (m *SiteMeta) Finish(complete bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = now()
	m.DurationMS = m.EndTime.Sub(m.StartTime).Milliseconds()
	m.IsComplete = complete
}

// Save persists SiteMeta atomically. Unlike Progress/Free/FilenameMapping,
// meta.json is always written — it is the run's summary record, never
// vestigial.
func (m *SiteMeta) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return atomicSaveJSON(m.path, m)
}

// SaveSync is an alias for Save used from signal handlers.
func (m *SiteMeta) SaveSync() error { return m.Save() }
