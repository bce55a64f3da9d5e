package state

import "sync"

// Mismatch is one observed expected-vs-actual block-count discrepancy
// (spec.md §3).
type Mismatch struct {
	PagePath string `json:"pagePath"`
	Expected int    `json:"expected"`
	Actual   int    `json:"actual"`
}

// MismatchRecord accumulates Mismatch entries for a run.
type MismatchRecord struct {
	mu      sync.Mutex
	entries []Mismatch
	path    string
}

// LoadMismatch loads path if present, or returns an empty MismatchRecord
// bound to it.
func LoadMismatch(path string) (*MismatchRecord, error) {
	m := &MismatchRecord{path: path}
	var entries []Mismatch
	ok, err := loadJSON(path, &entries)
	if err != nil {
		return nil, err
	}
	if ok {
		m.entries = entries
	}
	return m, nil
}

// Add records a mismatch.
func (m *MismatchRecord) Add(pagePath string, expected, actual int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Mismatch{PagePath: pagePath, Expected: expected, Actual: actual})
}

// Entries returns a snapshot of the recorded mismatches.
func (m *MismatchRecord) Entries() []Mismatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Mismatch, len(m.entries))
	copy(out, m.entries)
	return out
}

// Empty reports whether there is nothing to persist.
func (m *MismatchRecord) Empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries) == 0
}

// Save persists MismatchRecord atomically, skipping the write when empty.
func (m *MismatchRecord) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	return atomicSaveJSON(m.path, m.entries)
}

// SaveSync is an alias for Save used from signal handlers.
func (m *MismatchRecord) SaveSync() error { return m.Save() }
