// Package state implements the durable JSON records the orchestrator
// mutates during a run: Progress, FreeRecord, MismatchRecord,
// FilenameMapping and SiteMeta. Every record supports load-or-empty,
// append-only mutation, and atomic save, grounded on the teacher's
// checkpoint.Manager but writing plain JSON instead of gob+gzip.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	saveRetries  = 3
	saveBackoff  = 100 * time.Millisecond
)

// atomicSaveJSON writes v to path via a temp file, fsync, and rename, per
// spec.md §4.I. It retries on failure up to saveRetries times.
func atomicSaveJSON(path string, v any) error {
	var lastErr error
	for attempt := 0; attempt <= saveRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(saveBackoff)
		}
		if lastErr = trySaveJSON(path, v); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("state: atomic save of %s failed after %d attempts: %w", path, saveRetries+1, lastErr)
}

func trySaveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// SaveAtomic is the exported form of atomicSaveJSON, used by packages
// outside state (e.g. collect.json, which is not one of this package's
// record types but shares the same atomic-write contract).
func SaveAtomic(path string, v any) error { return atomicSaveJSON(path, v) }

// LoadJSON is the exported form of loadJSON.
func LoadJSON(path string, v any) (ok bool, err error) { return loadJSON(path, v) }

// loadJSON reads and unmarshals path into v. A missing file is not an
// error: v is left at its zero value and ok reports false.
func loadJSON(path string, v any) (ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("state: parse %s: %w", path, err)
	}
	return true, nil
}
