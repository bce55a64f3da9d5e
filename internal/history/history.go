// Package history implements the run history store (SPEC_FULL.md component
// M): a single SQLite database recording one row per crawl run, inserted
// when the run starts and updated at every state flush. Grounded on the
// teacher's go.mod dependency on mattn/go-sqlite3, which the distilled
// teacher never wired to a concrete store — this is that store's home.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"
)

// Entry is one run's record.
type Entry struct {
	RunID       string
	Host        string
	StartURL    string
	StartedAt   time.Time
	EndedAt     time.Time
	TotalLinks  int
	TotalBlocks int
	Succeeded   int
	Failed      int
	FreeLinks   int
	FreeBlocks  int
	IsComplete  bool
}

// Store wraps the history database connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	host         TEXT NOT NULL,
	start_url    TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	ended_at     TEXT,
	total_links  INTEGER NOT NULL DEFAULT 0,
	total_blocks INTEGER NOT NULL DEFAULT 0,
	succeeded    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	free_links   INTEGER NOT NULL DEFAULT 0,
	free_blocks  INTEGER NOT NULL DEFAULT 0,
	is_complete  INTEGER NOT NULL DEFAULT 0
);
`

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// StartRun inserts a new run row and returns its generated run ID.
func (s *Store) StartRun(host, startURL string, startedAt time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, host, start_url, started_at) VALUES (?, ?, ?, ?)`,
		runID, host, startURL, startedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("history: start run: %w", err)
	}
	return runID, nil
}

// UpdateRun overwrites a run row's mutable columns, called at every flush
// so a crash mid-run still leaves an accurate last-known snapshot.
func (s *Store) UpdateRun(e Entry) error {
	var endedAt any
	if !e.EndedAt.IsZero() {
		endedAt = e.EndedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		`UPDATE runs SET ended_at = ?, total_links = ?, total_blocks = ?, succeeded = ?, failed = ?, free_links = ?, free_blocks = ?, is_complete = ? WHERE run_id = ?`,
		endedAt, e.TotalLinks, e.TotalBlocks, e.Succeeded, e.Failed, e.FreeLinks, e.FreeBlocks, boolToInt(e.IsComplete), e.RunID,
	)
	if err != nil {
		return fmt.Errorf("history: update run %s: %w", e.RunID, err)
	}
	return nil
}

// List returns every run for host, most recent first.
func (s *Store) List(host string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT run_id, host, start_url, started_at, ended_at, total_links, total_blocks, succeeded, failed, free_links, free_blocks, is_complete
		 FROM runs WHERE host = ? ORDER BY started_at DESC`, host,
	)
	if err != nil {
		return nil, fmt.Errorf("history: list %s: %w", host, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var startedAt string
		var endedAt sql.NullString
		var isComplete int
		if err := rows.Scan(&e.RunID, &e.Host, &e.StartURL, &startedAt, &endedAt, &e.TotalLinks, &e.TotalBlocks, &e.Succeeded, &e.Failed, &e.FreeLinks, &e.FreeBlocks, &isComplete); err != nil {
			return nil, err
		}
		e.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if endedAt.Valid {
			e.EndedAt, _ = time.Parse(time.RFC3339, endedAt.String)
		}
		e.IsComplete = isComplete != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
