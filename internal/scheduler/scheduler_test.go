package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/blockcrawl/crawler/internal/collect"
	"github.com/blockcrawl/crawler/internal/crawlerr"
	"github.com/blockcrawl/crawler/internal/state"
	"github.com/blockcrawl/crawler/internal/worklist"
)

func newGates(t *testing.T) Gates {
	t.Helper()
	progress, err := state.LoadProgress(filepath.Join(t.TempDir(), "progress.json"))
	require.NoError(t, err)
	free, err := state.LoadFree(filepath.Join(t.TempDir(), "free.json"))
	require.NoError(t, err)
	return Gates{Progress: progress, Free: free}
}

func TestRunDispatchesEveryLinkWithBoundedConcurrency(t *testing.T) {
	links := make([]collect.Link, 20)
	for i := range links {
		links[i] = collect.Link{Link: "/" + string(rune('a'+i))}
	}
	wl := worklist.New(links)
	gates := newGates(t)

	var inFlight atomic.Int32
	var maxInFlight atomic.Int32
	var dispatched atomic.Int32

	s := New(3, 0, zap.NewNop())
	stats := s.Run(context.Background(), wl, gates, func(ctx context.Context, link collect.Link, logger *zap.Logger) error {
		dispatched.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		return nil
	})

	assert.Equal(t, int32(20), dispatched.Load())
	assert.Equal(t, 20, stats.Completed)
	assert.LessOrEqual(t, int(maxInFlight.Load()), 3)
}

func TestRunSkipsAlreadyCompletedAndKnownFreeLinks(t *testing.T) {
	gates := newGates(t)
	gates.Progress.MarkPageComplete("/done")
	gates.Free.AddPage("/free")

	links := []collect.Link{{Link: "/done"}, {Link: "/free"}, {Link: "/fresh"}}
	wl := worklist.New(links)

	var mu sync.Mutex
	var seen []string
	s := New(2, 0, zap.NewNop())
	stats := s.Run(context.Background(), wl, gates, func(ctx context.Context, link collect.Link, logger *zap.Logger) error {
		mu.Lock()
		seen = append(seen, link.Link)
		mu.Unlock()
		return nil
	})

	assert.Equal(t, []string{"/fresh"}, seen)
	assert.Equal(t, 3, stats.Completed)
}

func TestRunClassifiesFailuresAndUserAbort(t *testing.T) {
	gates := newGates(t)
	links := []collect.Link{{Link: "/ok"}, {Link: "/bad"}, {Link: "/abort"}}
	wl := worklist.New(links)

	s := New(1, 0, zap.NewNop())
	stats := s.Run(context.Background(), wl, gates, func(ctx context.Context, link collect.Link, logger *zap.Logger) error {
		switch link.Link {
		case "/bad":
			return errors.New("handler exploded")
		case "/abort":
			return crawlerr.New(crawlerr.UserAbort, "context canceled")
		}
		return nil
	})

	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.UserAborted)
}

// TestRunLogsSkipKnownFreeOnRerunOfFreeCompletedPage pins down scenario 3's
// rerun behavior: a page the link executor already marked both free and
// complete must still be reported as skip-known-free, never
// skip-completed, on a later run.
func TestRunLogsSkipKnownFreeOnRerunOfFreeCompletedPage(t *testing.T) {
	gates := newGates(t)
	gates.Free.AddPage("/free")
	gates.Progress.MarkPageComplete("/free")

	wl := worklist.New([]collect.Link{{Link: "/free"}})

	core, logs := observer.New(zapcore.InfoLevel)
	s := New(1, 0, zap.New(core))

	var dispatched bool
	stats := s.Run(context.Background(), wl, gates, func(ctx context.Context, link collect.Link, logger *zap.Logger) error {
		dispatched = true
		return nil
	})

	assert.False(t, dispatched)
	assert.Equal(t, 1, stats.Completed)

	var messages []string
	for _, entry := range logs.All() {
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, "skip-known-free")
	assert.NotContains(t, messages, "skip-completed")
}

func TestRunReportsPreviousCompletedPageCount(t *testing.T) {
	gates := newGates(t)
	gates.Progress.MarkPageComplete("/already")
	wl := worklist.New([]collect.Link{{Link: "/new"}})

	s := New(1, 0, zap.NewNop())
	stats := s.Run(context.Background(), wl, gates, func(ctx context.Context, link collect.Link, logger *zap.Logger) error {
		return nil
	})

	assert.Equal(t, 1, stats.PreviousCompletedPages)
	assert.Equal(t, 1, stats.Completed)
}
