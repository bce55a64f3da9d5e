// Package scheduler implements the concurrent executor (spec.md §4.D): a
// bounded-parallel dispatcher over a Worklist, with the pre-dispatch skip
// gates and result accounting; signal handling and the state flush are
// done by cmd/crawler and pipeline. Grounded on the
// teacher's Scheduler (worker-pool goroutines, atomic counters, buffered
// results channel) but dispatching over a fixed worklist.Worklist instead
// of an open frontier, and replacing the hand-rolled token bucket with
// golang.org/x/time/rate.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blockcrawl/crawler/internal/collect"
	"github.com/blockcrawl/crawler/internal/crawlerr"
	"github.com/blockcrawl/crawler/internal/state"
	"github.com/blockcrawl/crawler/internal/worklist"
)

// DispatchFunc runs the link executor for one collected link.
type DispatchFunc func(ctx context.Context, link collect.Link, logger *zap.Logger) error

// Gates bundles the shared state the pre-dispatch checks consult
// (spec.md §4.D).
type Gates struct {
	Progress      *state.Progress
	Free          *state.FreeRecord
	Meta          *state.SiteMeta
	NormalizePage func(link string) string
}

// Scheduler is the bounded-concurrency work pool.
type Scheduler struct {
	maxConcurrency int
	limiter        *rate.Limiter
	logger         *zap.Logger

	sem chan struct{}

	completed atomic.Int64
	failed    atomic.Int64
	userAbort atomic.Int64
}

// New builds a Scheduler with the given concurrency bound and an optional
// requests-per-second pacing gate (0 = unlimited, spec.md §5 addition).
func New(maxConcurrency int, requestsPerSecond float64, logger *zap.Logger) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Scheduler{
		maxConcurrency: maxConcurrency,
		limiter:        limiter,
		logger:         logger,
		sem:            make(chan struct{}, maxConcurrency),
	}
}

// Stats summarizes one Run.
type Stats struct {
	Completed              int
	Failed                 int
	UserAborted            int
	PreviousCompletedPages int
}

// Run dispatches every link in wl through the pre-dispatch gates and, for
// the ones that survive, through dispatch, bounded to maxConcurrency
// in-flight tasks at any instant (spec.md §8 invariant 5). The first link
// is always run before any other is started (spec.md §5 ordering
// guarantee (b)), since it may decide primary-page reuse.
func (s *Scheduler) Run(ctx context.Context, wl *worklist.Worklist, gates Gates, dispatch DispatchFunc) Stats {
	previousCompleted := gates.Progress.CompletedPageCount()

	first, ok := wl.Pop()
	if ok {
		s.runOne(ctx, first, gates, dispatch)
	}

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return s.stats(previousCompleted)
		default:
		}
		link, ok := wl.Pop()
		if !ok {
			break
		}
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return s.stats(previousCompleted)
		}
		wg.Add(1)
		go func(link collect.Link) {
			defer wg.Done()
			defer func() { <-s.sem }()
			s.runOne(ctx, link, gates, dispatch)
		}(link)
	}
	wg.Wait()

	return s.stats(previousCompleted)
}

func (s *Scheduler) stats(previousCompleted int) Stats {
	return Stats{
		Completed:              int(s.completed.Load()),
		Failed:                 int(s.failed.Load()),
		UserAborted:            int(s.userAbort.Load()),
		PreviousCompletedPages: previousCompleted,
	}
}

func (s *Scheduler) runOne(ctx context.Context, link collect.Link, gates Gates, dispatch DispatchFunc) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
	}

	normalized := link.Link
	if gates.NormalizePage != nil {
		normalized = gates.NormalizePage(link.Link)
	}
	logger := s.logger.With(zap.String("link", normalized))

	// Free is checked before Completed: the link executor marks a
	// page-free link both free and complete (spec.md §4.E step 5), and a
	// rerun must still report it as "skip-known-free" rather than
	// "skip-completed" (spec.md §8 scenario 3).
	if gates.Free.IsPageFree(normalized) {
		logger.Info("skip-known-free")
		gates.Free.AddPage(normalized)
		if gates.Meta != nil {
			gates.Meta.RecordFreePage()
		}
		s.completed.Add(1)
		return
	}
	if gates.Progress.IsPageComplete(normalized) {
		logger.Info("skip-completed")
		s.completed.Add(1)
		return
	}

	err := dispatch(ctx, link, logger)
	if err == nil {
		s.completed.Add(1)
		return
	}
	if isUserAbort(err) {
		s.userAbort.Add(1)
		return
	}
	logger.Error("link task failed", zap.Error(err))
	s.failed.Add(1)
}

// isUserAbort classifies a driver teardown error as user-abort, which
// counts as neither success nor failure (spec.md §4.D).
func isUserAbort(err error) bool {
	if crawlerr.Is(err, crawlerr.UserAbort) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Target page, context or browser has been closed") ||
		strings.Contains(msg, "Test ended") ||
		strings.Contains(msg, "Browser closed") ||
		strings.Contains(msg, "Target closed")
}
