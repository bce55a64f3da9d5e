// Package linkexec implements the link executor (spec.md §4.E): the
// per-link protocol shared by every process mode — context decision,
// script injection, navigation, page-level free check, lazy-load scroll
// simulation, dispatch to the block or page processor, and teardown.
package linkexec

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockcrawl/crawler/internal/block"
	"github.com/blockcrawl/crawler/internal/collect"
	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/crawlerr"
	"github.com/blockcrawl/crawler/internal/driver"
	"github.com/blockcrawl/crawler/internal/page"
	"github.com/blockcrawl/crawler/internal/script"
	"github.com/blockcrawl/crawler/internal/state"
)

// Dependencies bundles everything a link execution needs. It is built once
// per site run and shared by every dispatch.
type Dependencies struct {
	Session    driver.Session
	Mode       config.ProcessMode
	Scripts    []script.Script
	AutoScroll config.AutoScrollConfig
	WaitUntil  config.WaitUntil
	Timeout    time.Duration

	SkipPageFree config.FreeConfig
	Free         *state.FreeRecord
	Meta         *state.SiteMeta
	Progress     *state.Progress

	BlockProcessor *block.Processor
	PageProcessor  *page.Processor
}

// Executor runs Dependencies.Mode's per-link protocol. The first link it
// runs reuses the session's primary page (so a login-established context
// carries forward); every later link opens an independent context so
// concurrent dispatches don't share mutable page state.
type Executor struct {
	deps        Dependencies
	mu          sync.Mutex
	usedPrimary bool
}

// New builds an Executor.
func New(deps Dependencies) *Executor {
	return &Executor{deps: deps}
}

// Execute runs the full §4.E protocol for one collected link and is the
// scheduler.DispatchFunc this package exposes to the orchestrator.
func (e *Executor) Execute(ctx context.Context, link collect.Link, logger *zap.Logger) error {
	pg, independent, err := e.acquirePage(ctx)
	if err != nil {
		return crawlerr.Wrap(crawlerr.HandlerError, "acquire page", err)
	}
	defer func() {
		if independent {
			_ = pg.Close(ctx)
		}
	}()

	if err := script.Inject(ctx, pg, e.deps.Scripts, script.BeforePageLoad); err != nil {
		return crawlerr.Wrap(crawlerr.HandlerError, "inject before-open scripts", err)
	}

	timeout := e.deps.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if err := pg.Goto(ctx, link.Link, driver.GotoOptions{
		WaitUntil: driver.WaitUntil(e.deps.WaitUntil),
		Timeout:   timeout,
	}); err != nil {
		return crawlerr.Wrap(crawlerr.NavigationTimeout, "goto "+link.Link, err)
	}

	if err := script.Inject(ctx, pg, e.deps.Scripts, script.AfterPageLoad); err != nil {
		return crawlerr.Wrap(crawlerr.HandlerError, "inject after-open scripts", err)
	}

	free, err := checkPageFree(ctx, pg, e.deps.SkipPageFree)
	if err != nil {
		if !crawlerr.Is(err, crawlerr.FreeAmbiguous) {
			return err
		}
		logger.Warn("page free marker ambiguous, treating page as not free")
	}
	if free {
		if e.deps.Free != nil {
			e.deps.Free.AddPage(link.Link)
		}
		if e.deps.Meta != nil {
			e.deps.Meta.RecordFreePage()
		}
		if e.deps.Progress != nil {
			e.deps.Progress.MarkPageComplete(link.Link)
		}
		logger.Info("page-free, skipping extraction")
		return nil
	}

	if err := autoScroll(ctx, pg, e.deps.AutoScroll); err != nil {
		return crawlerr.Wrap(crawlerr.HandlerError, "auto-scroll", err)
	}

	switch e.deps.Mode {
	case config.ModeBlock:
		if e.deps.BlockProcessor == nil {
			return crawlerr.New(crawlerr.HandlerError, "block mode configured without a block processor")
		}
		if err := e.deps.BlockProcessor.ProcessPage(ctx, pg, link.Link, link.BlockCount); err != nil {
			return err
		}
	case config.ModePage, config.ModeTest:
		if e.deps.PageProcessor == nil {
			return crawlerr.New(crawlerr.HandlerError, "page mode configured without a page processor")
		}
		if err := e.deps.PageProcessor.Process(ctx, pg, link.Link); err != nil {
			return err
		}
	default:
		return crawlerr.New(crawlerr.HandlerError, "unknown process mode")
	}

	if e.deps.Progress != nil {
		e.deps.Progress.MarkPageComplete(link.Link)
	}
	return nil
}

// acquirePage hands out the session's primary page exactly once, then
// independent contexts for every subsequent call.
func (e *Executor) acquirePage(ctx context.Context) (driver.Page, bool, error) {
	e.mu.Lock()
	if !e.usedPrimary {
		e.usedPrimary = true
		e.mu.Unlock()
		return e.deps.Session.PrimaryPage(), false, nil
	}
	e.mu.Unlock()

	pg, err := e.deps.Session.NewContext(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	return pg, true, nil
}

// checkPageFree mirrors the block processor's leaf-match free detector, but
// scoped to the whole page rather than a cached per-page region, since a
// page only needs this check once (spec.md §4.E step 5).
func checkPageFree(ctx context.Context, pg driver.Page, cfg config.FreeConfig) (bool, error) {
	if cfg.Pattern == "" {
		return false, nil
	}
	var matcher func(string) bool
	if cfg.Pattern == "default" {
		// "default" matches the pattern /free/i (a substring), not an exact
		// match — only a custom pattern string requires an exact match.
		matcher = func(s string) bool { return strings.Contains(strings.ToLower(s), "free") }
	} else {
		matcher = func(s string) bool { return strings.TrimSpace(s) == cfg.Pattern }
	}

	all, err := pg.Locator("*").All(ctx)
	if err != nil {
		return false, err
	}
	count := 0
	for _, n := range all {
		kids, err := n.Children(ctx)
		if err != nil || len(kids) > 0 {
			continue
		}
		text, err := n.TextContent(ctx)
		if err != nil {
			continue
		}
		if matcher(text) {
			count++
		}
	}
	if count == 0 {
		return false, nil
	}
	if count > 1 {
		return false, crawlerr.New(crawlerr.FreeAmbiguous, "page free marker matched more than once")
	}
	return true, nil
}

// autoScroll simulates lazy-load reveals by stepping MouseWheel at Interval
// until the page's scroll height is unchanged for 3 consecutive ticks or
// Timeout elapses (spec.md §4.E step 6, defaults per
// config.DefaultAutoScroll).
func autoScroll(ctx context.Context, pg driver.Page, cfg config.AutoScrollConfig) error {
	if !cfg.Enabled {
		return nil
	}
	deadline := time.Now().Add(cfg.Timeout)
	stable := 0
	var lastHeight float64
	for time.Now().Before(deadline) {
		if err := pg.MouseWheel(ctx, 0, float64(cfg.StepPx)); err != nil {
			return err
		}
		if err := pg.WaitForTimeout(ctx, cfg.Interval); err != nil {
			return err
		}
		var height float64
		_ = pg.Evaluate(ctx, "document.body.scrollHeight", &height)
		if height == lastHeight {
			stable++
			if stable >= 3 {
				return nil
			}
		} else {
			stable = 0
			lastHeight = height
		}
	}
	return nil
}
