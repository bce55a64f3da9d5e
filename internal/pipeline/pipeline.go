// Package pipeline wires every other package into the single orchestrator
// the CLI drives: resolve config, authenticate, collect, schedule, execute
// links, and flush state on every exit path. Grounded on the teacher's
// cmd/spider/main.go wiring style (seed, scheduler, signal-triggered
// cancellation, final stats print), generalized into a reusable type so
// cmd/crawler can own process lifecycle while this package owns the crawl
// itself.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/blockcrawl/crawler/internal/auth"
	"github.com/blockcrawl/crawler/internal/block"
	"github.com/blockcrawl/crawler/internal/collect"
	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/driver"
	"github.com/blockcrawl/crawler/internal/history"
	"github.com/blockcrawl/crawler/internal/linkexec"
	"github.com/blockcrawl/crawler/internal/page"
	"github.com/blockcrawl/crawler/internal/scheduler"
	"github.com/blockcrawl/crawler/internal/script"
	"github.com/blockcrawl/crawler/internal/state"
	"github.com/blockcrawl/crawler/internal/worklist"
)

// Handlers bundles every user-supplied callback a site config may name. A
// fluent builder outside this module's scope produces these from the
// caller's own business logic; the core only ever invokes them.
type Handlers struct {
	Auth  auth.Handler  // required when Site.Auth.Kind == config.AuthUser
	Block block.Handler // optional; nil falls through to the auto-extractor
	Page  page.Handler  // required when Site.Mode is page or test
}

// Pipeline runs one site's full crawl.
type Pipeline struct {
	site    config.SiteConfig
	paths   config.PerSitePaths
	session driver.Session
	logger  *zap.Logger
	handlers Handlers
	history  *history.Store

	progress    *state.Progress
	free        *state.FreeRecord
	mismatch    *state.MismatchRecord
	filenameMap *state.FilenameMapping
	meta        *state.SiteMeta
	runID       string
	stats       scheduler.Stats
}

// New resolves site's per-site paths and loads every persisted state
// record, creating output/state directories as needed.
func New(site config.SiteConfig, session driver.Session, logger *zap.Logger, handlers Handlers, historyStore *history.Store) (*Pipeline, error) {
	paths := site.Runtime.PathsFor(site.StartURL)
	if err := os.MkdirAll(paths.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create output dir: %w", err)
	}
	if err := os.MkdirAll(paths.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create state dir: %w", err)
	}

	var progress *state.Progress
	if site.Runtime.Progress.Rebuild {
		progress = state.NewProgress(paths.ProgressFile)
	} else {
		// Loaded regardless of Progress.Enable: the read path always
		// applies for skip purposes, only the write path is gated
		// (resolves the spec's open question on progress.enable=false).
		var err error
		progress, err = state.LoadProgress(paths.ProgressFile)
		if err != nil {
			return nil, fmt.Errorf("pipeline: load progress: %w", err)
		}
	}

	free, err := state.LoadFree(paths.FreeFile)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load free: %w", err)
	}
	mismatch, err := state.LoadMismatch(paths.MismatchFile)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load mismatch: %w", err)
	}
	filenameMap, err := state.LoadFilenameMapping(paths.FilenameMapFile)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load filename mapping: %w", err)
	}
	meta, err := state.LoadSiteMeta(paths.MetaFile, site.StartURL)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load meta: %w", err)
	}

	return &Pipeline{
		site: site, paths: paths, session: session, logger: logger,
		handlers: handlers, history: historyStore,
		progress: progress, free: free, mismatch: mismatch,
		filenameMap: filenameMap, meta: meta,
	}, nil
}

// Run executes the full §4 protocol: authenticate, collect, schedule and
// dispatch every link, then flush.
func (p *Pipeline) Run(ctx context.Context) (scheduler.Stats, error) {
	primary := p.session.PrimaryPage()

	var authHandler auth.Handler
	switch p.site.Auth.Kind {
	case config.AuthAuto:
		authHandler = auth.NewAutoHandler(p.paths.EnvFile)
	case config.AuthUser:
		authHandler = p.handlers.Auth
	}
	if err := auth.EnsureAuth(ctx, primary, p.site.Auth, p.paths.AuthFile, authHandler); err != nil {
		return scheduler.Stats{}, err
	}

	result, _, err := collect.Collect(ctx, primary, p.site.StartURL, p.paths.CollectFile, p.site.Section)
	if err != nil {
		return scheduler.Stats{}, err
	}

	links := make([]state.CollectionLinkMeta, 0, len(result.Collections))
	for _, l := range result.Collections {
		links = append(links, state.CollectionLinkMeta{Link: l.Link, Name: l.Name, ExpectedBlockCount: l.BlockCount})
	}
	p.meta.SetCollectionLinks(links)

	if p.history != nil && p.runID == "" {
		p.runID, err = p.history.StartRun(p.paths.Host, p.site.StartURL, p.meta.StartTime)
		if err != nil {
			p.logger.Warn("history: start run failed", zap.Error(err))
		}
	}

	scripts, err := p.loadScripts()
	if err != nil {
		return scheduler.Stats{}, err
	}

	var blockProc *block.Processor
	var pageProc *page.Processor
	switch p.site.Mode {
	case config.ModeBlock:
		blockProc = &block.Processor{
			Cfg: p.site.Block, OutputDir: p.paths.OutputDir,
			Progress: p.progress, Free: p.free, FilenameMap: p.filenameMap,
			Mismatch: p.mismatch, Meta: p.meta, Logger: p.logger,
			PauseOnError: p.site.Runtime.PauseOnError,
			IgnoreMismatch: p.site.Runtime.IgnoreMismatch,
			Debug: p.site.Runtime.LogLevel == config.LogDebug,
			Handler: p.handlers.Block,
		}
	case config.ModePage, config.ModeTest:
		pageProc = &page.Processor{
			Handler: p.handlers.Page, Logger: p.logger,
			PauseOnError: p.site.Runtime.PauseOnError,
			Debug: p.site.Runtime.LogLevel == config.LogDebug,
		}
	}

	executor := linkexec.New(linkexec.Dependencies{
		Session: p.session, Mode: p.site.Mode, Scripts: scripts,
		AutoScroll: p.site.AutoScroll, WaitUntil: p.site.Section.WaitUntil,
		Timeout: p.site.Section.Timeout,
		SkipPageFree: p.site.SkipPageFree, Free: p.free, Meta: p.meta, Progress: p.progress,
		BlockProcessor: blockProc, PageProcessor: pageProc,
	})

	wl := worklist.New(result.Collections)
	sched := scheduler.New(p.site.Runtime.MaxConcurrency, p.site.Runtime.RequestsPerSecond, p.logger)
	gates := scheduler.Gates{Progress: p.progress, Free: p.free, Meta: p.meta}

	stats := sched.Run(ctx, wl, gates, executor.Execute)
	p.stats = stats

	p.meta.Finish(stats.Failed == 0 && stats.UserAborted == 0)
	if err := p.Flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// Flush persists every state record and updates the history row, safe to
// call from a signal handler as the single synchronous teardown routine
// every exit path shares.
func (p *Pipeline) Flush() error {
	if p.site.Runtime.Progress.Enable {
		if err := p.progress.SaveSync(); err != nil {
			return fmt.Errorf("pipeline: flush progress: %w", err)
		}
	}
	if err := p.free.SaveSync(); err != nil {
		return fmt.Errorf("pipeline: flush free: %w", err)
	}
	if err := p.mismatch.SaveSync(); err != nil {
		return fmt.Errorf("pipeline: flush mismatch: %w", err)
	}
	if err := p.filenameMap.SaveSync(); err != nil {
		return fmt.Errorf("pipeline: flush filename mapping: %w", err)
	}
	if err := p.meta.SaveSync(); err != nil {
		return fmt.Errorf("pipeline: flush meta: %w", err)
	}
	if p.history != nil && p.runID != "" {
		if err := p.history.UpdateRun(history.Entry{
			RunID: p.runID, Host: p.paths.Host, StartURL: p.site.StartURL,
			StartedAt: p.meta.StartTime, EndedAt: p.meta.EndTime,
			TotalLinks: p.meta.TotalDisplayed, TotalBlocks: p.meta.TotalActual,
			Succeeded: p.stats.Completed, Failed: p.stats.Failed,
			FreeLinks: p.meta.FreePagesTotal, FreeBlocks: p.meta.FreeBlocksTotal,
			IsComplete: p.meta.IsComplete,
		}); err != nil {
			p.logger.Warn("history: update run failed", zap.Error(err))
		}
	}
	return nil
}

// Meta exposes the run summary for the report exporter.
func (p *Pipeline) Meta() *state.SiteMeta { return p.meta }

// Free exposes the free-record for the report exporter.
func (p *Pipeline) Free() *state.FreeRecord { return p.free }

// Mismatch exposes the mismatch record for the report exporter.
func (p *Pipeline) Mismatch() *state.MismatchRecord { return p.mismatch }

// Paths exposes the resolved per-site paths.
func (p *Pipeline) Paths() config.PerSitePaths { return p.paths }

func (p *Pipeline) loadScripts() ([]script.Script, error) {
	var out []script.Script
	if len(p.site.Scripts.BeforeOpen) > 0 {
		before, err := script.Load(p.paths.ScriptsDir, p.site.Scripts.BeforeOpen, script.BeforePageLoad, script.BeforePageLoad)
		if err != nil {
			return nil, fmt.Errorf("pipeline: load before-open scripts: %w", err)
		}
		out = append(out, before...)
	}
	if len(p.site.Scripts.AfterOpen) > 0 {
		after, err := script.Load(p.paths.ScriptsDir, p.site.Scripts.AfterOpen, script.AfterPageLoad, script.AfterPageLoad)
		if err != nil {
			return nil, fmt.Errorf("pipeline: load after-open scripts: %w", err)
		}
		out = append(out, after...)
	}
	return out, nil
}
