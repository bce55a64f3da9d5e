// Package block implements the block processor (spec.md §4.F), the core's
// most intricate piece: per-block traversal of a collection page, name
// extraction, free-block detection, conditional dispatch to one of three
// handler shapes, and completion bookkeeping.
package block

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blockcrawl/crawler/internal/autoextract"
	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/crawlerr"
	"github.com/blockcrawl/crawler/internal/driver"
	"github.com/blockcrawl/crawler/internal/state"
)

// Handler is the custom per-block callback (handler shape a). Blocks with
// no custom handler fall through to the declarative auto-extractor (shapes
// b/c), driven entirely by BlockConfig.AutoFile and any matching
// ConditionalBlockConfig.
type Handler func(ctx context.Context, block driver.Locator, blockName string) error

// Processor walks one collection page's blocks and dispatches each one,
// recording progress/free/mismatch/meta as it goes.
type Processor struct {
	Cfg         config.BlockConfig
	OutputDir   string
	Progress    *state.Progress
	Free        *state.FreeRecord
	FilenameMap *state.FilenameMapping
	Mismatch    *state.MismatchRecord
	Meta        *state.SiteMeta
	Logger      *zap.Logger
	PauseOnError   bool
	IgnoreMismatch bool
	Debug          bool
	Handler        Handler

	regionCache map[string]regionStrategy // page path -> cached search region strategy
}

// ProcessPage runs the full §4.F protocol for one collection page.
func (p *Processor) ProcessPage(ctx context.Context, page driver.Page, pagePath string, expectedBlockCount int) error {
	if p.regionCache == nil {
		p.regionCache = make(map[string]regionStrategy)
	}

	blocks, err := p.collectBlocks(ctx, page)
	if err != nil {
		return crawlerr.Wrap(crawlerr.HandlerError, "collect blocks", err)
	}

	actual := 0
	for i, b := range blocks {
		name, err := p.extractBlockName(ctx, b)
		if err != nil {
			p.Logger.Warn("block name extraction failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		blockPath := pagePath + "/" + name

		if p.Progress != nil && p.Progress.IsBlockComplete(blockPath) {
			actual++
			continue
		}

		free, err := p.checkFree(ctx, pagePath, b, name)
		if err != nil {
			if crawlerr.Is(err, crawlerr.FreeAmbiguous) {
				p.Logger.Warn("free marker ambiguous, treating block as not free", zap.String("block", blockPath))
			} else {
				return err
			}
		}
		if free {
			if p.Free != nil {
				p.Free.AddBlock(pagePath, name)
			}
			if p.Meta != nil {
				p.Meta.RecordFreeBlock()
			}
			actual++
			continue
		}

		if err := p.dispatch(ctx, b, name, blockPath); err != nil {
			if crawlerr.Is(err, crawlerr.UserAbort) {
				return err
			}
			p.Logger.Error("block handler failed", zap.String("block", blockPath), zap.Error(err))
			if p.Debug && p.PauseOnError {
				if perr := page.Pause(ctx); perr != nil {
					return perr
				}
			}
			if !p.PauseOnError {
				continue
			}
			return crawlerr.Wrap(crawlerr.HandlerError, "block handler: "+blockPath, err)
		}

		if p.Progress != nil {
			p.Progress.MarkBlockComplete(blockPath)
		}
		actual++
	}

	if p.Meta != nil {
		p.Meta.RecordBlockCount(actual)
	}

	verify := p.Cfg.VerifyCompletion
	if expectedBlockCount > 0 && actual != expectedBlockCount {
		if !verify || p.IgnoreMismatch {
			if p.Mismatch != nil {
				p.Mismatch.Add(pagePath, expectedBlockCount, actual)
			}
			return nil
		}
		return crawlerr.New(crawlerr.BlockCountMismatch,
			fmt.Sprintf("%s: expected %d blocks, found %d", pagePath, expectedBlockCount, actual))
	}
	return nil
}

// collectBlocks returns every block on the page, using the progressive
// scroll-and-redetect loop when Cfg.Progressive is set, else a single
// locator query.
func (p *Processor) collectBlocks(ctx context.Context, page driver.Page) ([]driver.Locator, error) {
	if !p.Cfg.Progressive {
		return page.Locator(p.Cfg.BlocksLocator).All(ctx)
	}

	seen := make(map[string]struct{})
	var out []driver.Locator
	stableRounds := 0
	for stableRounds < 3 {
		blocks, err := page.Locator(p.Cfg.BlocksLocator).All(ctx)
		if err != nil {
			return nil, err
		}
		added := false
		for _, b := range blocks {
			key, err := b.TextContent(ctx)
			if err != nil {
				continue
			}
			key = strings.TrimSpace(key)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, b)
			added = true
		}
		if !added {
			stableRounds++
		} else {
			stableRounds = 0
		}
		if err := page.MouseWheel(ctx, 0, 800); err != nil {
			return nil, err
		}
		if err := page.WaitForTimeout(ctx, 300*time.Millisecond); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// dispatch runs the matching conditional (if any) and then the custom
// handler or declarative auto-extractor.
func (p *Processor) dispatch(ctx context.Context, b driver.Locator, name, blockPath string) error {
	cond, err := p.matchConditional(ctx, b)
	if err != nil {
		return err
	}

	skipPre := false
	codeRegion := ""
	if cond != nil {
		skipPre = cond.SkipPreChecks
		codeRegion = cond.CodeRegion
		if cond.Name != "" {
			name = cond.Name
		}
	}
	_ = skipPre // pre-checks are the caller's scroll-into-view/visibility gates, already satisfied by locator queries in this core

	if p.Handler != nil {
		return p.Handler(ctx, b, name)
	}
	if p.Cfg.AutoFile != nil {
		blockDir := filepath.Join(p.OutputDir, state.SanitizePath(strings.TrimPrefix(blockPath, "/")))
		return autoextract.Process(ctx, b, blockPath, name, blockDir, *p.Cfg.AutoFile, codeRegion, p.FilenameMap)
	}
	return nil
}

func (p *Processor) matchConditional(ctx context.Context, b driver.Locator) (*config.ConditionalBlockConfig, error) {
	for i := range p.Cfg.Conditionals {
		c := &p.Cfg.Conditionals[i]
		if c.WhenLocator == "" {
			continue
		}
		count, err := b.Locator(c.WhenLocator).Count(ctx)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return c, nil
		}
	}
	return nil, nil
}

var headingSelectors = []string{"h1", "h2", "h3", "h4", "h5", "h6"}

// extractBlockName resolves a block's name via the configured locator, or
// the default heading-based algorithm, retrying up to 3 times 200ms apart
// before giving up (spec.md §4.F).
func (p *Processor) extractBlockName(ctx context.Context, b driver.Locator) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= 3; attempt++ {
		if attempt > 0 {
			time.Sleep(200 * time.Millisecond)
		}
		name, err := p.extractBlockNameOnce(ctx, b)
		if err == nil {
			return name, nil
		}
		lastErr = err
	}
	return "", crawlerr.Wrap(crawlerr.NameExtractionFailed, "block name extraction", lastErr)
}

func (p *Processor) extractBlockNameOnce(ctx context.Context, b driver.Locator) (string, error) {
	if p.Cfg.BlockNameLocator != "" && p.Cfg.BlockNameLocator != "default" {
		text, err := b.Locator(p.Cfg.BlockNameLocator).TextContent(ctx)
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return "", fmt.Errorf("block: configured name locator matched empty text")
		}
		return text, nil
	}
	return defaultBlockName(ctx, b)
}

// defaultBlockName locates the first h1..h6 in the block. If the heading
// has more than one element child, the first <a> child's text is taken;
// otherwise the heading's own text is taken. A heading with multiple
// element children but no <a> child fails name extraction.
func defaultBlockName(ctx context.Context, b driver.Locator) (string, error) {
	heading, err := firstHeading(ctx, b)
	if err != nil {
		return "", err
	}
	kids, err := heading.Children(ctx)
	if err != nil {
		return "", err
	}
	if len(kids) <= 1 {
		text, err := heading.TextContent(ctx)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	}
	for _, k := range kids {
		tag, err := k.TagName(ctx)
		if err != nil {
			continue
		}
		if strings.EqualFold(tag, "a") {
			text, err := k.TextContent(ctx)
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(text), nil
		}
	}
	return "", fmt.Errorf("block: heading has multiple children but none is an <a>")
}

func firstHeading(ctx context.Context, b driver.Locator) (driver.Locator, error) {
	for _, sel := range headingSelectors {
		matches, err := b.Locator(sel).All(ctx)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return nil, fmt.Errorf("block: no heading found")
}

// regionStrategy names where, relative to the heading, the free-text
// marker search should run.
type regionStrategy int

const (
	regionHeading regionStrategy = iota
	regionGrandparent
	regionParent
	regionWholeBlock
)

// defaultFreeRe implements the "default" pattern as the spec defines it: a
// case-insensitive substring match, not an exact match (spec.md: "default"
// matches the pattern /free/i; any other string matches exactly).
var defaultFreeRe = regexp.MustCompile(`(?i)free`)

// checkFree implements the block-scoped free checker (spec.md §4.F): it
// detects and caches a search-region strategy per page on first use, then
// counts free-text marker matches within that region. Zero matches means
// not free; more than one is FreeAmbiguous.
func (p *Processor) checkFree(ctx context.Context, pagePath string, b driver.Locator, blockName string) (bool, error) {
	if p.Cfg.Free.Pattern == "" {
		return false, nil
	}

	strategy, ok := p.regionCache[pagePath]
	if !ok {
		strategy = detectRegionStrategy(ctx, b)
		p.regionCache[pagePath] = strategy
	}

	region, err := regionFor(ctx, b, strategy)
	if err != nil {
		return false, err
	}

	var matcher func(string) bool
	if p.Cfg.Free.Pattern == "default" {
		matcher = func(s string) bool { return defaultFreeRe.MatchString(s) }
	} else {
		matcher = func(s string) bool { return strings.TrimSpace(s) == p.Cfg.Free.Pattern }
	}

	count, err := countLeafMatches(ctx, region, matcher)
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}
	if count > 1 {
		return false, crawlerr.New(crawlerr.FreeAmbiguous, "free marker matched more than once in "+blockName)
	}
	return true, nil
}

func detectRegionStrategy(ctx context.Context, b driver.Locator) regionStrategy {
	heading, err := firstHeading(ctx, b)
	if err != nil {
		return regionWholeBlock
	}
	kids, err := heading.Children(ctx)
	if err == nil && len(kids) > 1 {
		return regionHeading
	}
	parent, err := heading.Parent(ctx)
	if err != nil {
		return regionParent
	}
	siblings, err := parent.Children(ctx)
	if err == nil && len(siblings) == 1 {
		return regionGrandparent
	}
	return regionParent
}

func regionFor(ctx context.Context, b driver.Locator, strategy regionStrategy) (driver.Locator, error) {
	switch strategy {
	case regionWholeBlock:
		return b, nil
	case regionHeading:
		return firstHeading(ctx, b)
	case regionParent:
		h, err := firstHeading(ctx, b)
		if err != nil {
			return b, nil
		}
		return h.Parent(ctx)
	case regionGrandparent:
		h, err := firstHeading(ctx, b)
		if err != nil {
			return b, nil
		}
		parent, err := h.Parent(ctx)
		if err != nil {
			return b, nil
		}
		return parent.Parent(ctx)
	}
	return b, nil
}

// countLeafMatches counts descendant elements with no element children
// (text leaves) whose trimmed own text matches, approximating a single
// discrete marker element such as a "Free" badge.
func countLeafMatches(ctx context.Context, region driver.Locator, matches func(string) bool) (int, error) {
	all, err := region.Locator("*").All(ctx)
	if err != nil {
		return 0, err
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
		if matches(text) {
			count++
		}
	}
	return count, nil
}
