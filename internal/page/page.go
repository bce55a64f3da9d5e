// Package page implements the whole-page processor (spec.md §4.G): the
// simpler sibling of the block processor, for sites whose handler operates
// on the full page rather than per-block.
package page

import (
	"context"

	"go.uber.org/zap"

	"github.com/blockcrawl/crawler/internal/crawlerr"
	"github.com/blockcrawl/crawler/internal/driver"
)

// Handler runs the user's whole-page extraction logic.
type Handler func(ctx context.Context, page driver.Page) error

// Processor runs Handler over a page with the same pause-on-error and
// user-abort handling the block processor applies per block.
type Processor struct {
	Handler      Handler
	Logger       *zap.Logger
	PauseOnError bool
	Debug        bool
}

// Process runs the configured handler once for pagePath.
func (p *Processor) Process(ctx context.Context, pg driver.Page, pagePath string) error {
	if p.Handler == nil {
		return nil
	}
	err := p.Handler(ctx, pg)
	if err == nil {
		return nil
	}
	if crawlerr.Is(err, crawlerr.UserAbort) {
		return err
	}
	p.Logger.Error("page handler failed", zap.String("page", pagePath), zap.Error(err))
	if p.Debug && p.PauseOnError {
		if perr := pg.Pause(ctx); perr != nil {
			return perr
		}
	}
	if !p.PauseOnError {
		return nil
	}
	return crawlerr.Wrap(crawlerr.HandlerError, "page handler: "+pagePath, err)
}
