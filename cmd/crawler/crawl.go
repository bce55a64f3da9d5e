package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blockcrawl/crawler/internal/chromedriver"
	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/history"
	"github.com/blockcrawl/crawler/internal/pipeline"
)

func newCrawlCmd() *cobra.Command {
	var chromiumPath, userAgent string

	cmd := &cobra.Command{
		Use:   "crawl <site-config.json>",
		Short: "Run a crawl from a declarative site configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loadEnvFile(v.GetString("env-file"))

			site, err := loadSiteConfig(args[0])
			if err != nil {
				return err
			}
			base := config.Default().Merge(runtimeOverridesFromFlags())
			site, err = config.Resolve(base, site)
			if err != nil {
				return err
			}

			logger, err := newLogger()
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync()

			session, err := chromedriver.NewSession(cmd.Context(), chromiumPath, userAgent)
			if err != nil {
				return fmt.Errorf("start browser session: %w", err)
			}
			defer session.Close(cmd.Context())

			paths := site.Runtime.PathsFor(site.StartURL)
			hist, err := history.Open(paths.HistoryFile)
			if err != nil {
				logger.Warn("history store unavailable", zap.Error(err))
				hist = nil
			}
			if hist != nil {
				defer hist.Close()
			}

			p, err := pipeline.New(site, session, logger, pipeline.Handlers{}, hist)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logger.Info("interrupt received, flushing state")
				_ = p.Flush()
				cancel()
			}()

			stats, err := p.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("completed=%d failed=%d user-aborted=%d previously-completed=%d\n",
				stats.Completed, stats.Failed, stats.UserAborted, stats.PreviousCompletedPages)
			if stats.Failed > 0 {
				return fmt.Errorf("crawl finished with %d failed links", stats.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&chromiumPath, "chromium-path", "", "path to a Chromium/Chrome binary (empty = auto-detect)")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "override the browser's user agent")
	return cmd
}

func loadSiteConfig(path string) (config.SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.SiteConfig{}, fmt.Errorf("read site config %s: %w", path, err)
	}
	var site config.SiteConfig
	if err := json.Unmarshal(data, &site); err != nil {
		return config.SiteConfig{}, fmt.Errorf("parse site config %s: %w", path, err)
	}
	return site, nil
}
