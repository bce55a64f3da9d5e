// Command crawler is the process entry point: it wires config resolution,
// the chromedp-backed browser driver, and the orchestrator into a cobra
// CLI. Grounded on the teacher's cmd/spider/main.go wiring style (seed
// argument, signal-triggered cancellation, final stats print) but restructured
// around cobra/viper subcommands since this crawler is declaratively
// configured per site rather than given a single seed URL and fixed policy.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/crawlerr"
)

var v = viper.New()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crawler",
		Short:         "Declarative component-catalog crawler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().Int("concurrency", 0, "max concurrent link executions (0 = default)")
	root.PersistentFlags().Bool("pause-on-error", false, "re-raise handler errors, pausing the browser first in debug mode")
	root.PersistentFlags().Bool("ignore-mismatch", false, "treat block-count mismatches as warnings instead of failures")
	root.PersistentFlags().Bool("progress", false, "enable resumable progress tracking")
	root.PersistentFlags().String("log-level", "info", "info, debug, or silent")
	root.PersistentFlags().String("state-dir", "", "override the state base directory")
	root.PersistentFlags().String("output-dir", "", "override the output base directory")
	root.PersistentFlags().String("env-file", ".env", "dotenv file to load before authenticating")

	_ = v.BindPFlags(root.PersistentFlags())
	v.SetEnvPrefix("CRAWLER")
	v.AutomaticEnv()

	root.AddCommand(newCrawlCmd(), newHistoryCmd(), newReportCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFromError(err))
	}
}

// runtimeOverridesFromFlags builds the RuntimeConfig override Resolve merges
// onto defaults, from whatever viper resolved out of flags and CRAWLER_* env.
func runtimeOverridesFromFlags() config.RuntimeConfig {
	return config.RuntimeConfig{
		OutputBaseDir:  v.GetString("output-dir"),
		StateBaseDir:   v.GetString("state-dir"),
		MaxConcurrency: v.GetInt("concurrency"),
		PauseOnError:   v.GetBool("pause-on-error"),
		IgnoreMismatch: v.GetBool("ignore-mismatch"),
		LogLevel:       config.LogLevel(v.GetString("log-level")),
		Progress:       config.ProgressSettings{Enable: v.GetBool("progress")},
	}
}

func newLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	switch config.LogLevel(v.GetString("log-level")) {
	case config.LogDebug:
		level = zapcore.DebugLevel
	case config.LogSilent:
		level = zapcore.FatalLevel + 1
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func loadEnvFile(path string) {
	if path == "" {
		return
	}
	_ = godotenv.Load(path)
}

func nowUTC() time.Time { return time.Now().UTC() }

func exitCodeFromError(err error) int {
	return crawlerr.ExitCodeFor(err)
}
