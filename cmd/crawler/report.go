package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/report"
	"github.com/blockcrawl/crawler/internal/state"
)

func newReportCmd() *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "report <host>",
		Short: "Export the run summary for a site host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := args[0]
			base := config.Default().Merge(runtimeOverridesFromFlags())
			stateDir := filepath.Join(base.StateBaseDir, host)

			meta, err := state.ReadSiteMeta(filepath.Join(stateDir, "meta.json"))
			if err != nil {
				return fmt.Errorf("load meta.json: %w", err)
			}
			free, err := state.LoadFree(filepath.Join(stateDir, "free.json"))
			if err != nil {
				return fmt.Errorf("load free.json: %w", err)
			}
			mismatch, err := state.LoadMismatch(filepath.Join(stateDir, "mismatch.json"))
			if err != nil {
				return fmt.Errorf("load mismatch.json: %w", err)
			}

			doc := report.Build(host, meta, free, mismatch)

			if out == "" {
				out = fmt.Sprintf("%s-report.%s", host, extensionFor(report.Format(format)))
			}
			if err := report.Write(doc, report.Format(format), out); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "text, csv, or xlsx")
	cmd.Flags().StringVar(&out, "out", "", "output file path (default: <host>-report.<ext>)")
	return cmd
}

func extensionFor(format report.Format) string {
	switch format {
	case report.FormatXLSX:
		return "xlsx"
	case report.FormatCSV:
		return "csv"
	default:
		return "txt"
	}
}
