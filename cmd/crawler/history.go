package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blockcrawl/crawler/internal/config"
	"github.com/blockcrawl/crawler/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <host>",
		Short: "List past runs recorded for a site host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := args[0]
			base := config.Default().Merge(runtimeOverridesFromFlags())
			historyFile := filepath.Join(base.StateBaseDir, "history.db")

			store, err := history.Open(historyFile)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(host)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Printf("no runs recorded for %s\n", host)
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  started=%s  complete=%t  links=%d/%d blocks  failed=%d  free=%d/%d\n",
					e.RunID, e.StartedAt.Format("2006-01-02T15:04:05Z"), e.IsComplete,
					e.TotalLinks, e.TotalBlocks, e.Failed, e.FreeLinks, e.FreeBlocks)
			}
			return nil
		},
	}
	return cmd
}
