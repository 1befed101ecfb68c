// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/netSkope/phantom-qa-tool/internal/store"
	"github.com/spf13/cobra"
)

func NewHistoryCmd(g *globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent publish runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cfg.JournalDriver == "" {
				return fmt.Errorf("journal_driver is not configured")
			}
			j, err := store.Open(cfg.JournalDriver, cfg.JournalDSN, 0)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer j.Close()

			runs, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tSITE\tDEVICE\tPHANTOM\tSTATUS\tRECORDS\tFILE\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					r.StartedAt.Local().Format(time.DateTime), r.Site, r.Device, r.Phantom,
					r.Status, r.NumericCount, r.TextualCount, r.FileName, r.Error)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	return cmd
}
