// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/netSkope/phantom-qa-tool/internal/publish"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// selection is the site/device/phantom triple most commands take.
type selection struct {
	site    string
	device  string
	phantom string
}

func (s *selection) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.site, "site", "", "Site id")
	cmd.Flags().StringVar(&s.device, "device", "", "Device id")
	cmd.Flags().StringVar(&s.phantom, "phantom", "", "Phantom id")
}

func NewPublishCmd(g *globals) *cobra.Command {
	var sel selection
	var folder string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload a result folder and post its records to the web service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if err := cfg.ValidateSelection(sel.site, sel.device, sel.phantom); err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd.Context(), timeout)
			defer cancel()

			pl, err := newPipeline(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pl.Close()

			out := cmd.OutOrStdout()
			res, err := pl.publisher.Run(ctx, publish.Request{
				ResultFolder: folder,
				SiteID:       sel.site,
				DeviceID:     sel.device,
				PhantomID:    sel.phantom,
			}, printer(out))
			if err != nil {
				logger.Error("Publish failed", zap.Error(err))
				return err
			}
			printSummary(out, res)
			return nil
		},
	}

	sel.register(cmd)
	cmd.Flags().StringVar(&folder, "folder", "", "Result folder containing result.json")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall time limit (0 = none)")
	_ = cmd.MarkFlagRequired("folder")
	return cmd
}

// commandContext bounds parent by timeout when it is positive.
func commandContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

// printer writes progress messages to w, one per line.
func printer(w io.Writer) publish.LogFunc {
	return func(msg string) {
		fmt.Fprintln(w, msg)
	}
}

func printSummary(w io.Writer, res *publish.Result) {
	fmt.Fprintf(w, "\n=== Publish Summary ===\n")
	fmt.Fprintf(w, "Run ID: %s\n", res.RunID)
	fmt.Fprintf(w, "Uploaded file: %s\n", res.FileName)
	if res.DocumentID != "" {
		fmt.Fprintf(w, "Result document: %s\n", res.DocumentID)
	}
	if res.MirrorKey != "" {
		fmt.Fprintf(w, "S3 mirror: %s\n", res.MirrorKey)
	}
	fmt.Fprintf(w, "Numeric records: %d\n", res.NumericCount)
	fmt.Fprintf(w, "Textual records: %d\n", res.TextualCount)
	fmt.Fprintf(w, "Elapsed: %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "=======================\n")
}
