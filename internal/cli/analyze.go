// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package cli

import (
	"fmt"
	"time"

	"github.com/netSkope/phantom-qa-tool/internal/phantom"
	"github.com/netSkope/phantom-qa-tool/internal/publish"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewAnalyzeCmd(g *globals) *cobra.Command {
	var sel selection
	var images []string
	var performedBy, notes string
	var andPublish bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the phantom analysis on a set of images",
		Long: "Copies the images into a new case folder under the output folder, runs the\n" +
			"analysis program configured for the phantom and optionally publishes the results.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if cfg.OutputFolder == "" {
				return fmt.Errorf("output_folder is required to run an analysis")
			}

			reg, err := phantom.FromConfig(cfg.Phantoms, logger)
			if err != nil {
				return fmt.Errorf("failed to build phantom registry: %w", err)
			}

			ctx, cancel := commandContext(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			runner := phantom.NewRunner(reg, cfg, logger)
			caseDir, err := runner.Run(ctx, phantom.Request{
				Site:        sel.site,
				Device:      sel.device,
				Phantom:     sel.phantom,
				Images:      images,
				PerformedBy: performedBy,
				PerformedAt: time.Now(),
				Notes:       notes,
			}, printer(out))
			if err != nil {
				logger.Error("Analysis failed", zap.Error(err))
				return err
			}
			fmt.Fprintf(out, "Analysis results written to %s\n", caseDir)

			if !andPublish {
				return nil
			}

			pl, err := newPipeline(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pl.Close()

			res, err := pl.publisher.Run(ctx, publish.Request{
				ResultFolder: caseDir,
				SiteID:       sel.site,
				DeviceID:     sel.device,
				PhantomID:    sel.phantom,
			}, printer(out))
			if err != nil {
				return err
			}
			printSummary(out, res)
			return nil
		},
	}

	sel.register(cmd)
	cmd.Flags().StringArrayVar(&images, "image", nil, "Input image (repeat for a 3D series)")
	cmd.Flags().StringVar(&performedBy, "user", "", "Name of the person performing the QA")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-text notes passed to the analysis")
	cmd.Flags().BoolVar(&andPublish, "publish", false, "Publish the results after a successful analysis")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall time limit (0 = none)")
	return cmd
}
