// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/netSkope/phantom-qa-tool/internal/exporter"
	"github.com/netSkope/phantom-qa-tool/internal/publish"
	"github.com/spf13/cobra"
)

func NewFlattenCmd(g *globals) *cobra.Command {
	var sel selection
	var folder, format, output string

	cmd := &cobra.Command{
		Use:   "flatten",
		Short: "Print the records a publish would post, without contacting the web service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "csv" {
				return fmt.Errorf("unsupported format %q (must be json or csv)", format)
			}

			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			// no transport needed for a dry run
			p := publish.New(cfg, nil, logger)
			prev, err := p.Preview(cmd.Context(), publish.Request{
				ResultFolder: folder,
				SiteID:       sel.site,
				DeviceID:     sel.device,
				PhantomID:    sel.phantom,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				if output == "" {
					return writePreviewJSON(out, prev)
				}
				if err := writePreviewJSONFile(output, prev); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %d records to %s\n", len(prev.Numeric)+len(prev.Textual), output)
				return nil
			}

			records := append(prev.Numeric, prev.Textual...)
			if output == "" {
				return exporter.WriteCSV(out, records)
			}
			f, err := exporter.WriteCSVFile(output, records)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote %d records to %s\n", f.RowCount, f.FilePath)
			return nil
		},
	}

	sel.register(cmd)
	cmd.Flags().StringVar(&folder, "folder", "", "Result folder containing result.json")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the records to this file instead of stdout")
	_ = cmd.MarkFlagRequired("folder")
	return cmd
}

func writePreviewJSON(w io.Writer, prev *publish.Preview) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(prev)
}

func writePreviewJSONFile(path string, prev *publish.Preview) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := writePreviewJSON(f, prev); err != nil {
		f.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return f.Close()
}
