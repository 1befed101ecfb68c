// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package cli

import (
	"fmt"
	"runtime"

	"github.com/netSkope/phantom-qa-tool/internal/config"
	applog "github.com/netSkope/phantom-qa-tool/internal/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configFile string
	logStderr  bool
	flags      config.Flags
}

// NewRootCmd builds the phantomqa command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "phantomqa",
		Short:         "Run phantom QA analyses and publish their results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configFile, "config", config.DefaultConfigFile, "Path to the configuration file (YAML or JSON)")
	pf.BoolVar(&g.flags.Debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&g.logStderr, "log-stderr", false, "Write logs to stderr instead of the log directory")
	pf.StringVar(&g.flags.LogDir, "log-dir", "", "Directory for log files")
	pf.StringVar(&g.flags.WebserviceURL, "webservice-url", "", "Base URL of the results web service")
	pf.StringVar(&g.flags.TempFolder, "temp-folder", "", "Directory for upload archives")
	pf.StringVar(&g.flags.OutputFolder, "output-folder", "", "Root directory of analysis case folders")
	pf.IntVar(&g.flags.HTTPTimeout, "http-timeout", 0, "HTTP request timeout in seconds")

	cmd.AddCommand(NewPublishCmd(g))
	cmd.AddCommand(NewAnalyzeCmd(g))
	cmd.AddCommand(NewFlattenCmd(g))
	cmd.AddCommand(NewServeCmd(g))
	cmd.AddCommand(NewHistoryCmd(g))
	cmd.AddCommand(NewVersionCmd())

	cmd.SetVersionTemplate(fmt.Sprintf("%s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH))
	cmd.Version = Version

	return cmd
}

// load reads the configuration and builds the logger.
func (g *globals) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(g.configFile, g.flags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := applog.NewLogger(cfg.LogDir, "phantomqa", cfg.Debug, g.logStderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Debug("Configuration loaded",
		zap.String("config", cfg.Path()),
		zap.String("webservice_url", cfg.WebserviceURL),
		zap.String("temp_folder", cfg.TempFolder))
	return cfg, logger, nil
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
