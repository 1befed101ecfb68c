// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package phantom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"github.com/netSkope/phantom-qa-tool/internal/config"
	"github.com/netSkope/phantom-qa-tool/internal/record"
	"go.uber.org/zap"
)

// Request selects a phantom analysis to run.
type Request struct {
	Site        string
	Device      string
	Phantom     string
	Images      []string
	PerformedBy string
	PerformedAt time.Time
	Notes       string
}

// Runner prepares a case folder and runs the registered analysis for a request.
type Runner struct {
	registry *Registry
	config   *config.Config
	logger   *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(reg *Registry, cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{registry: reg, config: cfg, logger: logger}
}

// Run stages the images, runs the analysis and returns the case folder holding
// the results.
func (r *Runner) Run(ctx context.Context, req Request, logf func(string)) (string, error) {
	if logf == nil {
		logf = func(string) {}
	}
	if err := r.config.ValidateSelection(req.Site, req.Device, req.Phantom); err != nil {
		return "", err
	}
	p, ok := r.config.Phantom(req.Phantom)
	if !ok {
		return "", apperr.Validation("run analysis", "phantom %s not found in the configuration", req.Phantom)
	}
	analyzer, err := r.registry.Lookup(p.ID)
	if err != nil {
		return "", err
	}
	deviceID, err := record.DeviceIdentifier(req.Site, req.Device)
	if err != nil {
		return "", err
	}

	cfgPath, err := ConfigPath(r.config.ConfigDir, req.Site, req.Device, p.ID)
	if err != nil {
		return "", err
	}
	params, err := ReadPublishParams(cfgPath)
	if err != nil {
		return "", err
	}
	performedAt := req.PerformedAt
	if performedAt.IsZero() {
		performedAt = time.Now()
	}
	params.Metadata["Performed By"] = req.PerformedBy
	params.Metadata["Performed Date"] = performedAt.Format("2006-01-02")

	caseDir, err := CaseFolder(r.config.OutputFolder, req.Site, req.Device, p.ID, Stamp(performedAt))
	if err != nil {
		return "", err
	}
	logf(fmt.Sprintf("case output folder=%s", caseDir))

	inputs, err := StageInputs(req.Images, caseDir, p.Dim)
	if err != nil {
		return "", err
	}

	job := Job{
		Phantom:    strings.ToLower(p.ID),
		DeviceID:   deviceID,
		InputFile:  inputs.File,
		InputDir:   inputs.Dir,
		OutputDir:  caseDir,
		ConfigPath: cfgPath,
		Notes:      joinNotes(req.Notes, params.Notes),
		Metadata:   params.Metadata,
		Log:        logf,
	}

	r.logger.Info("Starting analysis",
		zap.String("phantom", job.Phantom),
		zap.String("device_id", deviceID),
		zap.Int("images", len(req.Images)))

	if err := analyzer.RunAnalysis(ctx, job); err != nil {
		return caseDir, err
	}
	logf("Analysis completed.")
	return caseDir, nil
}

func joinNotes(user, configured string) string {
	user = strings.TrimSpace(user)
	configured = strings.TrimSpace(configured)
	switch {
	case user == "":
		return configured
	case configured == "":
		return user
	default:
		return user + "\n" + configured
	}
}
