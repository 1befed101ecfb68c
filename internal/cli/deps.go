// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package cli

import (
	"context"
	"fmt"

	"github.com/netSkope/phantom-qa-tool/internal/config"
	"github.com/netSkope/phantom-qa-tool/internal/metrics"
	"github.com/netSkope/phantom-qa-tool/internal/publish"
	"github.com/netSkope/phantom-qa-tool/internal/s3"
	"github.com/netSkope/phantom-qa-tool/internal/store"
	"github.com/netSkope/phantom-qa-tool/internal/util"
	"github.com/netSkope/phantom-qa-tool/internal/webservice"
	"go.uber.org/zap"
)

// pipeline bundles a publisher with the optional collaborators it was built with.
type pipeline struct {
	publisher *publish.Publisher
	journal   *store.Journal
	metrics   *metrics.Recorder
}

func (p *pipeline) Close() {
	if p.journal != nil {
		_ = p.journal.Close()
	}
}

// newPipeline wires the web service client, S3 mirror, journal and metrics
// configured in cfg.
func newPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipeline, error) {
	if err := cfg.ValidateWebservice(); err != nil {
		return nil, err
	}

	token, err := util.ResolveWebserviceToken(ctx, cfg.WebserviceToken, cfg.WebserviceTokenSecret, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve web service token: %w", err)
	}
	client := webservice.NewClient(cfg.HTTPTimeout(),
		webservice.WithToken(token),
		webservice.WithLogger(logger))

	p := &pipeline{metrics: metrics.NewRecorder()}
	opts := []publish.Option{publish.WithMetrics(p.metrics)}

	if cfg.S3Bucket != "" {
		mirror, err := s3.NewMirror(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 mirror: %w", err)
		}
		opts = append(opts, publish.WithMirror(mirror))
	}

	if cfg.JournalDriver != "" {
		j, err := store.Open(cfg.JournalDriver, cfg.JournalDSN, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		p.journal = j
		opts = append(opts, publish.WithJournal(j))
	}

	p.publisher = publish.New(cfg, client, logger, opts...)
	return p, nil
}
