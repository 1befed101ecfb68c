// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"github.com/netSkope/phantom-qa-tool/internal/flatten"
	"github.com/netSkope/phantom-qa-tool/internal/record"
)

// Preview holds the records a run would post, without the uploaded file name.
type Preview struct {
	Numeric []record.ExportRecord `json:"numeric"`
	Textual []record.ExportRecord `json:"textual"`
}

// Preview reads and flattens the result document of req without touching the
// network or the temp folder.
func (p *Publisher) Preview(ctx context.Context, req Request) (*Preview, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(req.ResultFolder, ResultFile)
	if _, err := os.Stat(path); err != nil {
		return nil, apperr.Validation("preview", "the %s file does not exist, run the analysis first", ResultFile)
	}
	doc, err := flatten.ReadDocument(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result document: %w", err)
	}

	numeric, textual, err := p.records(doc, req)
	if err != nil {
		return nil, err
	}
	return &Preview{Numeric: numeric, Textual: textual}, nil
}
