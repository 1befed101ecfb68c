// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package phantom

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"github.com/netSkope/phantom-qa-tool/internal/config"
	"go.uber.org/zap"
)

// Job is the input handed to a phantom analysis.
type Job struct {
	Phantom    string         `json:"phantom"`
	DeviceID   string         `json:"device_id"`
	InputFile  string         `json:"input_file,omitempty"`
	InputDir   string         `json:"input_dir,omitempty"`
	OutputDir  string         `json:"output_dir"`
	ConfigPath string         `json:"config_path,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	Log func(string) `json:"-"`
}

func (j Job) log(msg string) {
	if j.Log != nil {
		j.Log(msg)
	}
}

// Analyzer runs the analysis for one phantom type and leaves result.json in
// the job's output folder.
type Analyzer interface {
	RunAnalysis(ctx context.Context, job Job) error
}

// Registry maps phantom ids to analyzers. Ids are case-insensitive.
type Registry struct {
	analyzers map[string]Analyzer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{analyzers: make(map[string]Analyzer)}
}

// Register adds an analyzer under id.
func (r *Registry) Register(id string, a Analyzer) error {
	key := strings.ToLower(strings.TrimSpace(id))
	if key == "" {
		return fmt.Errorf("phantom id is required")
	}
	if a == nil {
		return fmt.Errorf("phantom %s: analyzer is nil", id)
	}
	if _, dup := r.analyzers[key]; dup {
		return fmt.Errorf("phantom %s registered twice", id)
	}
	r.analyzers[key] = a
	return nil
}

// Lookup returns the analyzer for id.
func (r *Registry) Lookup(id string) (Analyzer, error) {
	a, ok := r.analyzers[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, apperr.Validation("phantom lookup", "no analysis registered for phantom %q", id)
	}
	return a, nil
}

// IDs returns the registered phantom ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.analyzers))
	for id := range r.analyzers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FromConfig builds a registry with one ExecAnalyzer per configured phantom.
// Phantoms without a command are registered but fail when run.
func FromConfig(phantoms []config.Phantom, logger *zap.Logger) (*Registry, error) {
	reg := NewRegistry()
	for _, p := range phantoms {
		var a Analyzer = unconfigured(p.ID)
		if len(p.Command) > 0 {
			a = &ExecAnalyzer{Command: p.Command, Logger: logger}
		}
		if err := reg.Register(p.ID, a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

type unconfigured string

func (u unconfigured) RunAnalysis(ctx context.Context, job Job) error {
	return apperr.Validation("run analysis", "no analysis program configured for phantom %s", string(u))
}
