// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package phantom

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
)

// StampLayout formats the case folder name from the acquisition time.
const StampLayout = "20060102_150405"

// Stamp returns the case folder name for t.
func Stamp(t time.Time) string {
	return t.Format(StampLayout)
}

// CaseFolder returns <outputRoot>/<site>_<device>_<phantom>/<stamp>, creating it if missing.
func CaseFolder(outputRoot, site, device, phantom, stamp string) (string, error) {
	if outputRoot == "" {
		return "", apperr.Validation("case folder", "output folder is not configured")
	}
	if stamp == "" {
		return "", apperr.Validation("case folder", "case stamp is required")
	}
	name := strings.ToLower(site) + "_" + strings.ToLower(device) + "_" + strings.ToLower(phantom)
	dir := filepath.Join(outputRoot, name, stamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create case folder: %w", err)
	}
	return dir, nil
}

// Inputs locates the staged analysis input: a single file for 2D phantoms,
// a folder of numbered files for 3D phantoms.
type Inputs struct {
	File string
	Dir  string
}

// StageInputs copies the selected images into caseDir. A 2D phantom takes
// exactly one image, copied to input.dcm; a 3D series is copied to
// input_000.dcm, input_001.dcm, ... in the given order.
func StageInputs(files []string, caseDir string, dim int) (Inputs, error) {
	if len(files) == 0 {
		return Inputs{}, apperr.Validation("stage inputs", "please select the phantom images first")
	}

	switch dim {
	case 2:
		if len(files) != 1 {
			return Inputs{}, apperr.Validation("stage inputs", "a 2D phantom takes one image, got %d", len(files))
		}
		dst := filepath.Join(caseDir, "input.dcm")
		if err := copyFile(files[0], dst); err != nil {
			return Inputs{}, err
		}
		return Inputs{File: dst}, nil
	case 3:
		for i, src := range files {
			dst := filepath.Join(caseDir, fmt.Sprintf("input_%03d.dcm", i))
			if err := copyFile(src, dst); err != nil {
				return Inputs{}, err
			}
		}
		return Inputs{Dir: caseDir}, nil
	default:
		return Inputs{}, apperr.Validation("stage inputs", "unsupported phantom dimension %d", dim)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open input image: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// ConfigPath returns <dir>/config.<site>.<device>.<phantom>.json and checks that it exists.
func ConfigPath(dir, site, device, phantom string) (string, error) {
	name := fmt.Sprintf("config.%s.%s.%s.json",
		strings.ToLower(site), strings.ToLower(device), strings.ToLower(phantom))
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", apperr.Validation("phantom config", "phantom config file not found: %s", path)
	}
	return path, nil
}

// PublishParams are the report settings read from a phantom config file.
type PublishParams struct {
	Metadata map[string]any `json:"metadata"`
	Notes    string         `json:"notes"`
}

// ReadPublishParams reads publish_pdf_params from a phantom config file.
func ReadPublishParams(path string) (PublishParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PublishParams{}, fmt.Errorf("failed to read phantom config: %w", err)
	}
	var doc struct {
		PublishPDFParams *PublishParams `json:"publish_pdf_params"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return PublishParams{}, apperr.Data("read phantom config", err)
	}
	if doc.PublishPDFParams == nil {
		return PublishParams{}, apperr.Data("read phantom config",
			fmt.Errorf("%s has no publish_pdf_params", filepath.Base(path)))
	}
	params := *doc.PublishPDFParams
	if params.Metadata == nil {
		params.Metadata = map[string]any{}
	}
	return params, nil
}
