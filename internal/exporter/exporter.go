// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/netSkope/phantom-qa-tool/internal/flatten"
	"github.com/netSkope/phantom-qa-tool/internal/record"
)

// WriteCSV writes records to w with a header row.
func WriteCSV(w io.Writer, records []record.ExportRecord) error {
	data, err := recordsToCSVBytes(records, true)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// WriteCSVFile writes records to path, creating parent directories.
// The file is replaced atomically.
func WriteCSVFile(path string, records []record.ExportRecord) (*CSVFile, error) {
	data, err := recordsToCSVBytes(records, true)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to move CSV file into place: %w", err)
	}

	return &CSVFile{
		FilePath: path,
		RowCount: len(records),
	}, nil
}

// recordsToCSVBytes converts records to CSV bytes in memory.
func recordsToCSVBytes(records []record.ExportRecord, includeHeader bool) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if includeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
	}

	for _, r := range records {
		row := []string{
			r.Key,
			flatten.Text(r.Value),
			r.DeviceID,
			r.App,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return buf.Bytes(), nil
}
