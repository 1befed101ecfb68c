// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

// CSVFile represents a generated CSV file.
type CSVFile struct {
	FilePath string
	RowCount int
}

// csvHeader matches the JSON field names of record.ExportRecord.
var csvHeader = []string{"key", "value", "device_id", "app"}
