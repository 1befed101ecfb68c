// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package record

import (
	"strings"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"github.com/netSkope/phantom-qa-tool/internal/flatten"
)

// ExportRecord is a flattened result value shaped for the results web service.
// Numeric records post to number1ds, textual records to string1ds.
type ExportRecord struct {
	Key      string `json:"key"`
	Value    any    `json:"value"`
	DeviceID string `json:"device_id"`
	App      string `json:"app"`
}

// Build converts entries into export records, one per entry and in the same order.
func Build(entries []flatten.FlatEntry, keyPrefix, deviceID, app string) ([]ExportRecord, error) {
	if keyPrefix == "" {
		return nil, apperr.Validation("build records", "key prefix is required")
	}
	if deviceID == "" {
		return nil, apperr.Validation("build records", "device identifier is required")
	}

	records := make([]ExportRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, ExportRecord{
			Key:      keyPrefix + e.Path,
			Value:    e.Value,
			DeviceID: deviceID,
			App:      app,
		})
	}
	return records, nil
}

// DeviceIdentifier returns the "site|device" composite used to namespace results.
func DeviceIdentifier(site, device string) (string, error) {
	site = strings.TrimSpace(site)
	device = strings.TrimSpace(device)
	if site == "" {
		return "", apperr.Validation("device identifier", "site is required")
	}
	if device == "" {
		return "", apperr.Validation("device identifier", "device is required")
	}
	return site + "|" + device, nil
}

// KeyPrefix returns the record key prefix for a phantom, e.g. "catphan_".
func KeyPrefix(phantom string) string {
	phantom = strings.ToLower(strings.TrimSpace(phantom))
	if phantom == "" {
		return ""
	}
	return phantom + "_"
}

// AppIdentifier returns "name version", or just the name when version is empty.
func AppIdentifier(name, version string) string {
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if version == "" {
		return name
	}
	return name + " " + version
}
