// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package flatten

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
)

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	doc, err := ParseDocument([]byte(s))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	return doc
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantNumeric []FlatEntry
		wantTextual []FlatEntry
	}{
		{
			name:  "scalar leaves at depth 1",
			input: `{"mtf": 0.5, "count": 3, "status": "pass"}`,
			wantNumeric: []FlatEntry{
				{Path: "mtf", Value: json.Number("0.5")},
				{Path: "count", Value: json.Number("3")},
			},
			wantTextual: []FlatEntry{
				{Path: "status", Value: "pass"},
			},
		},
		{
			name:  "nested mapping",
			input: `{"a": {"b": 1, "c": "x"}}`,
			wantNumeric: []FlatEntry{
				{Path: "a.b", Value: json.Number("1")},
			},
			wantTextual: []FlatEntry{
				{Path: "a.c", Value: "x"},
			},
		},
		{
			name:        "booleans, null and sequences are textual",
			input:       `{"ok": true, "note": null, "rois": [1, "b", {"z": 2}]}`,
			wantNumeric: []FlatEntry{},
			wantTextual: []FlatEntry{
				{Path: "ok", Value: "true"},
				{Path: "note", Value: "null"},
				{Path: "rois", Value: `[1,"b",{"z":2}]`},
			},
		},
		{
			name:        "empty mapping has no leaves",
			input:       `{"a": {}, "b": {"c": {}}}`,
			wantNumeric: []FlatEntry{},
			wantTextual: []FlatEntry{},
		},
		{
			name:  "document order is kept",
			input: `{"z": 1, "y": {"x": 2, "w": 3}, "a": 4}`,
			wantNumeric: []FlatEntry{
				{Path: "z", Value: json.Number("1")},
				{Path: "y.x", Value: json.Number("2")},
				{Path: "y.w", Value: json.Number("3")},
				{Path: "a", Value: json.Number("4")},
			},
			wantTextual: []FlatEntry{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			numeric, textual := Flatten(mustParse(t, tt.input))
			if !reflect.DeepEqual(numeric, tt.wantNumeric) {
				t.Errorf("numeric = %#v, want %#v", numeric, tt.wantNumeric)
			}
			if !reflect.DeepEqual(textual, tt.wantTextual) {
				t.Errorf("textual = %#v, want %#v", textual, tt.wantTextual)
			}
		})
	}
}

func TestFlatten_MeasurementScenario(t *testing.T) {
	doc := mustParse(t, `{"measurement":{"temperature":25.4,"humidity":60,"label":"ok"}}`)
	numeric, textual := Flatten(doc)

	if len(numeric) != 2 || len(textual) != 1 {
		t.Fatalf("got %d numeric, %d textual entries", len(numeric), len(textual))
	}
	if numeric[0].Path != "measurement.temperature" || numeric[0].Value != json.Number("25.4") {
		t.Errorf("unexpected first numeric entry %+v", numeric[0])
	}
	if numeric[1].Path != "measurement.humidity" || numeric[1].Value != json.Number("60") {
		t.Errorf("unexpected second numeric entry %+v", numeric[1])
	}
	if textual[0].Path != "measurement.label" || textual[0].Value != "ok" {
		t.Errorf("unexpected textual entry %+v", textual[0])
	}
}

func TestFlatten_CoversEveryLeafOnce(t *testing.T) {
	inputs := []string{
		`{}`,
		`{"a": 1}`,
		`{"measurement": {"temperature": 25.4, "pressure": 101.3, "details": {"humidity": 60, "altitude": 300.2,
			"complex_data": {"value-1": 42.0, "value 2": 19.5, "Value!": 37}}}}`,
		`{"a": {"b": {"c": {"d": "deep"}}}, "e": [1, 2], "f": false, "g": null, "h": -1e-3}`,
	}

	for _, in := range inputs {
		doc := mustParse(t, in)
		numeric, textual := Flatten(doc)
		if got, want := len(numeric)+len(textual), LeafCount(doc); got != want {
			t.Errorf("%s: %d entries, want %d leaves", in, got, want)
		}

		seen := make(map[string]bool)
		for _, e := range append(append([]FlatEntry{}, numeric...), textual...) {
			if seen[e.Path] {
				t.Errorf("%s: path %q emitted twice", in, e.Path)
			}
			seen[e.Path] = true
		}
	}
}

func TestFlatten_Deterministic(t *testing.T) {
	in := `{"b": {"y": 2, "x": "t"}, "a": 1}`
	n1, t1 := Flatten(mustParse(t, in))
	n2, t2 := Flatten(mustParse(t, in))
	if !reflect.DeepEqual(n1, n2) || !reflect.DeepEqual(t1, t2) {
		t.Error("Flatten() is not deterministic")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		value any
		want  ValueClass
	}{
		{json.Number("1"), Numeric},
		{json.Number("2.5"), Numeric},
		{42, Numeric},
		{3.14, Numeric},
		{"42", Textual},
		{true, Textual},
		{nil, Textual},
		{[]any{1}, Textual},
	}

	for _, tt := range tests {
		if got := Classify(tt.value); got != tt.want {
			t.Errorf("Classify(%#v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseDocument_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"array at top level", `[1, 2]`},
		{"scalar at top level", `"x"`},
		{"truncated", `{"a": {"b": 1}`},
		{"trailing data", `{"a": 1} {"b": 2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			if !apperr.Is(err, apperr.KindData) {
				t.Errorf("expected data error, got %v", err)
			}
		})
	}
}

func TestDocument_SetAndMarshal(t *testing.T) {
	doc := mustParse(t, `{"b": 1.50, "a": {"y": "ok", "x": [true, null]}}`)
	doc.Set("file", "catphan_20240101.zip")
	doc.Set("b", json.Number("2"))

	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"b":2,"a":{"y":"ok","x":[true,null]},"file":"catphan_20240101.zip"}`
	if string(out) != want {
		t.Errorf("Marshal() = %s, want %s", out, want)
	}

	if v, ok := doc.Get("file"); !ok || v != "catphan_20240101.zip" {
		t.Errorf("Get(file) = %v, %v", v, ok)
	}
	if doc.Len() != 3 {
		t.Errorf("Len() = %d, want 3", doc.Len())
	}
}

func TestDocument_DuplicateKeyKeepsFirstPosition(t *testing.T) {
	doc := mustParse(t, `{"a": 1, "b": 2, "a": 3}`)
	numeric, _ := Flatten(doc)
	want := []FlatEntry{
		{Path: "a", Value: json.Number("3")},
		{Path: "b", Value: json.Number("2")},
	}
	if !reflect.DeepEqual(numeric, want) {
		t.Errorf("numeric = %#v, want %#v", numeric, want)
	}
}
