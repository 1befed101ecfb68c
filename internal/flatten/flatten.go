// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package flatten

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Separator joins a parent path and a child key.
const Separator = "."

// ValueClass is the kind of a flattened leaf value.
type ValueClass int

const (
	Numeric ValueClass = iota + 1
	Textual
)

func (c ValueClass) String() string {
	switch c {
	case Numeric:
		return "numeric"
	case Textual:
		return "textual"
	default:
		return "unknown"
	}
}

// FlatEntry is one leaf of a Document addressed by its joined key path.
type FlatEntry struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// JoinPath appends key to parent, adding the separator only when parent is non-empty.
func JoinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + Separator + key
}

// Flatten walks doc depth-first and returns its leaves split by value class.
// Numeric values keep their json.Number form; every other leaf is rendered
// as text. Sequences are not descended into.
func Flatten(doc *Document) (numeric, textual []FlatEntry) {
	numeric = []FlatEntry{}
	textual = []FlatEntry{}
	if doc == nil {
		return numeric, textual
	}
	walk(doc, "", &numeric, &textual)
	return numeric, textual
}

func walk(doc *Document, parent string, numeric, textual *[]FlatEntry) {
	for _, m := range doc.members {
		path := JoinPath(parent, m.Key)
		if child, ok := m.Value.(*Document); ok {
			walk(child, path, numeric, textual)
			continue
		}
		if Classify(m.Value) == Numeric {
			*numeric = append(*numeric, FlatEntry{Path: path, Value: m.Value})
		} else {
			*textual = append(*textual, FlatEntry{Path: path, Value: Text(m.Value)})
		}
	}
}

// Classify reports the class of a leaf value. Booleans are textual.
func Classify(v any) ValueClass {
	switch v.(type) {
	case json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return Numeric
	default:
		return Textual
	}
}

// Text renders a textual leaf. null becomes "null" and sequences become
// compact JSON.
func Text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	}
	b, err := marshalCompact(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// LeafCount returns the number of non-mapping values in doc, at any depth.
func LeafCount(doc *Document) int {
	if doc == nil {
		return 0
	}
	n := 0
	for _, m := range doc.members {
		if child, ok := m.Value.(*Document); ok {
			n += LeafCount(child)
			continue
		}
		n++
	}
	return n
}
