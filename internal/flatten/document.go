// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package flatten

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
)

// Member is one key/value pair of a Document.
type Member struct {
	Key   string
	Value any
}

// Document is a JSON object that keeps its members in insertion order.
// Values are *Document, []any, json.Number, string, bool or nil.
type Document struct {
	members []Member
	index   map[string]int
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{index: make(map[string]int)}
}

// Len returns the number of top-level members.
func (d *Document) Len() int {
	return len(d.members)
}

// Members returns the top-level members in order. The slice must not be modified.
func (d *Document) Members() []Member {
	return d.members
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (any, bool) {
	i, ok := d.index[key]
	if !ok {
		return nil, false
	}
	return d.members[i].Value, true
}

// Set replaces the value under key in place, or appends a new member.
func (d *Document) Set(key string, value any) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[key]; ok {
		d.members[i].Value = value
		return
	}
	d.index[key] = len(d.members)
	d.members = append(d.members, Member{Key: key, Value: value})
}

// MarshalJSON encodes the document with members in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range d.members {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalCompact(m.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := marshalCompact(m.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", m.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ReadDocument reads and parses a JSON document from path.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDocument(data)
}

// ParseDocument decodes a JSON object, preserving member order and the
// literal form of numbers.
func ParseDocument(data []byte) (*Document, error) {
	const op = "parse result document"

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, apperr.Data(op, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, apperr.Data(op, errors.New("top-level value must be an object"))
	}

	doc, err := decodeObject(dec)
	if err != nil {
		return nil, apperr.Data(op, err)
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, apperr.Data(op, errors.New("unexpected data after top-level object"))
	}
	return doc, nil
}

// decodeObject reads members up to and including the closing brace.
func decodeObject(dec *json.Decoder) (*Document, error) {
	doc := NewDocument()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		doc.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	items := []any{}
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		items = append(items, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return items, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		return decodeObject(dec)
	case '[':
		return decodeArray(dec)
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

// marshalCompact encodes v without HTML escaping or a trailing newline.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
