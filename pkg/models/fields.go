// Package models holds the typed records of the application collections. Every Parse
// function fails with ErrMalformedDocument when a required field is missing or has the
// wrong type, instead of letting zero values leak into rendering.
package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/signalmax/signalmax/pkg/repository/document"
)

// ErrMalformedDocument reports a document that does not fit its record type.
var ErrMalformedDocument = errors.New("malformed document")

func malformed(d document.Document, field, reason string) error {
	return fmt.Errorf("%w: %s: field %q %s", ErrMalformedDocument, d.Path(), field, reason)
}

// fields reads typed values from a document and remembers the first failure.
type fields struct {
	doc document.Document
	err error
}

func read(d document.Document) *fields { return &fields{doc: d} }

func (f *fields) fail(field, reason string) {
	if f.err == nil {
		f.err = malformed(f.doc, field, reason)
	}
}

func (f *fields) lookup(field string, required bool) (any, bool) {
	v, ok := f.doc.Value(field)
	if !ok || v == nil {
		if required {
			f.fail(field, "is required")
		}
		return nil, false
	}
	return v, true
}

func (f *fields) str(field string, required bool) string {
	v, ok := f.lookup(field, required)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		f.fail(field, fmt.Sprintf("must be a string, got %T", v))
		return ""
	}
	if required && strings.TrimSpace(s) == "" {
		f.fail(field, "must not be empty")
	}
	return s
}

func (f *fields) boolean(field string) bool {
	v, ok := f.lookup(field, false)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		f.fail(field, fmt.Sprintf("must be a boolean, got %T", v))
	}
	return b
}

func (f *fields) float(field string, required bool) float64 {
	v, ok := f.lookup(field, required)
	if !ok {
		return 0
	}
	n, ok := toFloat(v)
	if !ok {
		f.fail(field, fmt.Sprintf("must be a number, got %T", v))
	}
	return n
}

func (f *fields) integer(field string) int64 {
	v, ok := f.lookup(field, false)
	if !ok {
		return 0
	}
	n, ok := toFloat(v)
	if !ok || n != math.Trunc(n) {
		f.fail(field, fmt.Sprintf("must be an integer, got %v", v))
		return 0
	}
	return int64(n)
}

func (f *fields) time(field string, required bool) time.Time {
	v, ok := f.lookup(field, required)
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			f.fail(field, "must be an RFC 3339 timestamp")
		}
		return parsed.UTC()
	default:
		f.fail(field, fmt.Sprintf("must be a timestamp, got %T", v))
		return time.Time{}
	}
}

func (f *fields) strings(field string) []string {
	v, ok := f.lookup(field, false)
	if !ok {
		return nil
	}
	switch arr := v.(type) {
	case []string:
		return append([]string(nil), arr...)
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			s, ok := item.(string)
			if !ok {
				f.fail(field, fmt.Sprintf("must hold strings, got %T", item))
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		f.fail(field, fmt.Sprintf("must be an array, got %T", v))
		return nil
	}
}

func (f *fields) floats(field string) []float64 {
	v, ok := f.lookup(field, false)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		if typed, ok := v.([]float64); ok {
			return append([]float64(nil), typed...)
		}
		f.fail(field, fmt.Sprintf("must be an array, got %T", v))
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		n, ok := toFloat(item)
		if !ok {
			f.fail(field, fmt.Sprintf("must hold numbers, got %T", item))
			return nil
		}
		out = append(out, n)
	}
	return out
}

func (f *fields) object(field string) map[string]any {
	v, ok := f.lookup(field, false)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		f.fail(field, fmt.Sprintf("must be an object, got %T", v))
	}
	return m
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
