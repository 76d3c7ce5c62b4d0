package document

import (
	"fmt"
	"strings"
)

// WriteKind identifies a batch entry.
type WriteKind string

const (
	WriteSet    WriteKind = "set"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// Write is one entry of an atomic batch.
//
// Set replaces the document (creating it when missing). Update merges Data into an
// existing document and fails the whole batch with ErrNotFound when it does not exist.
// Data keys may be dotted paths; values may be Transforms.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Data       map[string]any
}

// Path returns "collection/id".
func (w Write) Path() string {
	return w.Collection + "/" + w.ID
}

func Set(collection, id string, data map[string]any) Write {
	return Write{Kind: WriteSet, Collection: collection, ID: id, Data: data}
}

func Update(collection, id string, fields map[string]any) Write {
	return Write{Kind: WriteUpdate, Collection: collection, ID: id, Data: fields}
}

func Delete(collection, id string) Write {
	return Write{Kind: WriteDelete, Collection: collection, ID: id}
}

// DeleteDocs builds one delete entry per document.
func DeleteDocs(docs []Document) []Write {
	out := make([]Write, 0, len(docs))
	for _, d := range docs {
		out = append(out, Delete(d.Collection, d.ID))
	}
	return out
}

func (w Write) validate() error {
	if strings.TrimSpace(w.Collection) == "" || strings.TrimSpace(w.ID) == "" {
		return documentError(ErrInvalidWrite, "collection and id are required")
	}
	switch w.Kind {
	case WriteSet, WriteDelete:
	case WriteUpdate:
		if len(w.Data) == 0 {
			return documentError(ErrInvalidWrite, "update of "+w.Path()+" has no fields")
		}
	default:
		return documentError(ErrInvalidWrite, "unknown write kind "+string(w.Kind))
	}
	return nil
}

// ValidateWrites checks every entry of a batch before anything is applied.
func ValidateWrites(writes []Write) error {
	for _, w := range writes {
		if err := w.validate(); err != nil {
			return err
		}
	}
	return nil
}

type transformOp string

const (
	opIncrement   transformOp = "increment"
	opArrayUnion  transformOp = "arrayUnion"
	opArrayRemove transformOp = "arrayRemove"
)

// Transform is a server-side field operation applied during Set/Update.
type Transform struct {
	op     transformOp
	delta  any
	values []any
}

// Increment adds n (int or float) to a numeric field; a missing field counts as zero.
func Increment(n any) Transform {
	return Transform{op: opIncrement, delta: normalizeValue(n)}
}

// ArrayUnion appends values not already present in an array field.
func ArrayUnion(values ...any) Transform {
	return Transform{op: opArrayUnion, values: values}
}

// ArrayRemove drops every occurrence of values from an array field.
func ArrayRemove(values ...any) Transform {
	return Transform{op: opArrayRemove, values: values}
}

func (t Transform) apply(current any, present bool) (any, error) {
	switch t.op {
	case opIncrement:
		base := any(int64(0))
		if present {
			base = normalizeValue(current)
		}
		return addNumbers(base, t.delta)
	case opArrayUnion:
		arr := toArray(current)
		for _, v := range t.values {
			if !containsValue(arr, v) {
				arr = append(arr, v)
			}
		}
		return arr, nil
	case opArrayRemove:
		arr := toArray(current)
		out := make([]any, 0, len(arr))
		for _, v := range arr {
			if !containsValue(t.values, v) {
				out = append(out, v)
			}
		}
		return out, nil
	default:
		return nil, documentError(ErrInvalidWrite, "unknown transform")
	}
}

func addNumbers(a, b any) (any, error) {
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return av + bv, nil
		case float64:
			return float64(av) + bv, nil
		}
	case float64:
		switch bv := b.(type) {
		case int64:
			return av + float64(bv), nil
		case float64:
			return av + bv, nil
		}
	}
	return nil, documentError(ErrInvalidWrite, fmt.Sprintf("cannot increment %T by %T", a, b))
}

func toArray(v any) []any {
	switch arr := v.(type) {
	case []any:
		return append([]any(nil), arr...)
	case []string:
		out := make([]any, 0, len(arr))
		for _, s := range arr {
			out = append(out, s)
		}
		return out
	}
	return []any{}
}

func containsValue(arr []any, v any) bool {
	for _, item := range arr {
		if CompareValues(item, v) == 0 {
			return true
		}
	}
	return false
}

// ApplyFields merges fields into a copy of data, resolving transforms.
func ApplyFields(data, fields map[string]any) (map[string]any, error) {
	out := cloneMap(data)
	for path, value := range fields {
		if t, ok := value.(Transform); ok {
			current, present := lookupPath(out, path)
			next, err := t.apply(current, present)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", path, err)
			}
			value = next
		} else {
			value = cloneValue(value)
		}
		setPath(out, path, value)
	}
	return out, nil
}

func lookupPath(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}
	if v, ok := data[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := data
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
