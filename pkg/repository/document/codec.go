package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// timeKey tags timestamps inside encoded document data so they decode back to time.Time.
const timeKey = "$time"

type documentJSON struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data"`
}

// MarshalJSON encodes the document keeping value types recoverable: integers stay
// integers and timestamps are tagged.
func (d Document) MarshalJSON() ([]byte, error) {
	data, _ := encodeTyped(d.Data).(map[string]any)
	return json.Marshal(documentJSON{Collection: d.Collection, ID: d.ID, Data: data})
}

// UnmarshalJSON reverses MarshalJSON.
func (d *Document) UnmarshalJSON(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var wire documentJSON
	if err := dec.Decode(&wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWrite, err)
	}
	data, err := decodeTyped(wire.Data)
	if err != nil {
		return err
	}
	d.Collection = wire.Collection
	d.ID = wire.ID
	d.Data, _ = data.(map[string]any)
	return nil
}

func encodeTyped(v any) any {
	switch t := normalizeValue(v).(type) {
	case time.Time:
		return map[string]any{timeKey: t.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		if t == nil {
			return nil
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = encodeTyped(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = encodeTyped(item)
		}
		return out
	default:
		return t
	}
}

func decodeTyped(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return normalizeValue(t), nil
	case map[string]any:
		if raw, ok := t[timeKey]; ok && len(t) == 1 {
			s, _ := raw.(string)
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("%w: bad timestamp %q", ErrInvalidWrite, s)
			}
			return ts, nil
		}
		for k, item := range t {
			dv, err := decodeTyped(item)
			if err != nil {
				return nil, err
			}
			t[k] = dv
		}
		return t, nil
	case []any:
		for i, item := range t {
			dv, err := decodeTyped(item)
			if err != nil {
				return nil, err
			}
			t[i] = dv
		}
		return t, nil
	default:
		return v, nil
	}
}
