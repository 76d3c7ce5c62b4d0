package document

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Cursor is an opaque position in an ordered result: the sort value of a document
// plus its id as tie-breaker.
type Cursor struct {
	Value any
	ID    string
}

// IsZero reports whether the cursor was never set.
func (c Cursor) IsZero() bool {
	return c.Value == nil && c.ID == ""
}

type cursorToken struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v,omitempty"`
	ID    string          `json:"id"`
}

// Encode renders the cursor as a URL-safe token.
func (c Cursor) Encode() (string, error) {
	tok := cursorToken{ID: c.ID}
	var raw any
	switch v := normalizeValue(c.Value).(type) {
	case nil:
		tok.Type = "null"
	case bool:
		tok.Type, raw = "bool", v
	case int64:
		tok.Type, raw = "int", v
	case float64:
		tok.Type, raw = "float", v
	case time.Time:
		tok.Type, raw = "time", v.UTC().Format(time.RFC3339Nano)
	case string:
		tok.Type, raw = "string", v
	default:
		return "", documentError(ErrInvalidCursor, fmt.Sprintf("unsupported cursor value %T", c.Value))
	}
	if raw != nil {
		b, err := json.Marshal(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		tok.Value = b
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor parses a token produced by Cursor.Encode.
func DecodeCursor(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, documentError(ErrInvalidCursor, "empty cursor")
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var tok cursorToken
	if err := json.Unmarshal(b, &tok); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	c := Cursor{ID: tok.ID}
	switch tok.Type {
	case "null":
		return c, nil
	case "bool":
		var v bool
		err = json.Unmarshal(tok.Value, &v)
		c.Value = v
	case "int":
		var v int64
		err = json.Unmarshal(tok.Value, &v)
		c.Value = v
	case "float":
		var v float64
		err = json.Unmarshal(tok.Value, &v)
		c.Value = v
	case "time":
		var s string
		if err = json.Unmarshal(tok.Value, &s); err == nil {
			var ts time.Time
			ts, err = time.Parse(time.RFC3339Nano, s)
			c.Value = ts
		}
	case "string":
		var v string
		err = json.Unmarshal(tok.Value, &v)
		c.Value = v
	default:
		return Cursor{}, documentError(ErrInvalidCursor, "unknown cursor type "+tok.Type)
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return c, nil
}

// Compare orders two cursors ascending: by value, then by id.
func (c Cursor) Compare(other Cursor) int {
	if n := CompareValues(c.Value, other.Value); n != 0 {
		return n
	}
	return strings.Compare(c.ID, other.ID)
}

// typeRank mirrors the cross-type ordering of Firestore-style stores:
// null < bool < number < timestamp < string < everything else.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

// CompareValues returns -1, 0 or 1. Values of different kinds compare by kind.
func CompareValues(a, b any) int {
	a, b = normalizeValue(a), normalizeValue(b)
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return cmpInt64(av, bv)
		}
		return cmpFloat(float64(av), b.(float64))
	case float64:
		if bv, ok := b.(int64); ok {
			return cmpFloat(av, float64(bv))
		}
		return cmpFloat(av, b.(float64))
	case time.Time:
		return av.Compare(b.(time.Time))
	case string:
		return strings.Compare(av, b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// normalizeValue folds the numeric zoo into int64/float64.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint:
		if uint64(n) > math.MaxInt64 {
			return float64(n)
		}
		return int64(n)
	case uint64:
		if n > math.MaxInt64 {
			return float64(n)
		}
		return int64(n)
	case float32:
		return float64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	case *time.Time:
		if n == nil {
			return nil
		}
		return *n
	default:
		return v
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
