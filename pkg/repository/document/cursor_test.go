package document

import (
	"errors"
	"testing"
	"time"
)

func TestCursor_EncodeDecode(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 30, 0, 123, time.UTC)
	tests := []struct {
		name   string
		cursor Cursor
	}{
		{name: "null", cursor: Cursor{ID: "a"}},
		{name: "bool", cursor: Cursor{Value: true, ID: "b"}},
		{name: "int", cursor: Cursor{Value: int64(42), ID: "c"}},
		{name: "float", cursor: Cursor{Value: 4.5, ID: "d"}},
		{name: "time", cursor: Cursor{Value: ts, ID: "e"}},
		{name: "string", cursor: Cursor{Value: "hello", ID: "f/g"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := tt.cursor.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := DecodeCursor(token)
			if err != nil {
				t.Fatalf("DecodeCursor() error = %v", err)
			}
			if got.Compare(tt.cursor) != 0 {
				t.Fatalf("round trip mismatch: got %#v want %#v", got, tt.cursor)
			}
		})
	}
}

func TestCursor_EncodeNormalizesInts(t *testing.T) {
	token, err := Cursor{Value: 7, ID: "x"}.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("DecodeCursor() error = %v", err)
	}
	if v, ok := got.Value.(int64); !ok || v != 7 {
		t.Fatalf("expected int64(7), got %#v", got.Value)
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	for _, token := range []string{"", "!!!", "bm90LWpzb24", "eyJ0IjoibWFwIiwiaWQiOiJ4In0"} {
		if _, err := DecodeCursor(token); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("DecodeCursor(%q) error = %v, want ErrInvalidCursor", token, err)
		}
	}
}

func TestCursor_EncodeUnsupported(t *testing.T) {
	if _, err := (Cursor{Value: []string{"a"}, ID: "x"}).Encode(); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestCompareValues(t *testing.T) {
	t0 := time.Unix(100, 0)
	tests := []struct {
		a, b any
		want int
	}{
		{nil, false, -1},
		{false, true, -1},
		{true, 1, -1},
		{int64(2), 2.5, -1},
		{3, int64(3), 0},
		{2.0, int64(1), 1},
		{10, t0, -1},
		{t0, t0.Add(time.Second), -1},
		{t0, "a", -1},
		{"b", "a", 1},
	}
	for _, tt := range tests {
		if got := CompareValues(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareValues(%#v, %#v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCursor_CompareTieBreaksOnID(t *testing.T) {
	a := Cursor{Value: int64(1), ID: "a"}
	b := Cursor{Value: int64(1), ID: "b"}
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 {
		t.Fatal("expected id tie-break ordering")
	}
}
