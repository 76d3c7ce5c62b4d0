package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", sc.Text(), err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewZapLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "json debug", config: Config{Level: DebugLevel, Format: JSONFormat}},
		{name: "text info", config: Config{Level: InfoLevel, Format: TextFormat}},
		{name: "unknown level falls back to info", config: Config{Level: "loud", Format: JSONFormat}},
		{name: "unknown format", config: Config{Level: InfoLevel, Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Output = &bytes.Buffer{}
			l, err := NewZapLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewZapLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && l == nil {
				t.Fatal("NewZapLogger() returned nil logger")
			}
		})
	}
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewZapLogger(Config{Level: WarnLevel, Format: JSONFormat, Output: &buf})
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}
	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("kept", "batch", 3)
	l.Error("kept too")
	_ = l.Sync()

	entries := decodeEntries(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["level"] != "warn" || entries[0]["batch"] != float64(3) {
		t.Fatalf("unexpected first entry %v", entries[0])
	}
}

func TestZapLogger_WithAndContext(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewZapLogger(Config{Level: InfoLevel, Format: JSONFormat, Output: &buf, Service: "signalmax"})
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}

	ctx := ContextWithCorrelationID(context.Background(), "run-42")
	l.With("component", "deletion").WithContext(ctx).Info("batch committed")
	l.WithContext(context.Background()).Info("plain")
	_ = l.Sync()

	entries := decodeEntries(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first["component"] != "deletion" || first["correlation_id"] != "run-42" || first["service"] != "signalmax" {
		t.Fatalf("missing fields in %v", first)
	}
	if _, ok := entries[1]["correlation_id"]; ok {
		t.Fatalf("unexpected correlation id in %v", entries[1])
	}
}

func TestParseLogLevelAndFormat(t *testing.T) {
	if lvl, err := ParseLogLevel("WARNING"); err != nil || lvl != WarnLevel {
		t.Fatalf("ParseLogLevel(WARNING) = %v, %v", lvl, err)
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if f, err := ParseLogFormat("console"); err != nil || f != TextFormat {
		t.Fatalf("ParseLogFormat(console) = %v, %v", f, err)
	}
	if _, err := ParseLogFormat("yaml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNop(t *testing.T) {
	l := OrNop(nil)
	l.With("a", 1).WithContext(context.Background()).Error("ignored")
}

// Property 1: every emitted entry is a JSON object carrying timestamp, level and message,
// plus the correlation id whenever the context has one.
func TestProperty_StructuredEntries(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("entries are JSON with required fields", prop.ForAll(
		func(level LogLevel, message string, correlation string) bool {
			var buf bytes.Buffer
			l, err := NewZapLogger(Config{Level: DebugLevel, Format: JSONFormat, Output: &buf})
			if err != nil {
				return false
			}
			ctx := context.Background()
			if correlation != "" {
				ctx = ContextWithCorrelationID(ctx, correlation)
			}
			cl := l.WithContext(ctx)
			switch level {
			case DebugLevel:
				cl.Debug(message)
			case InfoLevel:
				cl.Info(message)
			case WarnLevel:
				cl.Warn(message)
			default:
				cl.Error(message)
			}
			_ = l.Sync()

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				return false
			}
			if entry["message"] != message || entry["level"] != string(level) || entry["timestamp"] == nil {
				return false
			}
			if correlation != "" && entry["correlation_id"] != correlation {
				return false
			}
			return true
		},
		gen.OneConstOf(DebugLevel, InfoLevel, WarnLevel, ErrorLevel),
		gen.AlphaString(),
		gen.OneGenOf(gen.Const(""), gen.Identifier()),
	))

	properties.TestingRun(t)
}
