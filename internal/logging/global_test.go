package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSetGlobalAndGlobal(t *testing.T) {
	defer SetGlobal(DefaultLogger())

	l := New(Config{Level: LevelInfo, Output: &bytes.Buffer{}})
	SetGlobal(l)

	if Global() != l {
		t.Error("Global() should return the logger set by SetGlobal")
	}
}

func TestConfigureOutput(t *testing.T) {
	defer SetGlobal(DefaultLogger())

	tests := []struct {
		level      string
		wantLevel  Level
		wantCaller bool
	}{
		{"debug", LevelDebug, true},
		{"info", LevelInfo, false},
		{"bogus", LevelInfo, false},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := ConfigureOutput(tc.level, "json", &buf)
			if Global() != l {
				t.Fatal("ConfigureOutput should set the global logger")
			}
			if l.GetLevel() != tc.wantLevel {
				t.Errorf("level = %v, want %v", l.GetLevel(), tc.wantLevel)
			}

			l.Error("caller check")

			var entry Entry
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse JSON: %v", err)
			}
			if (entry.File != "") != tc.wantCaller {
				t.Errorf("caller recorded = %v, want %v", entry.File != "", tc.wantCaller)
			}
		})
	}
}

func TestGlobalHelpers(t *testing.T) {
	defer SetGlobal(DefaultLogger())

	tests := []struct {
		name      string
		log       func()
		wantLevel string
		wantField string
	}{
		{"debug", func() { Debug("m") }, "debug", ""},
		{"debugf", func() { Debugf("m", map[string]any{"k": "v"}) }, "debug", "v"},
		{"info", func() { Info("m") }, "info", ""},
		{"infof", func() { Infof("m", map[string]any{"k": "v"}) }, "info", "v"},
		{"warn", func() { Warn("m") }, "warn", ""},
		{"warnf", func() { Warnf("m", map[string]any{"k": "v"}) }, "warn", "v"},
		{"error", func() { Error("m") }, "error", ""},
		{"errorf", func() { Errorf("m", map[string]any{"k": "v"}) }, "error", "v"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetGlobal(New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf}))

			tc.log()

			var entry Entry
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse JSON: %v", err)
			}
			if entry.Level != tc.wantLevel {
				t.Errorf("level = %q, want %q", entry.Level, tc.wantLevel)
			}
			if tc.wantField != "" && entry.Fields["k"] != tc.wantField {
				t.Errorf("fields[k] = %v, want %q", entry.Fields["k"], tc.wantField)
			}
		})
	}
}

func TestGlobalLoggerInitialized(t *testing.T) {
	SetGlobal(DefaultLogger())

	if Global() == nil {
		t.Fatal("Global() should never return nil")
	}
}
