package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{" WARN ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerWritesFileAndChangesLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardio.log")
	log, err := New(Options{Level: "warn", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.Info("hidden")
	log.Warn("visible", zap.String("component", "test"))
	if err := log.SetLevel("debug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.Level() != zapcore.DebugLevel {
		t.Fatalf("expected debug level, got %v", log.Level())
	}
	log.Debug("now visible")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "hidden") {
		t.Fatalf("info entry should have been filtered: %s", content)
	}
	if !strings.Contains(content, `"component":"test"`) || !strings.Contains(content, "now visible") {
		t.Fatalf("missing entries in %s", content)
	}
}

func TestSetLevelRejectsUnknown(t *testing.T) {
	log, err := New(Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := log.SetLevel("loud"); err == nil {
		t.Fatal("expected error")
	}
	if log.Level() != zapcore.InfoLevel {
		t.Fatalf("level changed on error: %v", log.Level())
	}
}
