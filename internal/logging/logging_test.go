package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(42), "unknown(42)"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	// Default level is info, so Debug output is suppressed
	Debug("should not appear")
	Info("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Error("debug message logged at info level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("info message not logged at info level")
	}
}

func TestEnableFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "agent.log")

	EnableFile(logPath)
	defer EnableFile("")

	Info("file output test message")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "file output test message") {
		t.Errorf("log file missing message, got: %s", data)
	}
}
