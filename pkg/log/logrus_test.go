package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSimpleFormatterLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, "debug")

	l.WithFields(map[string]interface{}{"channel": "radar", "bytes": 12}).Warnf("dropped %s", "payload")

	line := buf.String()
	if !strings.Contains(line, "[WAR] dropped payload") {
		t.Errorf("Expected truncated level and message, got %q", line)
	}
	if !strings.HasSuffix(line, "bytes=12 channel=radar\n") {
		t.Errorf("Expected sorted fields at end of line, got %q", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, "info")

	l.Debugf("hidden")
	l.Infof("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("Debug entry should be filtered at info level")
	}
	if !strings.Contains(buf.String(), "[INF] shown") {
		t.Errorf("Info entry missing: %q", buf.String())
	}
}

func TestNewLogrusLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")

	l, err := NewLogrusLogger("not-a-level", logDir)
	if err != nil {
		t.Fatalf("NewLogrusLogger failed: %v", err)
	}
	Component(l, "test").Infof("hello file")

	data, err := os.ReadFile(filepath.Join(logDir, "console.log"))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file component=test") {
		t.Errorf("Log file missing entry: %q", string(data))
	}
}
