package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	ctrl "sigs.k8s.io/controller-runtime"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo}, // Default for unknown
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, test := range tests {
		got, err := ParseLevel(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", test.in, err, test.wantErr)
		}
		if got != test.want {
			t.Errorf("ParseLevel(%q) = %v, expected %v", test.in, got, test.want)
		}
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	Info("test-subsystem", "test message %d", 42)

	output := buf.String()
	if !strings.Contains(output, "test message 42") {
		t.Error("Expected log message to appear in CLI output")
	}

	if !strings.Contains(output, "test-subsystem") {
		t.Error("Expected subsystem to appear in CLI output")
	}
}

func TestCLILevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	Debug("test", "debug message")
	Info("test", "info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at INFO level")
	}

	if !strings.Contains(output, "info message") {
		t.Error("Info message should appear at INFO level")
	}
}

func TestJSONFormatIncludesError(t *testing.T) {
	var buf bytes.Buffer

	Init(LevelDebug, FormatJSON, &buf)

	Error("queue", errors.New("boom"), "reconcile of %s failed", "db/alpha")

	var record map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}

	if record["msg"] != "reconcile of db/alpha failed" {
		t.Errorf("unexpected msg: %v", record["msg"])
	}
	if record["error"] != "boom" {
		t.Errorf("unexpected error attribute: %v", record["error"])
	}
	if record["subsystem"] != "queue" {
		t.Errorf("unexpected subsystem attribute: %v", record["subsystem"])
	}
}

func TestControllerRuntimeLoggerInitialization(t *testing.T) {
	var buf bytes.Buffer

	InitForCLI(LevelInfo, &buf)

	logger := ctrl.Log
	if logger.GetSink() == nil {
		t.Error("Expected controller-runtime logger sink to be initialized")
	}

	logger.Info("test message from controller-runtime logger", "key", "value")

	if !strings.Contains(buf.String(), "test message from controller-runtime logger") {
		t.Error("Expected controller-runtime log output to be routed to the configured writer")
	}
}

func TestInitRetargetsControllerRuntimeLogger(t *testing.T) {
	var first, second bytes.Buffer

	InitForCLI(LevelInfo, &first)
	Init(LevelDebug, FormatJSON, &second)

	ctrl.Log.WithName("manager").V(1).Info("retargeted message", "key", "value")

	if strings.Contains(first.String(), "retargeted message") {
		t.Error("Expected the first writer to no longer receive controller-runtime output")
	}

	var record map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(second.Bytes()), &record); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", second.String(), err)
	}
	if record["msg"] != "retargeted message" {
		t.Errorf("unexpected msg: %v", record["msg"])
	}
	if record["subsystem"] != "controller-runtime" {
		t.Errorf("unexpected subsystem attribute: %v", record["subsystem"])
	}
	if record["key"] != "value" {
		t.Errorf("unexpected key attribute: %v", record["key"])
	}
}
