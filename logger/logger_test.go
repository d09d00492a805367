package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewWithWriter(Config{Level: "debug", Format: "json"}, &buf), "worker")

	l.Info().Int64(FieldJobID, 7).Msg("job completed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["component"] != "worker" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["message"] != "job completed" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["job_id"] != float64(7) {
		t.Errorf("job_id = %v", entry["job_id"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn line missing")
	}
}

func TestNewWithWriter_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "nonsense", Format: "json"}, &buf)

	l.Debug().Msg("debug")
	l.Info().Msg("info")

	if strings.Contains(buf.String(), `"message":"debug"`) {
		t.Error("debug should be filtered")
	}
	if !strings.Contains(buf.String(), `"message":"info"`) {
		t.Errorf("info line missing: %s", buf.String())
	}
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "info", Format: "console"}, &buf)
	l.Info().Msg("hello")

	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("console output missing message: %q", buf.String())
	}
	if strings.HasPrefix(buf.String(), "{") {
		t.Error("console output should not be JSON")
	}
}
