package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerCarriesService(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "worker", "info", "json")
	logger.Info("job advanced", "job_id", "j1")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line at info level, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["service"] != "worker" || entry["job_id"] != "j1" || entry["msg"] != "job advanced" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestTextFormatAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "api", "DEBUG", "text")
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") || !strings.Contains(buf.String(), "service=api") {
		t.Fatalf("unexpected text output %q", buf.String())
	}

	cases := map[string]string{"warning": "WARN", "error": "ERROR", "bogus": "INFO", "": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
