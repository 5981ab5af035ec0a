package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"trace", slog.LevelInfo}, // unknown level defaults to info
	}
	for _, c := range cases {
		t.Run(c.input, func(t *testing.T) {
			if got := parseLevel(c.input); got != c.want {
				t.Errorf("parseLevel(%q) = %v, want %v", c.input, got, c.want)
			}
		})
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "json", Writer: &buf})
	logger.Info("provider_closed", KeyProvider, "tok")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not one JSON record: %v (%q)", err, buf.String())
	}
	if record["msg"] != "provider_closed" {
		t.Errorf("msg = %v, want provider_closed", record["msg"])
	}
	if record[KeyProvider] != "tok" {
		t.Errorf("%s = %v, want tok", KeyProvider, record[KeyProvider])
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "text", Writer: &buf})
	logger.Info("endpoint_started", KeyEndpoint, "GET /a")

	out := buf.String()
	if !strings.Contains(out, "endpoint_started") {
		t.Errorf("expected message in output: %s", out)
	}
	if !strings.Contains(out, KeyEndpoint+"=") {
		t.Errorf("expected %s attribute in output: %s", KeyEndpoint, out)
	}
}

func TestUnknownFormatFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "yaml", Writer: &buf})
	logger.Info("x")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("unknown format should fall back to JSON, got: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "text", Level: "warn", Writer: &buf})

	logger.Info("endpoint_started")
	logger.Warn("all_tasks_suspended")

	out := buf.String()
	if strings.Contains(out, "endpoint_started") {
		t.Error("warn-level logger should drop info records")
	}
	if !strings.Contains(out, "all_tasks_suspended") {
		t.Error("warn-level logger should keep warn records")
	}
}

func TestVerboseOverridesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "text", Level: "error", Verbose: true, Writer: &buf})

	logger.Debug("target_scrape_failed")
	if !strings.Contains(buf.String(), "target_scrape_failed") {
		t.Error("verbose should force debug records through regardless of level")
	}
}

func TestDurationAttrsRenderAsStrings(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "json", Writer: &buf})
	logger.Info("shutdown_timeout_exceeded", "timeout", 90*time.Second)

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatal(err)
	}
	if record["timeout"] != "1m30s" {
		t.Errorf("timeout = %v, want the string \"1m30s\"", record["timeout"])
	}
}

func TestForEndpointAndForProviderScope(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Format: "json", Writer: &buf})

	ForEndpoint(base, "POST /login").Info("endpoint_starved")
	ForProvider(base, "u").Error("provider_file_read_error")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d", len(lines))
	}

	var first, second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first[KeyEndpoint] != "POST /login" {
		t.Errorf("endpoint record carries %s=%v, want POST /login", KeyEndpoint, first[KeyEndpoint])
	}
	if second[KeyProvider] != "u" {
		t.Errorf("provider record carries %s=%v, want u", KeyProvider, second[KeyProvider])
	}
}

func TestNilWriterDefaultsToStderr(t *testing.T) {
	// Construction must not panic without an explicit writer.
	logger := New(Options{})
	if logger == nil {
		t.Fatal("New returned nil")
	}
}
