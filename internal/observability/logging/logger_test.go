package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewTagsServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "intake-worker", "warn")

	logger.Info("batch_started", "batch_id", "b1")
	logger.Warn("page_extract_failed", "batch_id", "b1", "page", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected info filtered out, got %d lines", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["service"] != "intake-worker" || entry["msg"] != "page_extract_failed" || entry["page"] != float64(2) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := parseLevel("verbose"); got.String() != "INFO" {
		t.Fatalf("expected INFO, got %s", got)
	}
	if got := parseLevel(" Warning "); got.String() != "WARN" {
		t.Fatalf("expected WARN, got %s", got)
	}
}
