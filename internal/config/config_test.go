package config

import (
	"testing"
	"time"
)

func TestLoadIncludesPipelineDefaults(t *testing.T) {
	t.Setenv("IDENTIFICATION_CONCURRENCY", "")
	t.Setenv("DOCUMENT_CONCURRENCY", "")
	t.Setenv("EXTRACTION_TIMEOUT", "")
	t.Setenv("PERSIST_DEBOUNCE", "")
	t.Setenv("NATS_URL", "")

	cfg := Load()
	if cfg.IdentificationConcurrency != 1 {
		t.Fatalf("expected identification lane of 1, got %d", cfg.IdentificationConcurrency)
	}
	if cfg.DocumentConcurrency != 2 {
		t.Fatalf("expected document lane of 2, got %d", cfg.DocumentConcurrency)
	}
	if cfg.ExtractionTimeout != 90*time.Second {
		t.Fatalf("expected default extraction timeout 90s, got %s", cfg.ExtractionTimeout)
	}
	if cfg.PersistDebounce != 500*time.Millisecond {
		t.Fatalf("expected default debounce 500ms, got %s", cfg.PersistDebounce)
	}
	if cfg.NATSURL != "" {
		t.Fatalf("expected nats disabled by default, got %q", cfg.NATSURL)
	}
	if cfg.NATSBatchSubject != "intake.batches" {
		t.Fatalf("expected default batch subject, got %q", cfg.NATSBatchSubject)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("DOCUMENT_CONCURRENCY", "4")
	t.Setenv("EXTRACTION_TIMEOUT", "45")
	t.Setenv("PERSIST_DEBOUNCE", "2s")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("EXTRACTION_INCLUDE_RAW_TEXT", "false")

	cfg := Load()
	if cfg.DocumentConcurrency != 4 {
		t.Fatalf("expected document lane of 4, got %d", cfg.DocumentConcurrency)
	}
	if cfg.ExtractionTimeout != 45*time.Second {
		t.Fatalf("expected bare seconds parsed, got %s", cfg.ExtractionTimeout)
	}
	if cfg.PersistDebounce != 2*time.Second {
		t.Fatalf("expected duration parsed, got %s", cfg.PersistDebounce)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected fractional rps, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.MaxUploadBytes != 1<<20 {
		t.Fatalf("expected upload limit override, got %d", cfg.MaxUploadBytes)
	}
	if cfg.IncludeRawText {
		t.Fatalf("expected raw text disabled")
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("DOCUMENT_CONCURRENCY", "many")
	t.Setenv("PERSIST_DEBOUNCE", "soon")

	cfg := Load()
	if cfg.DocumentConcurrency != 2 {
		t.Fatalf("expected fallback lane size, got %d", cfg.DocumentConcurrency)
	}
	if cfg.PersistDebounce != 500*time.Millisecond {
		t.Fatalf("expected fallback debounce, got %s", cfg.PersistDebounce)
	}
}
