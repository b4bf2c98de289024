package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	if c := classifyNATSError(fmt.Errorf("publish: %w", nats.ErrConnectionClosed)); !c.Retryable {
		t.Fatalf("expected closed connection retryable")
	}
	if c := classifyNATSError(context.Canceled); c.Retryable || c.RecordFailure {
		t.Fatalf("expected cancellation neither retried nor recorded, got %+v", c)
	}
	if c := classifyNATSError(fmt.Errorf("publish: %w", nats.ErrBadSubject)); c.Retryable || c.RecordFailure {
		t.Fatalf("expected bad subject neither retried nor recorded, got %+v", c)
	}
	if c := classifyNATSError(errors.New("boom")); c.Retryable || !c.RecordFailure {
		t.Fatalf("expected unknown error recorded without retry, got %+v", c)
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	err := wrapTemporaryIfNeeded(fmt.Errorf("publish: %w", nats.ErrTimeout))
	if !errors.Is(err, domain.ErrTemporary) || !errors.Is(err, nats.ErrTimeout) {
		t.Fatalf("expected temporary wrap keeping cause, got %v", err)
	}
	plain := errors.New("boom")
	if got := wrapTemporaryIfNeeded(plain); got != plain {
		t.Fatalf("expected permanent error unchanged, got %v", got)
	}
}

func TestSubjectsDefaults(t *testing.T) {
	s := Subjects{Status: "custom.status"}.withDefaults()
	if s.Batches != "intake.batches" || s.Cancel != "intake.cancel" || s.Status != "custom.status" || s.QueueGroup != "intake-workers" {
		t.Fatalf("unexpected subjects: %+v", s)
	}
}
