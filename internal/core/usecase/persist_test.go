package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncedSaverCoalescesBursts(t *testing.T) {
	var saves atomic.Int32
	saved := make(chan struct{}, 4)
	d := newDebouncedSaver(30*time.Millisecond, func(context.Context) error {
		saves.Add(1)
		saved <- struct{}{}
		return nil
	}, nil)

	for i := 0; i < 5; i++ {
		d.Schedule()
	}
	select {
	case <-saved:
	case <-time.After(time.Second):
		t.Fatalf("expected a debounced save")
	}
	time.Sleep(60 * time.Millisecond)
	if n := saves.Load(); n != 1 {
		t.Fatalf("expected one save for a burst, got %d", n)
	}
}

func TestDebouncedSaverFlushSavesPendingOnce(t *testing.T) {
	var saves atomic.Int32
	d := newDebouncedSaver(time.Hour, func(context.Context) error {
		saves.Add(1)
		return nil
	}, nil)

	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if saves.Load() != 0 {
		t.Fatalf("expected clean flush to skip saving")
	}

	d.Schedule()
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n := saves.Load(); n != 1 {
		t.Fatalf("expected exactly one save, got %d", n)
	}
}

func TestDebouncedSaverReportsBackgroundFailure(t *testing.T) {
	failed := make(chan error, 1)
	d := newDebouncedSaver(0, func(context.Context) error {
		return errors.New("db down")
	}, func(err error) { failed <- err })

	d.Schedule()
	select {
	case err := <-failed:
		if err.Error() != "db down" {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected failure callback")
	}
}

func TestDebouncedSaverFlushReturnsError(t *testing.T) {
	d := newDebouncedSaver(time.Hour, func(context.Context) error {
		return errors.New("db down")
	}, nil)
	d.Schedule()
	if err := d.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error")
	}
}

func TestDebouncedSaverKeepsChangesPendingAfterFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var saves atomic.Int32
	d := newDebouncedSaver(time.Hour, func(context.Context) error {
		if fail.Load() {
			return errors.New("db down")
		}
		saves.Add(1)
		return nil
	}, nil)

	if d.Pending() {
		t.Fatalf("expected nothing pending before a change")
	}
	d.Schedule()
	if err := d.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error")
	}
	if !d.Pending() {
		t.Fatalf("expected changes pending after a failed save")
	}

	fail.Store(false)
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("flush after recovery: %v", err)
	}
	if saves.Load() != 1 || d.Pending() {
		t.Fatalf("expected one successful save and nothing pending, got saves=%d pending=%v", saves.Load(), d.Pending())
	}
}
