package usecase

import (
	"context"
	"sync"
	"time"
)

// debouncedSaver coalesces bursts of record changes into one save after
// delay of quiet. Flush saves immediately and cancels any pending save.
// A failed save leaves the changes pending. Saves never overlap; saving is
// taken before mu.
type debouncedSaver struct {
	delay  time.Duration
	save   func(ctx context.Context) error
	onFail func(err error)

	saving sync.Mutex

	mu    sync.Mutex
	timer *time.Timer
	dirty bool
}

func newDebouncedSaver(delay time.Duration, save func(ctx context.Context) error, onFail func(err error)) *debouncedSaver {
	return &debouncedSaver{delay: delay, save: save, onFail: onFail}
}

func (d *debouncedSaver) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = true
	if d.delay <= 0 {
		go d.fire()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *debouncedSaver) fire() {
	d.saving.Lock()
	defer d.saving.Unlock()

	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return
	}
	d.dirty = false
	d.timer = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.save(ctx); err != nil {
		d.markDirty()
		if d.onFail != nil {
			d.onFail(err)
		}
	}
}

func (d *debouncedSaver) markDirty() {
	d.mu.Lock()
	d.dirty = true
	d.mu.Unlock()
}

// Pending reports whether changes are waiting for a save or a save is in
// progress.
func (d *debouncedSaver) Pending() bool {
	if !d.saving.TryLock() {
		return true
	}
	defer d.saving.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// Flush saves now if anything changed since the last save.
func (d *debouncedSaver) Flush(ctx context.Context) error {
	d.saving.Lock()
	defer d.saving.Unlock()

	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	dirty := d.dirty
	d.dirty = false
	d.mu.Unlock()
	if !dirty {
		return nil
	}
	if err := d.save(ctx); err != nil {
		d.markDirty()
		return err
	}
	return nil
}
