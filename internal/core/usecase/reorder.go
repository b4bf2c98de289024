package usecase

import "sync"

// ReorderBuffer accepts completions in any order and hands them to apply in
// index order, starting at zero. apply runs under the buffer lock, which makes
// it the single serialization point for whatever it mutates.
type ReorderBuffer[T any] struct {
	mu      sync.Mutex
	next    int
	pending map[int]T
	apply   func(index int, value T)
}

func NewReorderBuffer[T any](apply func(index int, value T)) *ReorderBuffer[T] {
	return &ReorderBuffer[T]{
		pending: make(map[int]T),
		apply:   apply,
	}
}

// Complete stores the value for index and drains every contiguous value from
// the cursor. It reports how many values were applied. Indexes already
// applied or already pending are ignored.
func (b *ReorderBuffer[T]) Complete(index int, value T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index < b.next {
		return 0
	}
	if _, dup := b.pending[index]; dup {
		return 0
	}
	b.pending[index] = value

	applied := 0
	for {
		v, ok := b.pending[b.next]
		if !ok {
			return applied
		}
		delete(b.pending, b.next)
		b.apply(b.next, v)
		b.next++
		applied++
	}
}

// Next is the index the buffer is waiting for.
func (b *ReorderBuffer[T]) Next() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

func (b *ReorderBuffer[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
