// Package memory is a process-local LRU fingerprint store.
package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
)

const defaultCapacity = 1024

type Store struct {
	capacity int

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

var _ ports.FingerprintStore = (*Store)(nil)

type entry struct {
	key    string
	result *domain.ExtractionResult
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (s *Store) Get(_ context.Context, key domain.FingerprintKey) (*domain.ExtractionResult, bool, error) {
	if !key.Subtype.Cacheable() {
		return nil, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[key.String()]
	if !ok {
		return nil, false, nil
	}
	s.order.MoveToFront(el)
	return el.Value.(*entry).result, true, nil
}

// Put ignores nil results and subtypes that are never memoized.
func (s *Store) Put(_ context.Context, key domain.FingerprintKey, result *domain.ExtractionResult) error {
	if result == nil || !key.Subtype.Cacheable() {
		return nil
	}
	k := key.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[k]; ok {
		el.Value.(*entry).result = result
		s.order.MoveToFront(el)
		return nil
	}
	s.entries[k] = s.order.PushFront(&entry{key: k, result: result})
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*entry).key)
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
