package memory

import (
	"context"
	"testing"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
)

func key(page string, subtype domain.Subtype) domain.FingerprintKey {
	return domain.FingerprintKey{FileIdentity: "abc", PageName: page, Subtype: subtype}
}

func TestStoreGetPut(t *testing.T) {
	s := New(4)
	ctx := context.Background()
	res := &domain.ExtractionResult{RawText: "folio 123456"}

	if _, ok, _ := s.Get(ctx, key("p1", domain.SubtypeDeed)); ok {
		t.Fatalf("expected miss on empty store")
	}
	if err := s.Put(ctx, key("p1", domain.SubtypeDeed), res); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, key("p1", domain.SubtypeDeed))
	if err != nil || !ok || got.RawText != "folio 123456" {
		t.Fatalf("expected hit, got %+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := s.Get(ctx, key("p1", domain.SubtypeFloorPlan)); ok {
		t.Fatalf("expected subtype to be part of the key")
	}
}

func TestStoreNeverCachesIdentification(t *testing.T) {
	s := New(4)
	ctx := context.Background()
	_ = s.Put(ctx, key("ine", domain.SubtypeIdentification), &domain.ExtractionResult{})
	_ = s.Put(ctx, key("acta", domain.SubtypeMarriageCertificate), &domain.ExtractionResult{})
	if s.Len() != 0 {
		t.Fatalf("expected non-cacheable subtypes skipped, have %d entries", s.Len())
	}
}

func TestStoreEvictsLeastRecentlyUsed(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	_ = s.Put(ctx, key("p1", domain.SubtypeDeed), &domain.ExtractionResult{})
	_ = s.Put(ctx, key("p2", domain.SubtypeDeed), &domain.ExtractionResult{})
	_, _, _ = s.Get(ctx, key("p1", domain.SubtypeDeed))
	_ = s.Put(ctx, key("p3", domain.SubtypeDeed), &domain.ExtractionResult{})

	if _, ok, _ := s.Get(ctx, key("p2", domain.SubtypeDeed)); ok {
		t.Fatalf("expected p2 evicted")
	}
	if _, ok, _ := s.Get(ctx, key("p1", domain.SubtypeDeed)); !ok {
		t.Fatalf("expected recently used p1 kept")
	}
}
