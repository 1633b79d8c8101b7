package core

import "testing"

func TestNewExpertIndexRejectsNonPositiveDimensions(t *testing.T) {
	if _, err := NewExpertIndex(ExpertIndexConfig{Dimensions: 0}); err == nil {
		t.Fatalf("expected error for zero dimensions")
	}
}

func TestExpertIndexFindBestExpertsOrdersByDistance(t *testing.T) {
	idx := newTestIndex(t, 2)
	if err := idx.AddExpert("far", Vector{0, -1}); err != nil {
		t.Fatalf("AddExpert: %v", err)
	}
	if err := idx.AddExpert("near", Vector{1, 0}); err != nil {
		t.Fatalf("AddExpert: %v", err)
	}

	hits, err := idx.FindBestExperts(Vector{1, 0}, 2)
	if err != nil {
		t.Fatalf("FindBestExperts: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].WorkerID != "near" {
		t.Fatalf("expected nearest expert first, got %q", hits[0].WorkerID)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Fatalf("hits not sorted ascending by distance: %+v", hits)
		}
	}
}

func TestExpertIndexFindBestExpertsZeroK(t *testing.T) {
	idx := newTestIndex(t, 2)
	_ = idx.AddExpert("w1", Vector{1, 0})

	hits, err := idx.FindBestExperts(Vector{1, 0}, 0)
	if err != nil {
		t.Fatalf("FindBestExperts: %v", err)
	}
	if hits != nil {
		t.Fatalf("expected nil hits for k=0, got %v", hits)
	}
}

func TestExpertIndexSize(t *testing.T) {
	idx := newTestIndex(t, 3)
	if idx.Size() != 0 {
		t.Fatalf("expected empty index to have size 0")
	}
	_ = idx.AddExpert("w1", Vector{1, 0, 0})
	_ = idx.AddExpert("w2", Vector{0, 1, 0})
	if idx.Size() != 2 {
		t.Fatalf("expected size 2, got %d", idx.Size())
	}
}

func TestExpertIndexAddExpertDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 3)
	if err := idx.AddExpert("w1", Vector{1, 0}); err == nil {
		t.Fatalf("expected DimensionMismatch error for wrong-length embedding")
	}
}

func TestExpertIndexCacheInvalidatedOnInsert(t *testing.T) {
	idx, err := NewExpertIndex(ExpertIndexConfig{Dimensions: 2, M: 8, EfConstruction: 32, QueryCacheSize: 8})
	if err != nil {
		t.Fatalf("NewExpertIndex: %v", err)
	}
	_ = idx.AddExpert("w1", Vector{1, 0})

	first, err := idx.FindBestExperts(Vector{0, 1}, 1)
	if err != nil {
		t.Fatalf("FindBestExperts: %v", err)
	}
	if len(first) != 1 || first[0].WorkerID != "w1" {
		t.Fatalf("unexpected first result: %+v", first)
	}

	// same query and k as above, so a stale cache entry would still say w1.
	_ = idx.AddExpert("w2", Vector{0, 1})
	second, err := idx.FindBestExperts(Vector{0, 1}, 1)
	if err != nil {
		t.Fatalf("FindBestExperts: %v", err)
	}
	if len(second) != 1 || second[0].WorkerID != "w2" {
		t.Fatalf("expected cache to reflect newly added expert, got %+v", second)
	}
}
