package incidents

import (
	"context"
	"fmt"
	"testing"
)

func TestSearchRanksSimilarFailuresFirst(t *testing.T) {
	idx := NewMemory(0)
	ctx := context.Background()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(idx.Add(ctx, Incident{
		RunID: "r1", Repo: "acme/app", FailureType: "python_missing_dependency", Status: "merged",
		Text: "ModuleNotFoundError: No module named 'requests'",
	}))
	must(idx.Add(ctx, Incident{
		RunID: "r2", Repo: "acme/web", FailureType: "node_test_failure", Status: "blocked",
		Text: "TypeError: Cannot read properties of undefined",
	}))

	hits, err := idx.Search(ctx, "ModuleNotFoundError: No module named 'urllib3'", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].RunID != "r1" {
		t.Fatalf("top hit = %s, want r1", hits[0].RunID)
	}
	if hits[0].Similarity <= 0 || hits[0].Similarity > 1 {
		t.Fatalf("similarity %v out of (0,1]", hits[0].Similarity)
	}
}

func TestSearchIgnoresDigitsInMatching(t *testing.T) {
	idx := NewMemory(0)
	ctx := context.Background()
	if err := idx.Add(ctx, Incident{RunID: "r1", Text: "worker.py:120: error: timeout after 30s"}); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(ctx, "worker.py:457: error: timeout after 90s", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Similarity < 0.9 {
		t.Fatalf("digit-normalized lines should match strongly, got %+v", hits)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	idx := NewMemory(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := idx.Add(ctx, Incident{RunID: fmt.Sprintf("r%d", i), Text: fmt.Sprintf("unique failure alpha%d beta", i)}); err != nil {
			t.Fatal(err)
		}
	}
	hits, err := idx.Search(ctx, "unique failure alpha0 beta", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.RunID == "r0" || h.RunID == "r1" {
			t.Fatalf("evicted incident %s still searchable", h.RunID)
		}
	}
}

func TestSearchEmptyQueryReturnsNothing(t *testing.T) {
	idx := NewMemory(0)
	if err := idx.Add(context.Background(), Incident{RunID: "r1", Text: "boom"}); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(context.Background(), "", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("empty query returned %d hits", len(hits))
	}
}
