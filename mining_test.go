package serenpair

import (
	"context"
	"testing"
)

func mustInsertUnit(t *testing.T, store *mockStore, rawNoteID string, embedding Vector) int64 {
	t.Helper()
	units := []*ThoughtUnit{{RawNoteID: rawNoteID, Claim: rawNoteID, Embedding: embedding}}
	if err := store.InsertThoughtUnits(context.Background(), units); err != nil {
		t.Fatalf("InsertThoughtUnits: %v", err)
	}
	return units[0].ID
}

func TestRelativeThresholdBandRejectsOverlyWideBand(t *testing.T) {
	if err := relativeThresholdBand(0, 0.9); err == nil {
		t.Fatal("expected error for a band spanning more than 80%")
	}
	if err := relativeThresholdBand(0.1, 0.35); err != nil {
		t.Fatalf("expected a normal band to pass, got %v", err)
	}
}

func TestRelativeThresholdBandRejectsInvertedBounds(t *testing.T) {
	if err := relativeThresholdBand(0.5, 0.2); err == nil {
		t.Fatal("expected error for p_lo >= p_hi")
	}
}

func TestMinerRunRoundExhaustsEmptySourceTable(t *testing.T) {
	store := newMockStore()
	engine := NewDistanceEngine(store, DefaultConfig())
	miner := NewMiner(store, engine, DefaultConfig())

	params := MiningParams{SrcBatch: 10, DstSample: 100, KPerSrc: 5, PLo: 0.1, PHi: 0.35, Seed: 42}
	result, err := miner.RunRound(context.Background(), nil, params)
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if !result.Exhausted {
		t.Error("expected Exhausted=true for an empty source table")
	}
}

func TestCandidatesForSourceFindsDirectCosineMatches(t *testing.T) {
	store := newMockStore()
	engine := NewDistanceEngine(store, DefaultConfig())
	miner := NewMiner(store, engine, DefaultConfig())

	srcID := mustInsertUnit(t, store, "note-src", Vector{1, 0, 0})
	// Near-identical direction to src: high similarity.
	mustInsertUnit(t, store, "note-near", Vector{0.99, 0.05, 0})
	// Orthogonal: low similarity, should not qualify for a high band.
	mustInsertUnit(t, store, "note-far", Vector{0, 1, 0})

	params := MiningParams{
		SrcBatch: 10, DstSample: 10, KPerSrc: 5,
		PLo: 0.0, PHi: 1.0, Seed: 42, MaxRounds: 3,
	}

	found, err := miner.candidatesForSource(context.Background(), srcID, params)
	if err != nil {
		t.Fatalf("candidatesForSource: %v", err)
	}
	if len(found) == 0 {
		t.Fatal("expected at least one candidate from direct cosine similarity sampling")
	}
	for _, c := range found {
		if c.Similarity < -1 || c.Similarity > 1 {
			t.Errorf("similarity %f out of cosine range", c.Similarity)
		}
	}
}

func TestCandidatesForSourceRejectsMissingEmbedding(t *testing.T) {
	store := newMockStore()
	engine := NewDistanceEngine(store, DefaultConfig())
	miner := NewMiner(store, engine, DefaultConfig())

	srcID := mustInsertUnit(t, store, "note-empty", nil)
	params := MiningParams{SrcBatch: 10, DstSample: 10, KPerSrc: 5, PLo: 0.1, PHi: 0.35, Seed: 42, MaxRounds: 3}

	if _, err := miner.candidatesForSource(context.Background(), srcID, params); err == nil {
		t.Fatal("expected an error for a source unit with no embedding")
	}
}

func TestSeededKeepIsDeterministic(t *testing.T) {
	a := seededKeep(42, 7, 13, 5, 100)
	b := seededKeep(42, 7, 13, 5, 100)
	if a != b {
		t.Error("expected seededKeep to be deterministic for identical inputs")
	}
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := Vector{1, 2, 3}
	if got := cosineSimilarity(v, v); got < 0.999 || got > 1.001 {
		t.Errorf("cosineSimilarity(v, v) = %f, want ~1", got)
	}
}

func TestCosineSimilarityOrthogonalVectorsIsZero(t *testing.T) {
	got := cosineSimilarity(Vector{1, 0}, Vector{0, 1})
	if got < -0.001 || got > 0.001 {
		t.Errorf("cosineSimilarity(orthogonal) = %f, want ~0", got)
	}
}

func TestQuantileOfBounds(t *testing.T) {
	sorted := []float64{0.1, 0.2, 0.3, 0.4, 0.5}
	if got := quantileOf(sorted, 0); got != 0.1 {
		t.Errorf("quantileOf(0) = %f, want 0.1", got)
	}
	if got := quantileOf(sorted, 1); got != 0.5 {
		t.Errorf("quantileOf(1) = %f, want 0.5", got)
	}
}

func TestPercentileMarkFloorsToTen(t *testing.T) {
	cases := []struct {
		p    float64
		want int
	}{
		{0.10, 10},
		{0.35, 30},
		{0.0, 0},
		{1.0, 100},
	}
	for _, c := range cases {
		if got := percentileMark(c.p); got != c.want {
			t.Errorf("percentileMark(%f) = %d, want %d", c.p, got, c.want)
		}
	}
}
