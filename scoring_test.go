package serenpair

import (
	"context"
	"testing"
)

func TestScorerPromotesAboveThreshold(t *testing.T) {
	store := newMockStore()
	store.thoughtUnits[1] = &ThoughtUnit{ID: 1, Claim: "Idea A"}
	store.thoughtUnits[2] = &ThoughtUnit{ID: 2, Claim: "Idea B"}
	store.candidates[1] = &PairCandidate{ID: 1, AID: 1, BID: 2, LLMStatus: LLMStatusPending}

	provider := &mockChatProvider{responses: []string{`{"score":90,"reason":"a deep, surprising resonance"}`}}
	cfg := DefaultConfig()
	cfg.ScoringInterChunkSleep = 0
	cfg.PromotionThreshold = 65

	scorer := NewScorer(store, provider, cfg)
	result, err := scorer.RunTick(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if result.Evaluated != 1 {
		t.Errorf("evaluated = %d, want 1", result.Evaluated)
	}
	if result.Migrated != 1 {
		t.Errorf("migrated = %d, want 1", result.Migrated)
	}
	if _, ok := store.pairs[[2]int64{1, 2}]; !ok {
		t.Error("expected pair to be migrated into thought_pairs")
	}
}

func TestScorerDoesNotPromoteBelowThreshold(t *testing.T) {
	store := newMockStore()
	store.thoughtUnits[1] = &ThoughtUnit{ID: 1, Claim: "Idea A"}
	store.thoughtUnits[2] = &ThoughtUnit{ID: 2, Claim: "Idea B"}
	store.candidates[1] = &PairCandidate{ID: 1, AID: 1, BID: 2, LLMStatus: LLMStatusPending}

	provider := &mockChatProvider{responses: []string{`{"score":40,"reason":"a fairly weak link"}`}}
	cfg := DefaultConfig()
	cfg.ScoringInterChunkSleep = 0
	cfg.PromotionThreshold = 65

	scorer := NewScorer(store, provider, cfg)
	result, err := scorer.RunTick(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if result.Migrated != 0 {
		t.Errorf("migrated = %d, want 0", result.Migrated)
	}
	if len(store.pairs) != 0 {
		t.Error("expected no pairs migrated")
	}
}

func TestScorerMarksFailedOnInvalidScore(t *testing.T) {
	store := newMockStore()
	store.thoughtUnits[1] = &ThoughtUnit{ID: 1, Claim: "Idea A"}
	store.thoughtUnits[2] = &ThoughtUnit{ID: 2, Claim: "Idea B"}
	store.candidates[1] = &PairCandidate{ID: 1, AID: 1, BID: 2, LLMStatus: LLMStatusPending}

	provider := &mockChatProvider{responses: []string{`{"score":500,"reason":"nonsense"}`}}
	cfg := DefaultConfig()
	cfg.ScoringInterChunkSleep = 0

	scorer := NewScorer(store, provider, cfg)
	result, err := scorer.RunTick(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}
	if store.candidates[1].LLMStatus != LLMStatusFailed {
		t.Errorf("status = %q, want failed", store.candidates[1].LLMStatus)
	}
}
