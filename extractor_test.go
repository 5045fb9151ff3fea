package serenpair

import (
	"context"
	"testing"
)

func TestExtractorInsertsUnitsFromValidResponse(t *testing.T) {
	store := newMockStore()
	provider := &mockChatProvider{responses: []string{
		`[{"claim":"Gardens reward patience more than effort","context":"reflecting on tomatoes"}]`,
	}}
	embedder := &mockEmbedder{dims: 4}
	ex := NewExtractor(store, provider, embedder, false, nil)

	note := &RawNote{ExternalID: "n1", Title: "Gardening"}
	content := "Tomatoes taught me patience."
	note.Content = &content
	_ = store.UpsertRawNote(context.Background(), note)

	result, err := ex.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.UnitsInserted != 1 {
		t.Errorf("units inserted = %d, want 1", result.UnitsInserted)
	}
	if len(store.thoughtUnits) != 1 {
		t.Errorf("stored units = %d, want 1", len(store.thoughtUnits))
	}
}

func TestExtractorSkipsEmptyNotes(t *testing.T) {
	store := newMockStore()
	provider := &mockChatProvider{responses: []string{`[]`}}
	embedder := &mockEmbedder{dims: 4}
	ex := NewExtractor(store, provider, embedder, false, nil)

	_ = store.UpsertRawNote(context.Background(), &RawNote{ExternalID: "empty"})

	result, err := ex.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.NotesSkipped != 1 {
		t.Errorf("notes skipped = %d, want 1", result.NotesSkipped)
	}
	if provider.calls != 0 {
		t.Errorf("expected no LLM call for an empty note, got %d calls", provider.calls)
	}
}

func TestExtractorRetriesOnMalformedJSON(t *testing.T) {
	store := newMockStore()
	provider := &mockChatProvider{responses: []string{
		"not json at all",
		`[{"claim":"Second attempt produced valid output here","context":""}]`,
	}}
	embedder := &mockEmbedder{dims: 4}
	ex := NewExtractor(store, provider, embedder, false, nil)

	content := "Some content worth extracting a claim from."
	_ = store.UpsertRawNote(context.Background(), &RawNote{ExternalID: "n1", Title: "T", Content: &content})

	result, err := ex.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.UnitsInserted != 1 {
		t.Errorf("units inserted = %d, want 1", result.UnitsInserted)
	}
	if provider.calls != 2 {
		t.Errorf("expected 2 LLM calls (initial + retry), got %d", provider.calls)
	}
}

func TestExtractorRejectsOutOfBoundsClaimLength(t *testing.T) {
	store := newMockStore()
	shortClaim := `[{"claim":"short","context":""}]`
	provider := &mockChatProvider{responses: []string{shortClaim, shortClaim}}
	embedder := &mockEmbedder{dims: 4}
	ex := NewExtractor(store, provider, embedder, false, nil)

	content := "Some content."
	_ = store.UpsertRawNote(context.Background(), &RawNote{ExternalID: "n1", Title: "T", Content: &content})

	result, err := ex.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.NotesFailed != 1 {
		t.Errorf("notes failed = %d, want 1", result.NotesFailed)
	}
}
