package serenpair

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zoobzio/capitan"
)

// essaySchema is the validated shape of one essay-generation LLM response,
// per §4.11: a title, a three-point outline, and a short reason tying the
// pair together.
type essaySchema struct {
	Title   string   `json:"title"`
	Outline []string `json:"outline"`
	Reason  string   `json:"reason"`
}

// EssayWriter runs C11: seed a writing prompt from exactly one ThoughtPair.
type EssayWriter struct {
	store    Store
	provider ChatProvider
}

// NewEssayWriter builds an EssayWriter.
func NewEssayWriter(store Store, provider ChatProvider) *EssayWriter {
	return &EssayWriter{store: store, provider: provider}
}

// Generate writes an essay seeded by the given pair and its source notes,
// inserts it, then flags the pair used. The insert and the flag update are
// not transactional — per §4.11, a flag-update failure after a successful
// insert is logged and swallowed rather than rolling back the essay, since
// a pair reused once is a much smaller problem than a silently lost essay.
func (w *EssayWriter) Generate(ctx context.Context, pair ThoughtPair, noteA, noteB *RawNote, claimA, claimB string) (*Essay, error) {
	parsed, err := w.callGeneration(ctx, claimA, claimB, pair.ConnectionReason)
	if err != nil {
		return nil, err
	}

	essay := &Essay{
		PairAID: pair.AID,
		PairBID: pair.BID,
		Title:   parsed.Title,
		Outline: parsed.Outline,
		UsedThoughts: []UsedThought{
			{Claim: claimA, SourceNoteTitle: noteA.Title, SourceNoteURL: noteA.ExternalID},
			{Claim: claimB, SourceNoteTitle: noteB.Title, SourceNoteURL: noteB.ExternalID},
		},
		Reason:      parsed.Reason,
		GeneratedAt: time.Now(),
	}

	if err := w.store.InsertEssay(ctx, essay); err != nil {
		return nil, err
	}

	if err := w.store.MarkPairUsedInEssay(ctx, pair.AID, pair.BID); err != nil {
		capitan.Error(ctx, EssayGenerated, FieldEssayID.Field(strconv.FormatInt(essay.ID, 10)), FieldError.Field(err))
	}

	capitan.Emit(ctx, EssayGenerated, FieldEssayID.Field(strconv.FormatInt(essay.ID, 10)), FieldPairID.Field(strconv.FormatInt(pair.AID, 10)))
	pipelineMetrics.essaysGenerated.Add(ctx, 1)
	return essay, nil
}

// callGeneration invokes the essay-writing chat call and validates the
// result: title 5-100 chars, exactly three outline points, reason <=300.
func (w *EssayWriter) callGeneration(ctx context.Context, claimA, claimB, connectionReason string) (essaySchema, error) {
	prompt := fmt.Sprintf(
		"Two ideas from a personal notebook have a surprising connection: "+
			"%s\n\nIdea A: %s\nIdea B: %s\n\n"+
			"Write an essay prompt from these: a title (5-100 characters), a "+
			"three-point outline, and a one-sentence reason explaining why this "+
			"pairing is worth writing about. Respond as JSON: "+
			"{\"title\": ..., \"outline\": [...], \"reason\": ...}.",
		connectionReason, claimA, claimB,
	)

	resp, err := w.provider.Chat(ctx, []ChatMessage{
		{Role: "system", Content: "You write thoughtful essay prompts from paired ideas."},
		{Role: "user", Content: prompt},
	}, 0.7)
	if err != nil {
		return essaySchema{}, err
	}

	var parsed essaySchema
	if err := ExtractJSON(resp.Text, &parsed); err != nil {
		retryResp, retryErr := w.provider.Chat(ctx, []ChatMessage{
			{Role: "system", Content: "Respond with ONLY a JSON object, no prose."},
			{Role: "user", Content: prompt},
		}, 0.7)
		if retryErr != nil {
			return essaySchema{}, &ValidationFailure{Step: "essay", Reason: err.Error(), Raw: resp.Text}
		}
		if err := ExtractJSON(retryResp.Text, &parsed); err != nil {
			return essaySchema{}, &ValidationFailure{Step: "essay", Reason: err.Error(), Raw: retryResp.Text}
		}
	}

	if len(parsed.Title) < 5 || len(parsed.Title) > 100 {
		return essaySchema{}, &ValidationFailure{Step: "essay", Reason: "title length out of bounds"}
	}
	if len(parsed.Outline) != 3 {
		return essaySchema{}, &ValidationFailure{Step: "essay", Reason: "outline must have exactly 3 points"}
	}
	if len(parsed.Reason) == 0 || len(parsed.Reason) > 300 {
		return essaySchema{}, &ValidationFailure{Step: "essay", Reason: "reason empty or too long"}
	}

	return parsed, nil
}
