package serenpair

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
)

// extractionBatchSize is the number of RawNotes processed per chunk.
const extractionBatchSize = 10

// autoUpdateDistanceTableThreshold is the minimum count of newly inserted
// thought units in a run before C7's incremental update is triggered.
const autoUpdateDistanceTableThreshold = 10

// thoughtUnitSchema is the validated shape of one extracted claim, matching
// the ThoughtUnit invariants of §3 (claim 10-500 chars, context <=200).
type thoughtUnitSchema struct {
	Claim   string `json:"claim"`
	Context string `json:"context"`
}

// Extractor runs C6: split each active RawNote into 1-5 atomic thought
// units and embed each one.
type Extractor struct {
	store               Store
	provider            ChatProvider
	embedder            Embedder
	autoUpdateDistance  bool
	distanceEngine      *DistanceEngine
}

// NewExtractor builds an Extractor. distanceEngine may be nil if
// autoUpdateDistance is false.
func NewExtractor(store Store, provider ChatProvider, embedder Embedder, autoUpdateDistance bool, distanceEngine *DistanceEngine) *Extractor {
	return &Extractor{
		store:              store,
		provider:           provider,
		embedder:           embedder,
		autoUpdateDistance: autoUpdateDistance,
		distanceEngine:     distanceEngine,
	}
}

// ExtractionResult summarizes one run of Run.
type ExtractionResult struct {
	NotesProcessed int
	UnitsInserted  int
	NotesSkipped   int
	NotesFailed    int
}

// Run processes every active RawNote in chunks of extractionBatchSize.
func (e *Extractor) Run(ctx context.Context) (ExtractionResult, error) {
	var result ExtractionResult
	var newUnitIDs []int64

	offset := 0
	for {
		notes, err := e.store.ListActiveRawNotes(ctx, offset, extractionBatchSize)
		if err != nil {
			return result, err
		}
		if len(notes) == 0 {
			break
		}
		offset += len(notes)

		capitan.Emit(ctx, ExtractionStarted, FieldBatchSize.Field(len(notes)))

		for _, note := range notes {
			inserted, ids, err := e.extractOne(ctx, note)
			result.NotesProcessed++
			if err != nil {
				result.NotesFailed++
				continue
			}
			if inserted == 0 {
				result.NotesSkipped++
				continue
			}
			result.UnitsInserted += inserted
			newUnitIDs = append(newUnitIDs, ids...)
		}

		capitan.Emit(ctx, ExtractionCompleted, FieldProcessed.Field(result.NotesProcessed))
	}

	if e.autoUpdateDistance && len(newUnitIDs) >= autoUpdateDistanceTableThreshold && e.distanceEngine != nil {
		if _, err := e.distanceEngine.IncrementalUpdate(ctx, newUnitIDs); err != nil {
			return result, err
		}
	}

	return result, nil
}

// extractOne handles a single note: skip if empty, extract claims, embed
// each, and insert in one batched write.
func (e *Extractor) extractOne(ctx context.Context, note *RawNote) (int, []int64, error) {
	title := strings.TrimSpace(note.Title)
	content := ""
	if note.Content != nil {
		content = strings.TrimSpace(*note.Content)
	}
	if title == "" && content == "" {
		return 0, nil, nil
	}

	units, err := e.callExtraction(ctx, title, content)
	if err != nil {
		return 0, nil, err
	}

	now := time.Now()
	rows := make([]*ThoughtUnit, 0, len(units))
	for _, u := range units {
		embedding, err := e.embedder.Embed(ctx, embedInput(u))
		if err != nil {
			return 0, nil, err
		}
		var ctxPtr *string
		if u.Context != "" {
			c := u.Context
			ctxPtr = &c
		}
		rows = append(rows, &ThoughtUnit{
			RawNoteID:   note.ExternalID,
			Claim:       u.Claim,
			Context:     ctxPtr,
			Embedding:   NewVector(embedding),
			ExtractedAt: now,
		})
	}

	if err := e.store.InsertThoughtUnits(ctx, rows); err != nil {
		return 0, nil, err
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return len(rows), ids, nil
}

func embedInput(u thoughtUnitSchema) string {
	if u.Context == "" {
		return u.Claim
	}
	return u.Claim + " " + u.Context
}

// callExtraction invokes C4's thought-extraction chat call and validates
// the 1-5 result shape, per §4.6 step 2.
func (e *Extractor) callExtraction(ctx context.Context, title, content string) ([]thoughtUnitSchema, error) {
	prompt := fmt.Sprintf(
		"Extract 1 to 5 atomic claims from this note. Each claim must be a "+
			"self-contained statement between 10 and 500 characters, with an "+
			"optional short context field up to 200 characters. Respond as a "+
			"JSON array of {\"claim\":..., \"context\":...}.\n\nTitle: %s\n\nContent: %s",
		title, content,
	)

	resp, err := e.provider.Chat(ctx, []ChatMessage{
		{Role: "system", Content: "You extract atomic claims from personal notes."},
		{Role: "user", Content: prompt},
	}, 0.2)
	if err != nil {
		return nil, err
	}

	var units []thoughtUnitSchema
	if err := ExtractJSON(resp.Text, &units); err != nil {
		retryResp, retryErr := e.provider.Chat(ctx, []ChatMessage{
			{Role: "system", Content: "Respond with ONLY a JSON array, no prose."},
			{Role: "user", Content: prompt},
		}, 0.2)
		if retryErr != nil {
			return nil, &ValidationFailure{Step: "extract", Reason: err.Error(), Raw: resp.Text}
		}
		if err := ExtractJSON(retryResp.Text, &units); err != nil {
			return nil, &ValidationFailure{Step: "extract", Reason: err.Error(), Raw: retryResp.Text}
		}
	}

	if len(units) < 1 || len(units) > 5 {
		return nil, &ValidationFailure{Step: "extract", Reason: fmt.Sprintf("expected 1-5 units, got %d", len(units))}
	}
	for _, u := range units {
		if len(u.Claim) < 10 || len(u.Claim) > 500 {
			return nil, &ValidationFailure{Step: "extract", Reason: "claim length out of bounds"}
		}
		if len(u.Context) > 200 {
			return nil, &ValidationFailure{Step: "extract", Reason: "context too long"}
		}
	}

	return units, nil
}
