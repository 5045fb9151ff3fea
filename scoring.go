package serenpair

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zoobzio/capitan"
)

// scoringResponseSchema is the validated shape of one LLM scoring call,
// per §4.9: a 0-100 connection score and a short natural-language reason.
type scoringResponseSchema struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// Scorer runs C9: the batch worker that pulls pending PairCandidates,
// scores each with the chat provider, and promotes survivors above the
// threshold into ThoughtPairs.
type Scorer struct {
	store    Store
	provider ChatProvider
	cfg      Config
}

// NewScorer builds a Scorer.
func NewScorer(store Store, provider ChatProvider, cfg Config) *Scorer {
	return &Scorer{store: store, provider: provider, cfg: cfg}
}

// ScoringTickResult summarizes one tick (one chunk) of the worker loop.
type ScoringTickResult struct {
	Evaluated int
	Migrated  int
	Failed    int
}

// RunTick processes one chunk of up to ScoringBatchSize pending candidates,
// then sleeps InterChunkSleep before returning, matching the original
// worker's pacing to stay under the provider's rate limit.
func (s *Scorer) RunTick(ctx context.Context, minSim, maxSim float64) (ScoringTickResult, error) {
	var result ScoringTickResult

	candidates, err := s.store.ListPendingCandidates(ctx, minSim, maxSim, s.cfg.ScoringBatchSize)
	if err != nil {
		return result, err
	}
	if len(candidates) == 0 {
		return result, nil
	}

	capitan.Emit(ctx, ScoringTickStarted, FieldBatchSize.Field(len(candidates)))

	ids := make([]int64, 0, len(candidates)*2)
	for _, c := range candidates {
		ids = append(ids, c.AID, c.BID)
	}
	units, err := s.store.GetThoughtUnits(ctx, ids)
	if err != nil {
		return result, err
	}

	var scoredIDs []int64
	for _, c := range candidates {
		score, reason, err := s.scoreOne(ctx, c, units[c.AID], units[c.BID])
		if err != nil {
			if markErr := s.store.MarkCandidateFailed(ctx, c.ID, err.Error()); markErr != nil {
				capitan.Error(ctx, ScoringRowFailed, FieldCandidateID.Field(strconv.FormatInt(c.ID, 10)), FieldError.Field(markErr))
			}
			result.Failed++
			pipelineMetrics.candidatesFailed.Add(ctx, 1)
			capitan.Error(ctx, ScoringRowFailed, FieldCandidateID.Field(strconv.FormatInt(c.ID, 10)), FieldError.Field(err))
			continue
		}

		if err := s.store.UpdateCandidateScore(ctx, c.ID, score, reason); err != nil {
			result.Failed++
			pipelineMetrics.candidatesFailed.Add(ctx, 1)
			capitan.Error(ctx, ScoringRowFailed, FieldCandidateID.Field(strconv.FormatInt(c.ID, 10)), FieldError.Field(err))
			continue
		}

		result.Evaluated++
		pipelineMetrics.candidatesScored.Add(ctx, 1)
		if score >= s.cfg.PromotionThreshold {
			scoredIDs = append(scoredIDs, c.ID)
		}
	}

	if len(scoredIDs) > 0 {
		migrated, err := s.store.MoveToThoughtPairs(ctx, scoredIDs, s.cfg.PromotionThreshold)
		if err != nil {
			return result, &PartialBatchError{Op: "move_to_thought_pairs", Succeeded: result.Evaluated - len(scoredIDs), Failed: len(scoredIDs), Err: err}
		}
		result.Migrated = migrated
		capitan.Emit(ctx, PairPromoted, FieldMigrated.Field(migrated))
	}

	capitan.Emit(ctx, ScoringTickCompleted,
		FieldEvaluated.Field(result.Evaluated),
		FieldMigrated.Field(result.Migrated),
		FieldFailed.Field(result.Failed),
	)

	time.Sleep(s.cfg.ScoringInterChunkSleep)
	return result, nil
}

// scoreOne issues one LLM scoring call for a candidate pair and validates
// the response shape: score in [0,100], reason non-empty and <=300 chars.
func (s *Scorer) scoreOne(ctx context.Context, c PairCandidate, a, b *ThoughtUnit) (int, string, error) {
	if a == nil || b == nil {
		return 0, "", &ValidationFailure{Step: "score", Reason: "missing thought unit for candidate"}
	}
	prompt := fmt.Sprintf(
		"Rate how serendipitously connected these two ideas are, on a scale "+
			"from 0 (unrelated) to 100 (profound hidden connection). Respond as "+
			"JSON: {\"score\": <int>, \"reason\": <string, one sentence>}.\n\n"+
			"Idea A: %s\n\nIdea B: %s", a.Claim, b.Claim,
	)

	var resp *ChatResponse
	err := WithRetry(ctx, nil, s.cfg, 3, func(ctx context.Context) error {
		r, err := s.provider.Chat(ctx, []ChatMessage{
			{Role: "system", Content: "You evaluate conceptual connections between ideas."},
			{Role: "user", Content: prompt},
		}, DefaultScoringTemperature)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return 0, "", err
	}

	var parsed scoringResponseSchema
	if err := ExtractJSON(resp.Text, &parsed); err != nil {
		retryResp, retryErr := s.provider.Chat(ctx, []ChatMessage{
			{Role: "system", Content: "Respond with ONLY a JSON object, no prose."},
			{Role: "user", Content: prompt},
		}, DefaultScoringTemperature)
		if retryErr != nil {
			return 0, "", &ValidationFailure{Step: "score", Reason: err.Error(), Raw: resp.Text}
		}
		if err := ExtractJSON(retryResp.Text, &parsed); err != nil {
			return 0, "", &ValidationFailure{Step: "score", Reason: err.Error(), Raw: retryResp.Text}
		}
	}
	if parsed.Score < 0 || parsed.Score > 100 {
		return 0, "", &ValidationFailure{Step: "score", Reason: fmt.Sprintf("score %d out of range", parsed.Score)}
	}
	if parsed.Reason == "" || len(parsed.Reason) > 300 {
		return 0, "", &ValidationFailure{Step: "score", Reason: "reason empty or too long"}
	}

	return parsed.Score, parsed.Reason, nil
}
