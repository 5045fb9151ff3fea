package serenpair

import (
	"context"

	"github.com/zoobzio/capitan"
)

// RecommendParams are the inbound parameters to a recommendation request,
// validated and clamped rather than rejected, matching recommendation.py's
// lenient style: a bad diversity_weight or quality_tiers list degrades to a
// sane default instead of failing the request. The correction is not logged.
type RecommendParams struct {
	Limit          int
	QualityTiers   []string
	DiversityWeight float64
}

// Recommendation is one scored, ranked pair suggestion.
type Recommendation struct {
	Pair          ThoughtPair
	DiversityScore float64
	FinalScore     float64
}

// Recommender runs C10: pull unused pairs in tier-priority order and score
// them with a claude-score/diversity blend.
type Recommender struct {
	store Store
	cfg   Config
}

// NewRecommender builds a Recommender.
func NewRecommender(store Store, cfg Config) *Recommender {
	return &Recommender{store: store, cfg: cfg}
}

var validTiers = []string{TierExcellent, TierPremium, TierStandard}

// sanitize clamps diversity_weight to [0,1] and falls back quality_tiers to
// every valid tier when the given list is empty or contains no valid value.
func (p RecommendParams) sanitize(ctx context.Context) RecommendParams {
	out := p
	if out.Limit <= 0 {
		out.Limit = 10
	}
	if out.DiversityWeight < 0 {
		out.DiversityWeight = 0
	} else if out.DiversityWeight > 1 {
		out.DiversityWeight = 1
	}

	var filtered []string
	for _, t := range out.QualityTiers {
		for _, v := range validTiers {
			if t == v {
				filtered = append(filtered, t)
				break
			}
		}
	}
	if len(filtered) == 0 {
		filtered = validTiers
	}
	out.QualityTiers = filtered
	return out
}

// Recommend returns up to params.Limit pairs, preferring excellent over
// premium over standard within the requested tier set, scored by a blend
// of the LLM connection score and a novelty/diversity term.
func (r *Recommender) Recommend(ctx context.Context, params RecommendParams) ([]Recommendation, error) {
	params = params.sanitize(ctx)

	var pool []ThoughtPair
	for _, tier := range orderedTiers(params.QualityTiers) {
		rows, err := r.store.ListThoughtPairsByTier(ctx, tier, params.Limit*3)
		if err != nil {
			return nil, err
		}
		pool = append(pool, rows...)
		if len(pool) >= params.Limit*3 {
			break
		}
	}

	usage := make(map[int64]int)
	for _, p := range pool {
		usage[p.AID]++
		usage[p.BID]++
	}

	recs := make([]Recommendation, 0, len(pool))
	for _, p := range pool {
		diversity := diversityScore(usage[p.AID], usage[p.BID])
		final := float64(p.ClaudeScore)*(1-params.DiversityWeight) + diversity*100*params.DiversityWeight
		recs = append(recs, Recommendation{Pair: p, DiversityScore: diversity, FinalScore: final})
	}

	recs = topN(recs, params.Limit)

	capitan.Emit(ctx, RecommendationServed,
		FieldResultCount.Field(len(recs)),
		FieldDiversityWgt.Field(params.DiversityWeight),
	)
	return recs, nil
}

// orderedTiers returns the requested tiers in excellent > premium > standard
// priority order, ignoring tiers not present in requested.
func orderedTiers(requested []string) []string {
	requestedSet := make(map[string]struct{}, len(requested))
	for _, t := range requested {
		requestedSet[t] = struct{}{}
	}
	var out []string
	for _, t := range validTiers {
		if _, ok := requestedSet[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// diversityScore mirrors recommendation.py's 1/(count_a+count_b): pairs
// whose thoughts appear less often elsewhere in the pool score higher.
func diversityScore(countA, countB int) float64 {
	total := countA + countB
	if total == 0 {
		return 1
	}
	return 1 / float64(total)
}

// topN sorts recs by FinalScore descending and returns at most n, using a
// simple insertion sort since recommendation pools are small (<=limit*9).
func topN(recs []Recommendation, n int) []Recommendation {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].FinalScore > recs[j-1].FinalScore; j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
	if len(recs) > n {
		recs = recs[:n]
	}
	return recs
}
