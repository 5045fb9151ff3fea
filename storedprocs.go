package serenpair

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/lib/pq"
)

// This file backs the stored-procedure half of Store: calls that are
// naturally expressed as a single round-trip to a Postgres function rather
// than soy's per-row query builder. Only MineCandidatePairs calls a
// database-side function, and it has no Go fallback of its own (Miner.RunRound
// falls back to its Go-side sampling when that call fails); the other
// methods run plain SQL and finish their computation in Go.

// GetChangedPages diffs the upstream listing against raw_notes.external_edited.
// It reads every raw_notes row and computes the diff in Go; no database-side
// function is called.
func (s *SoyStore) GetChangedPages(ctx context.Context, pages []PageStamp) (ChangedPages, error) {
	var result ChangedPages

	type row struct {
		ExternalID string `db:"external_id"`
		Status     string `db:"status"`
	}

	ids := make([]string, len(pages))
	edited := make(map[string]int64, len(pages))
	for i, p := range pages {
		ids[i] = p.ExternalID
		edited[p.ExternalID] = p.ExternalEdited.Unix()
	}

	var existing []struct {
		ExternalID     string `db:"external_id"`
		ExternalEdited int64  `db:"external_edited_unix"`
		IsDeleted      bool   `db:"is_deleted"`
	}
	err := s.db.SelectContext(ctx, &existing,
		`SELECT external_id, extract(epoch from external_edited)::bigint AS external_edited_unix, is_deleted FROM raw_notes`)
	if err != nil {
		return result, fmt.Errorf("get changed pages: %w", err)
	}

	stored := make(map[string]struct {
		edited int64
		active bool
	}, len(existing))
	for _, e := range existing {
		stored[e.ExternalID] = struct {
			edited int64
			active bool
		}{edited: e.ExternalEdited, active: !e.IsDeleted}
	}

	seen := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		seen[p.ExternalID] = struct{}{}
		prev, ok := stored[p.ExternalID]
		switch {
		case !ok:
			result.NewIDs = append(result.NewIDs, p.ExternalID)
		case !prev.active:
			result.NewIDs = append(result.NewIDs, p.ExternalID)
		case prev.edited != p.ExternalEdited.Unix():
			result.UpdatedIDs = append(result.UpdatedIDs, p.ExternalID)
		default:
			result.UnchangedCount++
		}
	}

	for externalID, prev := range stored {
		if !prev.active {
			continue
		}
		if _, ok := seen[externalID]; !ok {
			result.DeletedIDs = append(result.DeletedIDs, externalID)
		}
	}

	return result, nil
}

// FindSimilarPairsTopK is the vector-search fallback used when the distance
// table has no coverage for a source unit yet, per §4.8's fallback order.
func (s *SoyStore) FindSimilarPairsTopK(ctx context.Context, minSim, maxSim float64, k, limit int) ([]PairCandidate, error) {
	var rows []struct {
		AID        int64   `db:"a_id"`
		BID        int64   `db:"b_id"`
		Similarity float64 `db:"similarity"`
		RawNoteIDA string  `db:"raw_note_id_a"`
		RawNoteIDB string  `db:"raw_note_id_b"`
	}

	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id AS a_id, b.id AS b_id,
		       1 - (a.embedding <=> b.embedding) AS similarity,
		       a.raw_note_id AS raw_note_id_a, b.raw_note_id AS raw_note_id_b
		FROM thought_units a
		JOIN LATERAL (
			SELECT id, embedding, raw_note_id FROM thought_units b
			WHERE b.id <> a.id
			ORDER BY a.embedding <=> b.embedding ASC
			LIMIT $3
		) b ON true
		WHERE (1 - (a.embedding <=> b.embedding)) BETWEEN $1 AND $2
		LIMIT $4`, minSim, maxSim, k, limit)
	if err != nil {
		return nil, fmt.Errorf("find similar pairs top k: %w", err)
	}

	out := make([]PairCandidate, len(rows))
	for i, r := range rows {
		aID, bID := r.AID, r.BID
		rawA, rawB := r.RawNoteIDA, r.RawNoteIDB
		if aID > bID {
			aID, bID = bID, aID
			rawA, rawB = rawB, rawA
		}
		out[i] = PairCandidate{
			AID:        aID,
			BID:        bID,
			Similarity: r.Similarity,
			RawNoteIDA: rawA,
			RawNoteIDB: rawB,
			LLMStatus:  LLMStatusPending,
		}
	}
	return out, nil
}

// BuildDistanceTableBatch computes pairwise cosine similarity for the
// thought unit slice [offset, offset+size) against every other unit,
// inserting with ON CONFLICT DO NOTHING so a retried batch is idempotent.
func (s *SoyStore) BuildDistanceTableBatch(ctx context.Context, offset, size int) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		WITH slice AS (
			SELECT id, embedding FROM thought_units ORDER BY id ASC OFFSET $1 LIMIT $2
		)
		INSERT INTO thought_pair_distances (a_id, b_id, similarity)
		SELECT LEAST(slice.id, other.id), GREATEST(slice.id, other.id),
		       1 - (slice.embedding <=> other.embedding)
		FROM slice
		JOIN thought_units other ON other.id <> slice.id
		ON CONFLICT (a_id, b_id) DO NOTHING`, offset, size)
	if err != nil {
		return 0, fmt.Errorf("build distance table batch: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// UpdateDistanceTableIncremental inserts distances between the given new
// thought ids and every existing unit, plus pairs within the new set.
func (s *SoyStore) UpdateDistanceTableIncremental(ctx context.Context, newIDs []int64) (int, error) {
	if len(newIDs) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx, `
		WITH fresh AS (
			SELECT id, embedding FROM thought_units WHERE id = ANY($1)
		)
		INSERT INTO thought_pair_distances (a_id, b_id, similarity)
		SELECT LEAST(fresh.id, other.id), GREATEST(fresh.id, other.id),
		       1 - (fresh.embedding <=> other.embedding)
		FROM fresh
		JOIN thought_units other ON other.id <> fresh.id
		ON CONFLICT (a_id, b_id) DO NOTHING`, pq.Array(newIDs))
	if err != nil {
		return 0, fmt.Errorf("update distance table incremental: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// MineCandidatePairs is a thin pass-through to a single mine_candidate_pairs
// stored procedure call, for callers that want the database to do Method B's
// sampling itself rather than going through Miner's Go-side loop. Miner.RunRound
// tries this first and falls back to its own sampling when this call
// returns any error.
func (s *SoyStore) MineCandidatePairs(ctx context.Context, params MiningParams) (MiningResult, error) {
	var result MiningResult
	row := s.db.QueryRowContext(ctx,
		`SELECT evaluated, candidates, last_src_id, exhausted FROM mine_candidate_pairs($1, $2, $3, $4, $5, $6, $7, $8)`,
		params.AfterID, params.SrcBatch, params.DstSample, params.KPerSrc, params.PLo, params.PHi, params.Seed, params.MaxRounds)
	if err := row.Scan(&result.Evaluated, &result.Candidates, &result.LastSrcID, &result.Exhausted); err != nil {
		return result, fmt.Errorf("mine candidate pairs: %w", err)
	}
	return result, nil
}

// CalculateDistributionFromDistanceTable samples up to 10,000 rows from
// thought_pair_distances and computes the p0..p100 percentile snapshot,
// mean, and standard deviation entirely in Go to avoid depending on a
// Postgres percentile_cont extension being present.
func (s *SoyStore) CalculateDistributionFromDistanceTable(ctx context.Context) (*DistributionCache, error) {
	var sims []float64
	err := s.db.SelectContext(ctx, &sims,
		`SELECT similarity FROM thought_pair_distances ORDER BY random() LIMIT 10000`)
	if err != nil {
		return nil, fmt.Errorf("sample distance table: %w", err)
	}

	var totalPairs int64
	if err := s.db.GetContext(ctx, &totalPairs, `SELECT count(*) FROM thought_pair_distances`); err != nil {
		return nil, fmt.Errorf("count distance table: %w", err)
	}

	thoughtCount, err := s.CountThoughtUnits(ctx)
	if err != nil {
		return nil, err
	}

	return distributionFromSamples(sims, thoughtCount, totalPairs), nil
}

// vectorDistributionSampleSize bounds the self-join in
// CalculateSimilarityDistribution so its O(n^2) pairwise comparison stays
// cheap even on a large corpus.
const vectorDistributionSampleSize = 200

// CalculateSimilarityDistribution recomputes the percentile snapshot
// directly from thought_units.embedding rather than thought_pair_distances,
// for use when the distance table is empty or not yet built (§4.2's "slow
// fallback"). It draws a bounded random sample of units and computes every
// pairwise cosine similarity within that sample in a single query, so it
// produces a real result even before BuildDistanceTableBatch has ever run.
func (s *SoyStore) CalculateSimilarityDistribution(ctx context.Context) (*DistributionCache, error) {
	var sims []float64
	err := s.db.SelectContext(ctx, &sims, `
		WITH sample AS (
			SELECT id, embedding FROM thought_units ORDER BY random() LIMIT $1
		)
		SELECT 1 - (a.embedding <=> b.embedding) AS similarity
		FROM sample a
		JOIN sample b ON a.id < b.id`, vectorDistributionSampleSize)
	if err != nil {
		return nil, fmt.Errorf("calculate similarity distribution from vectors: %w", err)
	}

	thoughtCount, err := s.CountThoughtUnits(ctx)
	if err != nil {
		return nil, err
	}

	var totalPairs int64
	if thoughtCount > 1 {
		totalPairs = int64(thoughtCount) * int64(thoughtCount-1) / 2
	}

	return distributionFromSamples(sims, thoughtCount, totalPairs), nil
}

func distributionFromSamples(sims []float64, thoughtCount int, totalPairs int64) *DistributionCache {
	sorted := append([]float64(nil), sims...)
	sort.Float64s(sorted)

	percentiles := make(Percentiles, 11)
	for p := 0; p <= 100; p += 10 {
		percentiles[p] = percentileOf(sorted, p)
	}

	var mean, sumSq float64
	for _, v := range sorted {
		mean += v
	}
	if len(sorted) > 0 {
		mean /= float64(len(sorted))
	}
	for _, v := range sorted {
		d := v - mean
		sumSq += d * d
	}
	var stddev float64
	if len(sorted) > 0 {
		stddev = math.Sqrt(sumSq / float64(len(sorted)))
	}

	return &DistributionCache{
		ID:           1,
		Percentiles:  percentiles,
		Mean:         mean,
		StdDev:       stddev,
		ThoughtCount: thoughtCount,
		TotalPairs:   totalPairs,
	}
}

func percentileOf(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int(float64(p) / 100 * float64(len(sorted)-1))
	return sorted[idx]
}
