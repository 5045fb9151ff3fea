package serenpair

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// MiningParams configures one sampling-based mining round, mirroring the
// src_batch/dst_sample/k_per_src/p_lo/p_hi/seed/max_rounds knobs of
// candidate_mining_service.py's mine_candidate_pairs call.
type MiningParams struct {
	SrcBatch  int
	DstSample int
	KPerSrc   int
	PLo       float64
	PHi       float64
	Seed      int64
	MaxRounds int
	AfterID   int64
}

// MiningResult summarizes one round's work.
type MiningResult struct {
	Evaluated  int
	Candidates int
	LastSrcID  int64
	Exhausted  bool
}

// Miner runs C8: build a bounded pool of source thought units, sample a
// bounded destination pool, and mine candidate pairs whose similarity falls
// within a percentile band, persisting keyset-paged resume state.
type Miner struct {
	store    Store
	distance *DistanceEngine
	cfg      Config
}

// NewMiner builds a Miner.
func NewMiner(store Store, distance *DistanceEngine, cfg Config) *Miner {
	return &Miner{store: store, distance: distance, cfg: cfg}
}

// relativeThresholdBand validates that a percentile band spans no more than
// 80% of the distribution, per §4.8's guard against a misconfigured band
// that would make nearly every pair a candidate.
func relativeThresholdBand(pLo, pHi float64) error {
	if pLo < 0 || pHi > 1 || pLo >= pHi {
		return &RangeMisconfigurationError{PLo: pLo, PHi: pHi}
	}
	if pHi-pLo > 0.80 {
		return &RangeMisconfigurationError{PLo: pLo, PHi: pHi}
	}
	return nil
}

// RunRound executes one bounded mining round starting from, or resuming, the
// given progress row. A round processes at most params.SrcBatch source units
// and returns when that batch is exhausted or the source table runs dry.
//
// Each round first calls the database-side mine_candidate_pairs function
// once (MineCandidatePairs), which does the whole round's sampling in one
// round-trip. When that call returns any error, RunRound falls back to
// Method B's Go-side sampling loop (candidatesForSource) per source, and
// when that itself errors for a given source, to Method A's precomputed
// distance-table lookup and finally a direct top-k vector search, per
// §4.8's "distance-table query -> top-k vector search -> error" order.
func (m *Miner) RunRound(ctx context.Context, progress *MiningProgress, params MiningParams) (MiningResult, error) {
	if err := relativeThresholdBand(params.PLo, params.PHi); err != nil {
		return MiningResult{}, err
	}
	if params.MaxRounds <= 0 {
		params.MaxRounds = m.cfg.MiningMaxRounds
	}
	if params.MaxRounds <= 0 {
		params.MaxRounds = 1
	}

	capitan.Emit(ctx, MiningRoundStarted,
		FieldBatchSize.Field(params.SrcBatch),
	)
	pipelineMetrics.miningRounds.Add(ctx, 1)

	if dbResult, err := m.store.MineCandidatePairs(ctx, params); err == nil {
		return m.finishRound(ctx, progress, dbResult)
	}

	srcIDs, err := m.store.ListThoughtUnitIDsAfter(ctx, params.AfterID, params.SrcBatch)
	if err != nil {
		return MiningResult{}, err
	}
	if len(srcIDs) == 0 {
		return MiningResult{Exhausted: true, LastSrcID: params.AfterID}, nil
	}

	var minSim, maxSim float64
	var haveThreshold bool

	result := MiningResult{}
	lastID := params.AfterID
	var simSum float64
	var simCount int

	for _, srcID := range srcIDs {
		found, err := m.candidatesForSource(ctx, srcID, params)
		if err != nil {
			if !haveThreshold {
				minSim, maxSim, err = m.distance.CustomThreshold(ctx, percentileMark(params.PLo), percentileMark(params.PHi))
				if err != nil {
					return result, err
				}
				haveThreshold = true
			}

			found, err = m.candidatesViaDistanceTable(ctx, srcID, minSim, maxSim, params)
			if err != nil || len(found) == 0 {
				found, err = m.store.FindSimilarPairsTopK(ctx, minSim, maxSim, params.KPerSrc, params.KPerSrc)
				if err != nil {
					return result, err
				}
			}
		}

		if len(found) > 0 {
			inserted, err := m.store.InsertCandidates(ctx, found)
			if err != nil {
				return result, err
			}
			result.Candidates += inserted
			for _, c := range found {
				simSum += c.Similarity
				simCount++
			}
		}

		result.Evaluated++
		lastID = srcID
	}

	result.LastSrcID = lastID
	if progress != nil {
		progress.LastSrcID = lastID
		progress.TotalProcessed += result.Evaluated
		progress.TotalCandidates += result.Candidates
		progress.UpdatedAt = time.Now()
		progress.Status = MiningStatusInProgress
		if err := m.store.SaveMiningProgress(ctx, progress); err != nil {
			return result, err
		}
	}

	var avgSim float64
	if simCount > 0 {
		avgSim = simSum / float64(simCount)
	}
	capitan.Emit(ctx, MiningRoundCompleted,
		FieldEvaluated.Field(result.Evaluated),
		FieldResultCount.Field(result.Candidates),
		FieldSimilarity.Field(avgSim),
	)

	return result, nil
}

// finishRound folds a database-computed MiningResult (from MineCandidatePairs)
// into progress bookkeeping and the round-completed signal, mirroring the
// tail of the Go-side loop in RunRound.
func (m *Miner) finishRound(ctx context.Context, progress *MiningProgress, result MiningResult) (MiningResult, error) {
	if progress != nil {
		progress.LastSrcID = result.LastSrcID
		progress.TotalProcessed += result.Evaluated
		progress.TotalCandidates += result.Candidates
		progress.UpdatedAt = time.Now()
		progress.Status = MiningStatusInProgress
		if err := m.store.SaveMiningProgress(ctx, progress); err != nil {
			return result, err
		}
	}
	capitan.Emit(ctx, MiningRoundCompleted,
		FieldEvaluated.Field(result.Evaluated),
		FieldResultCount.Field(result.Candidates),
	)
	return result, nil
}

// candidatesForSource implements §4.8 Method B for one source thought: draw
// a deterministic destination sample via a seeded hash over the corpus,
// compute cosine similarity directly against each sampled embedding, and
// keep the closest matches that fall inside [p_lo, p_hi] quantiles of that
// batch's own similarity distribution. A round that comes up short of
// KPerSrc retries with a fresh sample (a different hash salt) up to
// MaxRounds, which is what gives Method B its O(N*k) shape instead of
// Method A's O(N^2) distance-table query.
func (m *Miner) candidatesForSource(ctx context.Context, srcID int64, params MiningParams) ([]PairCandidate, error) {
	srcUnits, err := m.store.GetThoughtUnits(ctx, []int64{srcID})
	if err != nil {
		return nil, err
	}
	srcUnit, ok := srcUnits[srcID]
	if !ok || len(srcUnit.Embedding) == 0 {
		return nil, fmt.Errorf("serenpair: source unit %d has no embedding to sample against", srcID)
	}

	poolSize, err := m.store.CountThoughtUnits(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := m.store.ListThoughtUnitIDsAfter(ctx, 0, poolSize)
	if err != nil {
		return nil, err
	}

	type dstSim struct {
		id  int64
		sim float64
	}

	seen := map[int64]struct{}{srcID: {}}
	units := map[int64]*ThoughtUnit{srcID: srcUnit}
	var inBand []dstSim

	for round := 0; round < params.MaxRounds && len(inBand) < params.KPerSrc; round++ {
		var fresh []int64
		for _, id := range pool {
			if _, dup := seen[id]; dup {
				continue
			}
			if !seededKeep(params.Seed, srcID, id*1000+int64(round), params.DstSample, len(pool)) {
				continue
			}
			seen[id] = struct{}{}
			fresh = append(fresh, id)
		}
		if len(fresh) == 0 {
			continue
		}

		dstUnits, err := m.store.GetThoughtUnits(ctx, fresh)
		if err != nil {
			return nil, err
		}

		var sims []dstSim
		for _, id := range fresh {
			u, ok := dstUnits[id]
			if !ok || len(u.Embedding) == 0 {
				continue
			}
			units[id] = u
			sims = append(sims, dstSim{id: id, sim: cosineSimilarity(srcUnit.Embedding, u.Embedding)})
		}
		if len(sims) == 0 {
			continue
		}

		sorted := make([]float64, len(sims))
		for i, s := range sims {
			sorted[i] = s.sim
		}
		sort.Float64s(sorted)
		lo, hi := quantileOf(sorted, params.PLo), quantileOf(sorted, params.PHi)

		for _, s := range sims {
			if s.sim >= lo && s.sim <= hi {
				inBand = append(inBand, s)
			}
		}
	}

	sort.Slice(inBand, func(i, j int) bool { return inBand[i].sim > inBand[j].sim })
	if len(inBand) > params.KPerSrc {
		inBand = inBand[:params.KPerSrc]
	}

	out := make([]PairCandidate, 0, len(inBand))
	for _, s := range inBand {
		dst := units[s.id]
		aID, bID := srcID, s.id
		rawA, rawB := srcUnit.RawNoteID, dst.RawNoteID
		if aID > bID {
			aID, bID = bID, aID
			rawA, rawB = rawB, rawA
		}
		out = append(out, PairCandidate{
			AID:        aID,
			BID:        bID,
			Similarity: s.sim,
			RawNoteIDA: rawA,
			RawNoteIDB: rawB,
			LLMStatus:  LLMStatusPending,
			CreatedAt:  time.Now(),
		})
	}
	return out, nil
}

// candidatesViaDistanceTable implements §4.8 Method A for a single source:
// read precomputed thought_pair_distances rows already within
// [minSim,maxSim], seeded-sampled down to roughly KPerSrc of them. This is
// the first fallback when Method B's direct sampling errors for a source
// (e.g. a missing embedding or a transient read failure).
func (m *Miner) candidatesViaDistanceTable(ctx context.Context, srcID int64, minSim, maxSim float64, params MiningParams) ([]PairCandidate, error) {
	rows, err := m.store.QueryDistanceBand(ctx, minSim, maxSim, 0, params.DstSample)
	if err != nil {
		return nil, err
	}

	units, err := m.store.GetThoughtUnits(ctx, idsForPair(rows, srcID))
	if err != nil {
		return nil, err
	}

	var out []PairCandidate
	for _, row := range rows {
		if row.AID != srcID && row.BID != srcID {
			continue
		}
		if !seededKeep(params.Seed, srcID, row.AID^row.BID, params.KPerSrc, params.DstSample) {
			continue
		}
		a, okA := units[row.AID]
		b, okB := units[row.BID]
		if !okA || !okB {
			continue
		}
		out = append(out, PairCandidate{
			AID:        row.AID,
			BID:        row.BID,
			Similarity: row.Similarity,
			RawNoteIDA: a.RawNoteID,
			RawNoteIDB: b.RawNoteID,
			LLMStatus:  LLMStatusPending,
			CreatedAt:  time.Now(),
		})
		if len(out) >= params.KPerSrc {
			break
		}
	}
	return out, nil
}

func idsForPair(rows []ThoughtPairDistance, srcID int64) []int64 {
	seen := map[int64]struct{}{}
	var ids []int64
	for _, r := range rows {
		for _, id := range []int64{r.AID, r.BID} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// seededKeep deterministically samples roughly k/n of candidates for a
// given source id, seeded so reruns with the same seed are reproducible.
// Varying salt by retry round (as candidatesForSource does) yields a fresh
// sample without losing reproducibility.
func seededKeep(seed, srcID, salt int64, k, n int) bool {
	if n <= 0 || k >= n {
		return true
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%d:%d:%d", seed, srcID, salt)))
	v := binary.BigEndian.Uint64(h[:8])
	threshold := uint64(float64(k) / float64(n) * float64(^uint64(0)))
	return v < threshold
}

// cosineSimilarity computes cosine similarity between two embeddings of
// equal dimension, returning 0 for empty or mismatched vectors.
func cosineSimilarity(a, b Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// quantileOf returns the value at fraction frac (0..1) of a sorted slice,
// for Method B's local per-batch percentile band. Distinct from
// percentileOf in storedprocs.go, which takes an integer percentile and is
// evaluated at multiples of 10 for the global distribution snapshot.
func quantileOf(sorted []float64, frac float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if frac <= 0 {
		return sorted[0]
	}
	if frac >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(frac * float64(len(sorted)-1))
	return sorted[idx]
}

func percentileMark(p float64) int {
	mark := int(p*100) / 10 * 10
	if mark < 0 {
		mark = 0
	}
	if mark > 100 {
		mark = 100
	}
	return mark
}

// StartMiningRun creates a fresh MiningProgress row and runs rounds until
// either the round cap is reached or the source table is exhausted.
func (m *Miner) StartMiningRun(ctx context.Context, params MiningParams) (*MiningProgress, error) {
	progress := &MiningProgress{
		ID:        uuid.NewString(),
		Status:    MiningStatusPending,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := m.store.SaveMiningProgress(ctx, progress); err != nil {
		return nil, err
	}

	rounds := m.cfg.MiningMaxRounds
	if rounds <= 0 {
		rounds = 1
	}

	for i := 0; i < rounds; i++ {
		roundParams := params
		roundParams.AfterID = progress.LastSrcID
		result, err := m.RunRound(ctx, progress, roundParams)
		if err != nil {
			return progress, err
		}
		if result.Exhausted {
			progress.Status = MiningStatusCompleted
			break
		}
	}

	if progress.Status != MiningStatusCompleted {
		progress.Status = MiningStatusPaused
	}
	progress.UpdatedAt = time.Now()
	if err := m.store.SaveMiningProgress(ctx, progress); err != nil {
		return progress, err
	}

	capitan.Emit(ctx, MiningFullCompleted,
		FieldProcessed.Field(progress.TotalProcessed),
		FieldResultCount.Field(progress.TotalCandidates),
	)
	return progress, nil
}

// ResumeMiningRun continues an existing in-progress or paused run from its
// persisted LastSrcID.
func (m *Miner) ResumeMiningRun(ctx context.Context, progressID string, params MiningParams) (*MiningProgress, error) {
	progress, err := m.store.GetMiningProgress(ctx, progressID)
	if err != nil {
		return nil, err
	}
	params.AfterID = progress.LastSrcID
	_, err = m.RunRound(ctx, progress, params)
	return progress, err
}
