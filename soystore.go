package serenpair

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/astql/postgres"
	"github.com/zoobzio/soy"
)

// SoyStore implements Store. Typed single-table CRUD goes through soy;
// the stored-procedure half (storedprocs.go) drops to sqlx directly since
// Postgres functions aren't expressible through soy's query builder.
type SoyStore struct {
	db *sqlx.DB

	rawNotes      *soy.Soy[RawNote]
	thoughtUnits  *soy.Soy[ThoughtUnit]
	distances     *soy.Soy[ThoughtPairDistance]
	candidates    *soy.Soy[PairCandidate]
	pairs         *soy.Soy[ThoughtPair]
	essays        *soy.Soy[Essay]
	distribution  *soy.Soy[DistributionCache]
	importJobs    *soy.Soy[ImportJob]
	miningProgress *soy.Soy[MiningProgress]
}

// NewSoyStore wires a SoyStore over an already-connected sqlx.DB.
func NewSoyStore(db *sqlx.DB) (*SoyStore, error) {
	renderer := postgres.New()

	rawNotes, err := soy.New[RawNote](db, "raw_notes", renderer)
	if err != nil {
		return nil, fmt.Errorf("init raw_notes table: %w", err)
	}
	thoughtUnits, err := soy.New[ThoughtUnit](db, "thought_units", renderer)
	if err != nil {
		return nil, fmt.Errorf("init thought_units table: %w", err)
	}
	distances, err := soy.New[ThoughtPairDistance](db, "thought_pair_distances", renderer)
	if err != nil {
		return nil, fmt.Errorf("init thought_pair_distances table: %w", err)
	}
	candidates, err := soy.New[PairCandidate](db, "pair_candidates", renderer)
	if err != nil {
		return nil, fmt.Errorf("init pair_candidates table: %w", err)
	}
	pairs, err := soy.New[ThoughtPair](db, "thought_pairs", renderer)
	if err != nil {
		return nil, fmt.Errorf("init thought_pairs table: %w", err)
	}
	essays, err := soy.New[Essay](db, "essays", renderer)
	if err != nil {
		return nil, fmt.Errorf("init essays table: %w", err)
	}
	distribution, err := soy.New[DistributionCache](db, "distribution_cache", renderer)
	if err != nil {
		return nil, fmt.Errorf("init distribution_cache table: %w", err)
	}
	importJobs, err := soy.New[ImportJob](db, "import_jobs", renderer)
	if err != nil {
		return nil, fmt.Errorf("init import_jobs table: %w", err)
	}
	miningProgress, err := soy.New[MiningProgress](db, "mining_progress", renderer)
	if err != nil {
		return nil, fmt.Errorf("init mining_progress table: %w", err)
	}

	return &SoyStore{
		db:             db,
		rawNotes:       rawNotes,
		thoughtUnits:   thoughtUnits,
		distances:      distances,
		candidates:     candidates,
		pairs:          pairs,
		essays:         essays,
		distribution:   distribution,
		importJobs:     importJobs,
		miningProgress: miningProgress,
	}, nil
}

// UpsertRawNote inserts a note, or updates its content/title/edited time in
// place when external_id already exists.
func (s *SoyStore) UpsertRawNote(ctx context.Context, note *RawNote) error {
	existing, err := s.rawNotes.Select().
		Where("external_id", "=", "external_id").
		Exec(ctx, map[string]any{"external_id": note.ExternalID})
	if err == nil && existing != nil {
		_, err := s.rawNotes.Modify().
			Set("title", "title").
			Set("content", "content").
			Set("properties", "properties").
			Set("external_edited", "external_edited").
			Set("imported_at", "imported_at").
			Set("is_deleted", "is_deleted").
			Where("external_id", "=", "external_id").
			Exec(ctx, map[string]any{
				"title":           note.Title,
				"content":         note.Content,
				"properties":      note.Properties,
				"external_edited": note.ExternalEdited,
				"imported_at":     note.ImportedAt,
				"is_deleted":      false,
				"external_id":     note.ExternalID,
			})
		if err != nil {
			return fmt.Errorf("update raw note: %w", err)
		}
		return nil
	}

	if _, err := s.rawNotes.Insert().Exec(ctx, note); err != nil {
		return fmt.Errorf("insert raw note: %w", err)
	}
	return nil
}

// SoftDeleteRawNote flags a note deleted without removing its row, so
// ThoughtUnits extracted from it remain valid foreign keys.
func (s *SoyStore) SoftDeleteRawNote(ctx context.Context, externalID string) error {
	_, err := s.rawNotes.Modify().
		Set("is_deleted", "is_deleted").
		Set("deleted_at", "deleted_at").
		Where("external_id", "=", "external_id").
		Exec(ctx, map[string]any{
			"is_deleted":  true,
			"deleted_at":  time.Now(),
			"external_id": externalID,
		})
	if err != nil {
		return fmt.Errorf("soft delete raw note: %w", err)
	}
	return nil
}

func (s *SoyStore) GetRawNote(ctx context.Context, externalID string) (*RawNote, error) {
	note, err := s.rawNotes.Select().
		Where("external_id", "=", "external_id").
		Exec(ctx, map[string]any{"external_id": externalID})
	if err != nil {
		return nil, fmt.Errorf("get raw note: %w", err)
	}
	return note, nil
}

func (s *SoyStore) ListActiveRawNotes(ctx context.Context, offset, limit int) ([]*RawNote, error) {
	notes, err := s.rawNotes.Query().
		Where("is_deleted", "=", "is_deleted").
		OrderBy("external_id", "asc").
		Offset(offset).
		Limit(limit).
		Exec(ctx, map[string]any{"is_deleted": false})
	if err != nil {
		return nil, fmt.Errorf("list active raw notes: %w", err)
	}
	return notes, nil
}

// InsertThoughtUnits inserts rows one at a time via soy.Insert, populating
// each row's ID, since soy has no typed bulk-insert helper.
func (s *SoyStore) InsertThoughtUnits(ctx context.Context, units []*ThoughtUnit) error {
	for i, u := range units {
		inserted, err := s.thoughtUnits.Insert().Exec(ctx, u)
		if err != nil {
			return fmt.Errorf("insert thought unit %d: %w", i, err)
		}
		units[i] = inserted
	}
	return nil
}

func (s *SoyStore) GetThoughtUnits(ctx context.Context, ids []int64) (map[int64]*ThoughtUnit, error) {
	if len(ids) == 0 {
		return map[int64]*ThoughtUnit{}, nil
	}
	rows, err := s.thoughtUnits.Query().
		Where("id", "IN", "ids").
		Exec(ctx, map[string]any{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("get thought units: %w", err)
	}
	out := make(map[int64]*ThoughtUnit, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

func (s *SoyStore) CountThoughtUnits(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM thought_units`); err != nil {
		return 0, fmt.Errorf("count thought units: %w", err)
	}
	return count, nil
}

func (s *SoyStore) ListThoughtUnitIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM thought_units WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list thought unit ids: %w", err)
	}
	return ids, nil
}

// InsertDistances bulk-inserts rows, skipping any (a_id,b_id) pair already
// present so a rerun of the batched build is resumable.
func (s *SoyStore) InsertDistances(ctx context.Context, rows []ThoughtPairDistance) (int, error) {
	inserted := 0
	for _, r := range rows {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO thought_pair_distances (a_id, b_id, similarity) VALUES ($1, $2, $3)
			 ON CONFLICT (a_id, b_id) DO NOTHING`, r.AID, r.BID, r.Similarity)
		if err != nil {
			return inserted, fmt.Errorf("insert distance (%d,%d): %w", r.AID, r.BID, err)
		}
		inserted++
	}
	return inserted, nil
}

func (s *SoyStore) QueryDistanceBand(ctx context.Context, minSim, maxSim float64, offset, limit int) ([]ThoughtPairDistance, error) {
	var rows []ThoughtPairDistance
	err := s.db.SelectContext(ctx, &rows,
		`SELECT a_id, b_id, similarity FROM thought_pair_distances
		 WHERE similarity BETWEEN $1 AND $2
		 ORDER BY a_id ASC OFFSET $3 LIMIT $4`, minSim, maxSim, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query distance band: %w", err)
	}
	return rows, nil
}

func (s *SoyStore) DistanceStatistics(ctx context.Context) (DistanceStats, error) {
	var stats DistanceStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT count(*) AS count, min(similarity) AS min, max(similarity) AS max, avg(similarity) AS mean
		FROM (SELECT similarity FROM thought_pair_distances ORDER BY random() LIMIT 10000) sample`)
	if err != nil {
		return DistanceStats{}, fmt.Errorf("distance statistics: %w", err)
	}
	return stats, nil
}

func (s *SoyStore) InsertCandidates(ctx context.Context, rows []PairCandidate) (int, error) {
	inserted := 0
	for _, r := range rows {
		r := r
		r.CreatedAt = time.Now()
		if r.LLMStatus == "" {
			r.LLMStatus = LLMStatusPending
		}
		_, err := s.candidates.Insert().Exec(ctx, &r)
		if err != nil {
			return inserted, fmt.Errorf("insert candidate (%d,%d): %w", r.AID, r.BID, err)
		}
		inserted++
	}
	return inserted, nil
}

func (s *SoyStore) ListPendingCandidates(ctx context.Context, minSim, maxSim float64, maxCandidates int) ([]PairCandidate, error) {
	rows, err := s.candidates.Query().
		Where("llm_status", "=", "status").
		Where("similarity", ">=", "min_sim").
		Where("similarity", "<=", "max_sim").
		OrderBy("created_at", "asc").
		Limit(maxCandidates).
		Exec(ctx, map[string]any{
			"status":  LLMStatusPending,
			"min_sim": minSim,
			"max_sim": maxSim,
		})
	if err != nil {
		return nil, fmt.Errorf("list pending candidates: %w", err)
	}
	out := make([]PairCandidate, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}

func (s *SoyStore) UpdateCandidateScore(ctx context.Context, id int64, score int, reason string) error {
	now := time.Now()
	_, err := s.candidates.Modify().
		Set("llm_status", "status").
		Set("llm_score", "score").
		Set("connection_reason", "reason").
		Set("last_evaluated_at", "evaluated_at").
		Set("llm_attempts", "attempts_expr").
		Where("id", "=", "id").
		Exec(ctx, map[string]any{
			"status":        LLMStatusCompleted,
			"score":         score,
			"reason":        reason,
			"evaluated_at":  now,
			"attempts_expr": 1,
			"id":            id,
		})
	if err != nil {
		return fmt.Errorf("update candidate score: %w", err)
	}
	return nil
}

func (s *SoyStore) MarkCandidateFailed(ctx context.Context, id int64, reason string) error {
	now := time.Now()
	_, err := s.candidates.Modify().
		Set("llm_status", "status").
		Set("evaluation_error", "reason").
		Set("last_evaluated_at", "evaluated_at").
		Where("id", "=", "id").
		Exec(ctx, map[string]any{
			"status":       LLMStatusFailed,
			"reason":       reason,
			"evaluated_at": now,
			"id":           id,
		})
	if err != nil {
		return fmt.Errorf("mark candidate failed: %w", err)
	}
	return nil
}

// MoveToThoughtPairs copies the given candidates that are already completed
// with llm_score >= minScore into thought_pairs, within a single transaction
// so a partial migration never leaves a candidate copied twice or dropped.
// It does not change the candidates' own status.
func (s *SoyStore) MoveToThoughtPairs(ctx context.Context, candidateIDs []int64, minScore int) (int, error) {
	if len(candidateIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin move_to_thought_pairs: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sqlx.In(
		`SELECT a_id, b_id, similarity, llm_score, connection_reason
		 FROM pair_candidates WHERE id IN (?) AND llm_status = 'completed' AND llm_score >= ?`,
		candidateIDs, minScore)
	if err != nil {
		return 0, fmt.Errorf("build move query: %w", err)
	}

	var rows []struct {
		AID              int64   `db:"a_id"`
		BID              int64   `db:"b_id"`
		Similarity       float64 `db:"similarity"`
		LLMScore         int     `db:"llm_score"`
		ConnectionReason string  `db:"connection_reason"`
	}
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("select candidates for move: %w", err)
	}

	migrated := 0
	for _, r := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO thought_pairs (a_id, b_id, similarity, claude_score, quality_tier, connection_reason, is_used_in_essay, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, false, now())
			 ON CONFLICT (a_id, b_id) DO NOTHING`,
			r.AID, r.BID, r.Similarity, r.LLMScore, QualityTier(r.LLMScore), r.ConnectionReason)
		if err != nil {
			return migrated, fmt.Errorf("insert thought pair (%d,%d): %w", r.AID, r.BID, err)
		}
		migrated++
	}

	if err := tx.Commit(); err != nil {
		return migrated, fmt.Errorf("commit move_to_thought_pairs: %w", err)
	}
	return migrated, nil
}

func (s *SoyStore) ListThoughtPairsByTier(ctx context.Context, tier string, limit int) ([]ThoughtPair, error) {
	rows, err := s.pairs.Query().
		Where("quality_tier", "=", "tier").
		Where("is_used_in_essay", "=", "used").
		OrderBy("claude_score", "desc").
		Limit(limit).
		Exec(ctx, map[string]any{"tier": tier, "used": false})
	if err != nil {
		return nil, fmt.Errorf("list thought pairs by tier: %w", err)
	}
	out := make([]ThoughtPair, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}

func (s *SoyStore) MarkPairUsedInEssay(ctx context.Context, aID, bID int64) error {
	_, err := s.pairs.Modify().
		Set("is_used_in_essay", "used").
		Where("a_id", "=", "a_id").
		Where("b_id", "=", "b_id").
		Exec(ctx, map[string]any{"used": true, "a_id": aID, "b_id": bID})
	if err != nil {
		return fmt.Errorf("mark pair used in essay: %w", err)
	}
	return nil
}

func (s *SoyStore) InsertEssay(ctx context.Context, essay *Essay) error {
	essay.GeneratedAt = time.Now()
	inserted, err := s.essays.Insert().Exec(ctx, essay)
	if err != nil {
		return fmt.Errorf("insert essay: %w", err)
	}
	*essay = *inserted
	return nil
}

func (s *SoyStore) GetDistributionCache(ctx context.Context) (*DistributionCache, error) {
	cache, err := s.distribution.Select().
		Where("id", "=", "id").
		Exec(ctx, map[string]any{"id": 1})
	if err != nil {
		return nil, nil
	}
	return cache, nil
}

func (s *SoyStore) SetDistributionCache(ctx context.Context, cache *DistributionCache) error {
	cache.ID = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO distribution_cache (id, percentiles, mean, stddev, thought_count, total_pairs, calculated_at, duration_ms)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			percentiles = EXCLUDED.percentiles,
			mean = EXCLUDED.mean,
			stddev = EXCLUDED.stddev,
			thought_count = EXCLUDED.thought_count,
			total_pairs = EXCLUDED.total_pairs,
			calculated_at = EXCLUDED.calculated_at,
			duration_ms = EXCLUDED.duration_ms`,
		cache.Percentiles, cache.Mean, cache.StdDev, cache.ThoughtCount, cache.TotalPairs, cache.CalculatedAt, cache.DurationMs)
	if err != nil {
		return fmt.Errorf("set distribution cache: %w", err)
	}
	return nil
}

func (s *SoyStore) CreateImportJob(ctx context.Context, job *ImportJob) error {
	inserted, err := s.importJobs.Insert().Exec(ctx, job)
	if err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	*job = *inserted
	return nil
}

func (s *SoyStore) UpdateImportJob(ctx context.Context, job *ImportJob) error {
	_, err := s.importJobs.Modify().
		Set("status", "status").
		Set("total_pages", "total_pages").
		Set("processed", "processed").
		Set("imported", "imported").
		Set("skipped", "skipped").
		Set("deleted", "deleted").
		Set("failed_pages", "failed_pages").
		Set("completed_at", "completed_at").
		Where("id", "=", "id").
		Exec(ctx, map[string]any{
			"status":       job.Status,
			"total_pages":  job.TotalPages,
			"processed":    job.Processed,
			"imported":     job.Imported,
			"skipped":      job.Skipped,
			"deleted":      job.Deleted,
			"failed_pages": job.FailedPages,
			"completed_at": job.CompletedAt,
			"id":           job.ID,
		})
	if err != nil {
		return fmt.Errorf("update import job: %w", err)
	}
	return nil
}

// IncrementJobProgress applies one atomic counter bump directly via sqlx,
// bypassing soy's read-modify-write style so concurrent imports (there
// should never be more than one, but nothing enforces that) can't race.
func (s *SoyStore) IncrementJobProgress(ctx context.Context, jobID string, imported, skipped, deleted int, failedPage string) error {
	if failedPage == "" {
		_, err := s.db.ExecContext(ctx,
			`UPDATE import_jobs SET imported = imported + $1, skipped = skipped + $2, deleted = deleted + $3 WHERE id = $4`,
			imported, skipped, deleted, jobID)
		if err != nil {
			return fmt.Errorf("increment job progress: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs SET failed_pages = failed_pages || to_jsonb($1::text) WHERE id = $2`,
		failedPage, jobID)
	if err != nil {
		return fmt.Errorf("append failed page: %w", err)
	}
	return nil
}

func (s *SoyStore) GetImportJob(ctx context.Context, id string) (*ImportJob, error) {
	job, err := s.importJobs.Select().
		Where("id", "=", "id").
		Exec(ctx, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return job, nil
}

func (s *SoyStore) GetMiningProgress(ctx context.Context, id string) (*MiningProgress, error) {
	progress, err := s.miningProgress.Select().
		Where("id", "=", "id").
		Exec(ctx, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get mining progress: %w", err)
	}
	return progress, nil
}

func (s *SoyStore) SaveMiningProgress(ctx context.Context, progress *MiningProgress) error {
	existing, err := s.miningProgress.Select().
		Where("id", "=", "id").
		Exec(ctx, map[string]any{"id": progress.ID})
	if err == nil && existing != nil {
		_, err := s.miningProgress.Modify().
			Set("last_src_id", "last_src_id").
			Set("total_processed", "total_processed").
			Set("total_candidates", "total_candidates").
			Set("status", "status").
			Set("updated_at", "updated_at").
			Where("id", "=", "id").
			Exec(ctx, map[string]any{
				"last_src_id":      progress.LastSrcID,
				"total_processed":  progress.TotalProcessed,
				"total_candidates": progress.TotalCandidates,
				"status":           progress.Status,
				"updated_at":       progress.UpdatedAt,
				"id":               progress.ID,
			})
		if err != nil {
			return fmt.Errorf("update mining progress: %w", err)
		}
		return nil
	}

	if _, err := s.miningProgress.Insert().Exec(ctx, progress); err != nil {
		return fmt.Errorf("insert mining progress: %w", err)
	}
	return nil
}
