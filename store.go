package serenpair

import (
	"context"
	"time"
)

// ChangedPages is the result of a get_changed_pages comparison between the
// note source's current listing and the stored raw_notes table.
type ChangedPages struct {
	NewIDs       []string
	UpdatedIDs   []string
	DeletedIDs   []string
	UnchangedCount int
}

// PageStamp is the minimal shape the change-detection RPC needs per page.
type PageStamp struct {
	ExternalID     string
	ExternalEdited time.Time
}

// DistanceStats summarizes the thought_pair_distances table.
type DistanceStats struct {
	Count int64
	Min   float64
	Max   float64
	Mean  float64
}

// Store is the typed persistence contract for every entity in §3 plus the
// stored-procedure calls §4.2 names. A single implementation (SoyStore)
// backs both the typed CRUD (via soy) and the raw RPC calls (via sqlx),
// since Postgres stored procedures aren't expressible through soy's
// generic query builder.
type Store interface {
	// RawNote
	UpsertRawNote(ctx context.Context, note *RawNote) error
	SoftDeleteRawNote(ctx context.Context, externalID string) error
	GetRawNote(ctx context.Context, externalID string) (*RawNote, error)
	ListActiveRawNotes(ctx context.Context, offset, limit int) ([]*RawNote, error)

	// ThoughtUnit
	InsertThoughtUnits(ctx context.Context, units []*ThoughtUnit) error
	GetThoughtUnits(ctx context.Context, ids []int64) (map[int64]*ThoughtUnit, error)
	CountThoughtUnits(ctx context.Context) (int, error)
	ListThoughtUnitIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error)

	// ThoughtPairDistance
	InsertDistances(ctx context.Context, rows []ThoughtPairDistance) (inserted int, err error)
	QueryDistanceBand(ctx context.Context, minSim, maxSim float64, offset, limit int) ([]ThoughtPairDistance, error)
	DistanceStatistics(ctx context.Context) (DistanceStats, error)

	// PairCandidate
	InsertCandidates(ctx context.Context, rows []PairCandidate) (inserted int, err error)
	ListPendingCandidates(ctx context.Context, minSim, maxSim float64, maxCandidates int) ([]PairCandidate, error)
	UpdateCandidateScore(ctx context.Context, id int64, score int, reason string) error
	MarkCandidateFailed(ctx context.Context, id int64, reason string) error

	// ThoughtPair
	MoveToThoughtPairs(ctx context.Context, candidateIDs []int64, minScore int) (migrated int, err error)
	ListThoughtPairsByTier(ctx context.Context, tier string, limit int) ([]ThoughtPair, error)
	MarkPairUsedInEssay(ctx context.Context, aID, bID int64) error

	// Essay
	InsertEssay(ctx context.Context, essay *Essay) error

	// DistributionCache
	GetDistributionCache(ctx context.Context) (*DistributionCache, error)
	SetDistributionCache(ctx context.Context, cache *DistributionCache) error

	// ImportJob
	CreateImportJob(ctx context.Context, job *ImportJob) error
	UpdateImportJob(ctx context.Context, job *ImportJob) error
	IncrementJobProgress(ctx context.Context, jobID string, imported, skipped, deleted int, failedPage string) error
	GetImportJob(ctx context.Context, id string) (*ImportJob, error)

	// MiningProgress
	GetMiningProgress(ctx context.Context, id string) (*MiningProgress, error)
	SaveMiningProgress(ctx context.Context, progress *MiningProgress) error

	// Stored procedures (§4.2)
	GetChangedPages(ctx context.Context, pages []PageStamp) (ChangedPages, error)
	FindSimilarPairsTopK(ctx context.Context, minSim, maxSim float64, k, limit int) ([]PairCandidate, error)
	BuildDistanceTableBatch(ctx context.Context, offset, size int) (inserted int, err error)
	UpdateDistanceTableIncremental(ctx context.Context, newIDs []int64) (inserted int, err error)
	MineCandidatePairs(ctx context.Context, params MiningParams) (MiningResult, error)
	CalculateDistributionFromDistanceTable(ctx context.Context) (*DistributionCache, error)
	CalculateSimilarityDistribution(ctx context.Context) (*DistributionCache, error)
}
