package serenpair

import "time"

// RawNote is a persisted copy of one external note. Identity is the stable
// external page id rather than a surrogate key, since upserts key off it.
type RawNote struct {
	ExternalID      string            `db:"external_id" type:"text" constraints:"primarykey"`
	Title           string            `db:"title" type:"text" constraints:"notnull"`
	Content         *string           `db:"content" type:"text"`
	Properties      map[string]string `db:"properties" type:"jsonb" default:"'{}'"`
	ExternalCreated time.Time         `db:"external_created" type:"timestamp" constraints:"notnull"`
	ExternalEdited  time.Time         `db:"external_edited" type:"timestamp" constraints:"notnull"`
	ImportedAt      time.Time         `db:"imported_at" type:"timestamp" constraints:"notnull"`
	IsDeleted       bool              `db:"is_deleted" type:"boolean" constraints:"notnull" default:"false"`
	DeletedAt       *time.Time        `db:"deleted_at" type:"timestamp"`
}

// ThoughtUnit is an atomic claim extracted from a note.
type ThoughtUnit struct {
	ID              int64     `db:"id" type:"bigserial" constraints:"primarykey"`
	RawNoteID       string    `db:"raw_note_id" type:"text" constraints:"notnull" references:"raw_notes(external_id)"`
	Claim           string    `db:"claim" type:"text" constraints:"notnull"`
	Context         *string   `db:"context" type:"text"`
	Embedding       Vector    `db:"embedding" type:"vector(1536)"`
	EmbeddingModel  *string   `db:"embedding_model" type:"text"`
	ExtractedAt     time.Time `db:"extracted_at" type:"timestamp" constraints:"notnull"`
}

// ThoughtPairDistance is a cached cosine similarity for an unordered pair of
// ThoughtUnits. Rows are insert-only: a<b is enforced by the writer, never
// by the database, matching the batched-build/incremental-refresh lifecycle.
type ThoughtPairDistance struct {
	AID        int64   `db:"a_id" type:"bigint" constraints:"notnull" references:"thought_units(id)"`
	BID        int64   `db:"b_id" type:"bigint" constraints:"notnull" references:"thought_units(id)"`
	Similarity float64 `db:"similarity" type:"double precision" constraints:"notnull"`
}

// Candidate lifecycle states for PairCandidate.LLMStatus.
const (
	LLMStatusPending   = "pending"
	LLMStatusCompleted = "completed"
	LLMStatusFailed    = "failed"
)

// PairCandidate is a mined pair awaiting LLM evaluation.
type PairCandidate struct {
	ID               int64      `db:"id" type:"bigserial" constraints:"primarykey"`
	AID              int64      `db:"a_id" type:"bigint" constraints:"notnull" references:"thought_units(id)"`
	BID              int64      `db:"b_id" type:"bigint" constraints:"notnull" references:"thought_units(id)"`
	Similarity       float64    `db:"similarity" type:"double precision" constraints:"notnull"`
	RawNoteIDA       string     `db:"raw_note_id_a" type:"text" constraints:"notnull"`
	RawNoteIDB       string     `db:"raw_note_id_b" type:"text" constraints:"notnull"`
	LLMStatus        string     `db:"llm_status" type:"text" constraints:"notnull" default:"'pending'"`
	LLMAttempts      int        `db:"llm_attempts" type:"int" constraints:"notnull" default:"0"`
	LLMScore         *int       `db:"llm_score" type:"int"`
	ConnectionReason *string    `db:"connection_reason" type:"text"`
	LastEvaluatedAt  *time.Time `db:"last_evaluated_at" type:"timestamp"`
	EvaluationError  *string    `db:"evaluation_error" type:"text"`
	CreatedAt        time.Time  `db:"created_at" type:"timestamp" constraints:"notnull"`
}

// Quality tiers and their score bands.
const (
	TierStandard  = "standard"
	TierPremium   = "premium"
	TierExcellent = "excellent"
)

// QualityTier returns the tier for a claude_score in [0,100].
func QualityTier(score int) string {
	switch {
	case score >= 95:
		return TierExcellent
	case score >= 85:
		return TierPremium
	default:
		return TierStandard
	}
}

// ThoughtPair is a curated, promoted pair suitable for essay seeding.
type ThoughtPair struct {
	AID              int64     `db:"a_id" type:"bigint" constraints:"notnull" references:"thought_units(id)"`
	BID              int64     `db:"b_id" type:"bigint" constraints:"notnull" references:"thought_units(id)"`
	Similarity       float64   `db:"similarity" type:"double precision" constraints:"notnull"`
	ClaudeScore      int       `db:"claude_score" type:"int" constraints:"notnull"`
	QualityTier      string    `db:"quality_tier" type:"text" constraints:"notnull"`
	ConnectionReason string    `db:"connection_reason" type:"text" constraints:"notnull"`
	IsUsedInEssay    bool      `db:"is_used_in_essay" type:"boolean" constraints:"notnull" default:"false"`
	CreatedAt        time.Time `db:"created_at" type:"timestamp" constraints:"notnull"`
}

// UsedThought is a denormalized copy of one side of an Essay's seed pair,
// taken at generation time so it survives soft-deletion of the source note.
type UsedThought struct {
	Claim           string `json:"claim"`
	SourceNoteTitle string `json:"source_note_title"`
	SourceNoteURL   string `json:"source_note_url"`
}

// Essay is a generated writing prompt seeded by exactly one ThoughtPair.
type Essay struct {
	ID           int64         `db:"id" type:"bigserial" constraints:"primarykey"`
	PairAID      int64         `db:"pair_a_id" type:"bigint" constraints:"notnull"`
	PairBID      int64         `db:"pair_b_id" type:"bigint" constraints:"notnull"`
	Title        string        `db:"title" type:"text" constraints:"notnull"`
	Outline      []string      `db:"outline" type:"jsonb" constraints:"notnull"`
	UsedThoughts []UsedThought `db:"used_thoughts" type:"jsonb" constraints:"notnull"`
	Reason       string        `db:"reason" type:"text" constraints:"notnull"`
	GeneratedAt  time.Time     `db:"generated_at" type:"timestamp" constraints:"notnull"`
}

// Percentiles holds the p0..p100 snapshot of the similarity distribution,
// keyed by percentile (0, 10, 20, ... 100).
type Percentiles map[int]float64

// DistributionCache is the singleton row holding the similarity distribution
// snapshot. Only one row ever exists (id=1).
type DistributionCache struct {
	ID            int         `db:"id" type:"int" constraints:"primarykey" default:"1"`
	Percentiles   Percentiles `db:"percentiles" type:"jsonb" constraints:"notnull"`
	Mean          float64     `db:"mean" type:"double precision" constraints:"notnull"`
	StdDev        float64     `db:"stddev" type:"double precision" constraints:"notnull"`
	ThoughtCount  int         `db:"thought_count" type:"int" constraints:"notnull"`
	TotalPairs    int64       `db:"total_pairs" type:"bigint" constraints:"notnull"`
	CalculatedAt  time.Time   `db:"calculated_at" type:"timestamp" constraints:"notnull"`
	DurationMs    int64       `db:"duration_ms" type:"bigint" constraints:"notnull"`
}

// ImportJob statuses.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Note source fetch modes, echoed onto ImportJob for operator visibility.
const (
	FetchModeDatabase   = "database"
	FetchModeParentPage = "parent_page"
)

// ImportJob is a background ingest run.
type ImportJob struct {
	ID           string            `db:"id" type:"uuid" constraints:"primarykey" default:"gen_random_uuid()"`
	Mode         string            `db:"mode" type:"text" constraints:"notnull"`
	Status       string            `db:"status" type:"text" constraints:"notnull" default:"'pending'"`
	TotalPages   int               `db:"total_pages" type:"int" constraints:"notnull" default:"0"`
	Processed    int               `db:"processed" type:"int" constraints:"notnull" default:"0"`
	Imported     int               `db:"imported" type:"int" constraints:"notnull" default:"0"`
	Skipped      int               `db:"skipped" type:"int" constraints:"notnull" default:"0"`
	Deleted      int               `db:"deleted" type:"int" constraints:"notnull" default:"0"`
	FailedPages  []string          `db:"failed_pages" type:"jsonb" default:"'[]'"`
	Config       map[string]string `db:"config" type:"jsonb" default:"'{}'"`
	StartedAt    time.Time         `db:"started_at" type:"timestamp" constraints:"notnull"`
	CompletedAt  *time.Time        `db:"completed_at" type:"timestamp"`
}

// MiningProgress statuses.
const (
	MiningStatusPending    = "pending"
	MiningStatusInProgress = "in_progress"
	MiningStatusPaused     = "paused"
	MiningStatusCompleted  = "completed"
)

// MiningProgress is the keyset-paged state of a running sampling-based
// mining run.
type MiningProgress struct {
	ID              string            `db:"id" type:"uuid" constraints:"primarykey" default:"gen_random_uuid()"`
	LastSrcID       int64             `db:"last_src_id" type:"bigint" constraints:"notnull" default:"0"`
	TotalProcessed  int               `db:"total_processed" type:"int" constraints:"notnull" default:"0"`
	TotalCandidates int               `db:"total_candidates" type:"int" constraints:"notnull" default:"0"`
	Params          map[string]string `db:"params" type:"jsonb" default:"'{}'"`
	Status          string            `db:"status" type:"text" constraints:"notnull" default:"'pending'"`
	StartedAt       time.Time         `db:"started_at" type:"timestamp" constraints:"notnull"`
	UpdatedAt       time.Time         `db:"updated_at" type:"timestamp" constraints:"notnull"`
}
