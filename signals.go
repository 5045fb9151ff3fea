package serenpair

import "github.com/zoobzio/capitan"

// Signal definitions for serenpair pipeline events.
// Signals follow the pattern: serenpair.<entity>.<event>.
var (
	// Ingest lifecycle.
	ImportStarted = capitan.NewSignal(
		"serenpair.import.started",
		"Incremental note import job began",
	)
	ImportPageIngested = capitan.NewSignal(
		"serenpair.import.page_ingested",
		"A single note was fetched and upserted",
	)
	ImportPageSkipped = capitan.NewSignal(
		"serenpair.import.page_skipped",
		"A note missing from the upstream listing was soft-deleted",
	)
	ImportCompleted = capitan.NewSignal(
		"serenpair.import.completed",
		"Import job finished processing all changed pages",
	)
	ImportFailed = capitan.NewSignal(
		"serenpair.import.failed",
		"Import job aborted, or a job status or progress write failed while the import continued",
	)

	// Extraction.
	ExtractionStarted = capitan.NewSignal(
		"serenpair.extract.started",
		"Thought-unit extraction began for a batch of raw notes",
	)
	ExtractionCompleted = capitan.NewSignal(
		"serenpair.extract.completed",
		"Thought-unit extraction finished for a batch of raw notes",
	)

	// Distance table.
	DistanceBuildStarted = capitan.NewSignal(
		"serenpair.distance.build.started",
		"Full distance table build began",
	)
	DistanceBuildBatchFailed = capitan.NewSignal(
		"serenpair.distance.build.batch_failed",
		"A batch of distance rows failed to insert; build continues with the next batch",
	)
	DistanceBuildCompleted = capitan.NewSignal(
		"serenpair.distance.build.completed",
		"Full distance table build finished",
	)
	DistanceIncrementalUpdated = capitan.NewSignal(
		"serenpair.distance.incremental.updated",
		"Incremental distance update inserted rows for a set of new thought units",
	)
	DistributionRefreshed = capitan.NewSignal(
		"serenpair.distance.distribution.refreshed",
		"Distance distribution cache was recomputed from a fresh sample",
	)

	// Mining.
	MiningRoundStarted = capitan.NewSignal(
		"serenpair.mining.round.started",
		"A mining round began scanning a batch of source thought units",
	)
	MiningRoundCompleted = capitan.NewSignal(
		"serenpair.mining.round.completed",
		"A mining round finished and progress was checkpointed",
	)
	MiningFullCompleted = capitan.NewSignal(
		"serenpair.mining.full.completed",
		"mine_full ran out of unprocessed sources or rounds",
	)

	// Scoring.
	ScoringTickStarted = capitan.NewSignal(
		"serenpair.scoring.tick.started",
		"Batch worker began scoring a chunk of pending candidates",
	)
	ScoringChunkFailed = capitan.NewSignal(
		"serenpair.scoring.chunk_failed",
		"An entire chunk failed to score and will be retried on the next tick",
	)
	ScoringRowFailed = capitan.NewSignal(
		"serenpair.scoring.row_failed",
		"A single candidate failed to score, or its score or failure mark could not be persisted",
	)
	ScoringTickCompleted = capitan.NewSignal(
		"serenpair.scoring.tick.completed",
		"Batch worker finished a tick with evaluated/migrated/failed counts",
	)
	PairPromoted = capitan.NewSignal(
		"serenpair.scoring.pair_promoted",
		"A candidate crossed the promotion threshold and was migrated to thought_pairs",
	)

	// Recommendation & essay.
	RecommendationServed = capitan.NewSignal(
		"serenpair.recommend.served",
		"Recommendation query returned a ranked set of pairs",
	)
	EssayGenerated = capitan.NewSignal(
		"serenpair.essay.generated",
		"An essay prompt was generated from a thought pair",
	)
)

// Field keys for serenpair event data.
var (
	FieldNoteID       = capitan.NewStringKey("note_id")
	FieldThoughtID    = capitan.NewStringKey("thought_unit_id")
	FieldCandidateID  = capitan.NewStringKey("candidate_id")
	FieldPairID       = capitan.NewStringKey("pair_id")
	FieldEssayID      = capitan.NewStringKey("essay_id")
	FieldImportJobID  = capitan.NewStringKey("import_job_id")
	FieldBatchSize    = capitan.NewIntKey("batch_size")
	FieldProcessed    = capitan.NewIntKey("processed")
	FieldSkipped      = capitan.NewIntKey("skipped")
	FieldEvaluated    = capitan.NewIntKey("evaluated")
	FieldMigrated     = capitan.NewIntKey("migrated")
	FieldFailed       = capitan.NewIntKey("failed")
	FieldLastSrcID    = capitan.NewStringKey("last_src_id")
	FieldRound        = capitan.NewIntKey("round")
	FieldQualityTier  = capitan.NewStringKey("quality_tier")
	FieldSimilarity   = capitan.NewFloat64Key("similarity_score")
	FieldClaudeScore  = capitan.NewIntKey("claude_score")
	FieldDuration     = capitan.NewDurationKey("duration")
	FieldError        = capitan.NewErrorKey("error")
	FieldProvider     = capitan.NewStringKey("provider")
	FieldSampleSize   = capitan.NewIntKey("sample_size")
	FieldPercentile   = capitan.NewFloat64Key("percentile")
	FieldResultCount  = capitan.NewIntKey("result_count")
	FieldDiversityWgt = capitan.NewFloat64Key("diversity_weight")
)
