// Package serenpair mines serendipitous conceptual pairs out of a personal
// notes corpus and turns the strongest ones into essay-writing prompts.
//
// The pipeline runs in stages: incremental import pulls pages from an
// external note source into raw_notes ([Ingester]); extraction splits each
// note into atomic claims and embeds them ([Extractor]); a pairwise
// similarity table is built and kept current ([DistanceEngine]); mining
// samples candidate pairs from a configurable similarity band ([Miner]); a
// scoring worker asks an LLM how serendipitous each candidate connection is
// and promotes the strong ones ([Scorer]); and [Recommender] / [EssayWriter]
// turn promoted pairs into writing prompts.
//
// # Stages
//
//   - [Ingester] - C5, change-detected incremental import
//   - [Extractor] - C6, claim extraction and embedding
//   - [DistanceEngine] - C7, pairwise similarity table and distribution cache
//   - [Miner] - C8, sampling-based candidate mining
//   - [Scorer] - C9, LLM scoring and promotion
//   - [Recommender] - C10, tier-aware recommendation with diversity scoring
//   - [EssayWriter] - C11, essay prompt generation
//
// # Persistence
//
// [Store] is the full persistence contract; [SoyStore] implements it over
// Postgres, using soy for typed single-table CRUD and raw sqlx for the
// stored-procedure-shaped calls (change detection, distance table batches,
// distribution sampling) that don't fit a generic query builder.
//
// # External calls
//
// [WithRetry] paces requests with an optional [TokenBucket] and retries
// transient failures with exponential backoff ([NewBackoff]). The note
// source's calls go through it with a bucket and the pair-scoring chat call
// goes through it without one; thought extraction, essay generation and
// embedding calls are made directly, with no pacing and no retry.
package serenpair
