package serenpair

import (
	"context"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
)

// Ingester runs the incremental import pipeline (C5): change detection
// against the note source, soft-delete of vanished pages, and idempotent
// upsert of the rest, with progress tracked on an ImportJob row.
type Ingester struct {
	store  Store
	source NoteSource
}

// NewIngester builds an Ingester over the given store and note source.
func NewIngester(store Store, source NoteSource) *Ingester {
	return &Ingester{store: store, source: source}
}

// StartImport creates a pending ImportJob and runs the import in the
// background, returning the job id immediately so callers can poll it.
// The background task itself is a plain goroutine: per §5 there is no
// runtime to cancel it, only the ImportJob row to observe it by.
func (ing *Ingester) StartImport(ctx context.Context) (string, error) {
	job := &ImportJob{
		Mode:      ing.source.Mode(),
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}
	if err := ing.store.CreateImportJob(ctx, job); err != nil {
		return "", err
	}

	capitan.Emit(ctx, ImportStarted, FieldImportJobID.Field(job.ID))

	go func() {
		// Background work outlives the request context; detach it.
		bgCtx := context.Background()
		ing.run(bgCtx, job)
	}()

	return job.ID, nil
}

// run executes the full import flow for an already-created job.
func (ing *Ingester) run(ctx context.Context, job *ImportJob) {
	job.Status = JobStatusProcessing
	if err := ing.store.UpdateImportJob(ctx, job); err != nil {
		capitan.Error(ctx, ImportFailed, FieldImportJobID.Field(job.ID), FieldError.Field(err))
	}

	pages, err := ing.source.ListPages(ctx)
	if err != nil {
		job.Status = JobStatusFailed
		_ = ing.store.UpdateImportJob(ctx, job)
		capitan.Error(ctx, ImportFailed, FieldImportJobID.Field(job.ID), FieldError.Field(err))
		return
	}
	job.TotalPages = len(pages)

	stamps := make([]PageStamp, len(pages))
	pageByID := make(map[string]PageMeta, len(pages))
	for i, p := range pages {
		stamps[i] = PageStamp{ExternalID: p.ExternalID, ExternalEdited: p.LastEdited}
		pageByID[p.ExternalID] = p
	}

	changed, err := ing.store.GetChangedPages(ctx, stamps)
	if err != nil {
		job.Status = JobStatusFailed
		_ = ing.store.UpdateImportJob(ctx, job)
		capitan.Error(ctx, ImportFailed, FieldImportJobID.Field(job.ID), FieldError.Field(err))
		return
	}

	for _, id := range append(append([]string{}, changed.NewIDs...), changed.UpdatedIDs...) {
		page, ok := pageByID[id]
		if !ok {
			continue
		}
		ing.ingestPage(ctx, job, page)
	}

	if changed.UnchangedCount > 0 {
		job.Skipped += changed.UnchangedCount
		ing.bumpProgress(ctx, job.ID, 0, changed.UnchangedCount, 0, "")
	}

	for _, id := range changed.DeletedIDs {
		if err := ing.store.SoftDeleteRawNote(ctx, id); err != nil {
			ing.bumpProgress(ctx, job.ID, 0, 0, 0, id)
			continue
		}
		job.Deleted++
		ing.bumpProgress(ctx, job.ID, 0, 0, 1, "")
		capitan.Emit(ctx, ImportPageSkipped, FieldImportJobID.Field(job.ID), FieldNoteID.Field(id))
	}

	job.Processed = job.Imported + job.Skipped + len(job.FailedPages)
	// Per-page failures are counted in FailedPages but never flip the job
	// to failed (§4.5 point 7) — only an unrecoverable error earlier in run
	// (ListPages/GetChangedPages) does that, and those paths return before
	// reaching here.
	job.Status = JobStatusCompleted
	now := time.Now()
	job.CompletedAt = &now
	_ = ing.store.UpdateImportJob(ctx, job)

	capitan.Emit(ctx, ImportCompleted,
		FieldImportJobID.Field(job.ID),
		FieldProcessed.Field(job.Processed),
		FieldSkipped.Field(job.Skipped),
	)
}

// ingestPage fetches block content, builds a RawNote, and upserts it.
// Content shorter than 10 characters after trim is stored as null — the
// title alone carries enough signal downstream.
func (ing *Ingester) ingestPage(ctx context.Context, job *ImportJob, page PageMeta) {
	blocks, err := ing.source.FetchBlocks(ctx, page.ExternalID)
	if err != nil {
		job.FailedPages = append(job.FailedPages, page.ExternalID)
		ing.bumpProgress(ctx, job.ID, 0, 0, 0, page.ExternalID)
		return
	}

	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(b.Text)
	}
	content := strings.TrimSpace(sb.String())

	note := &RawNote{
		ExternalID:      page.ExternalID,
		Title:           page.Title,
		ExternalCreated: page.Created,
		ExternalEdited:  page.LastEdited,
		ImportedAt:      time.Now(),
	}
	if len(content) >= 10 {
		note.Content = &content
	}

	if err := ing.store.UpsertRawNote(ctx, note); err != nil {
		job.FailedPages = append(job.FailedPages, page.ExternalID)
		ing.bumpProgress(ctx, job.ID, 0, 0, 0, page.ExternalID)
		return
	}

	job.Imported++
	ing.bumpProgress(ctx, job.ID, 1, 0, 0, "")
	capitan.Emit(ctx, ImportPageIngested, FieldImportJobID.Field(job.ID), FieldNoteID.Field(page.ExternalID))
}

// bumpProgress calls the store's progress counter, which per §4.5/§7 must
// never raise — failures here are a ProgressTrackingFailure, logged and
// swallowed so the import keeps moving.
func (ing *Ingester) bumpProgress(ctx context.Context, jobID string, imported, skipped, deleted int, failedPage string) {
	defer func() {
		if r := recover(); r != nil {
			capitan.Error(ctx, ImportFailed, FieldImportJobID.Field(jobID))
		}
	}()
	if err := ing.store.IncrementJobProgress(ctx, jobID, imported, skipped, deleted, failedPage); err != nil {
		capitan.Error(ctx, ImportFailed, FieldImportJobID.Field(jobID), FieldError.Field(err))
	}
}
