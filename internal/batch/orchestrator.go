// Package batch expands multi-row submissions into jobs, aggregates
// their outcomes, and packages completed assets into one downloadable
// artifact. Cancellation is cooperative: a stop request keeps further
// rows from starting but lets in-flight provider calls finish.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/notify"
	"server/internal/storage"
	"server/internal/store"
	"server/pkg/zip"
)

// DefaultMaxRows caps how many rows one batch submission may carry.
const DefaultMaxRows = 100

// Waker lets the orchestrator nudge the scheduler when new jobs are
// enqueued instead of waiting for its next tick.
type Waker interface{ Wake() }

// RowSpec is one row of a batch submission.
type RowSpec struct {
	Prompt      json.RawMessage `json:"prompt"`
	Provider    string          `json:"provider,omitempty"`
	AspectRatio string          `json:"aspect_ratio,omitempty"`
}

// Orchestrator owns the batch lifecycle.
type Orchestrator struct {
	store        store.Store
	files        *storage.FileStore
	bus          *notify.Bus
	waker        Waker
	logger       infra.Logger
	maxRows      int
	assetBaseURL string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRows overrides the row cap.
func WithMaxRows(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRows = n
		}
	}
}

// WithWaker registers the scheduler wake handle.
func WithWaker(w Waker) Option {
	return func(o *Orchestrator) { o.waker = w }
}

// SetWaker registers the scheduler wake handle after construction.
// The orchestrator and scheduler reference each other, so one side has
// to be wired late. Call before serving requests.
func (o *Orchestrator) SetWaker(w Waker) { o.waker = w }

// WithAssetBaseURL sets the public URL prefix under which persisted
// assets and artifacts are served.
func WithAssetBaseURL(base string) Option {
	return func(o *Orchestrator) { o.assetBaseURL = strings.TrimRight(base, "/") }
}

// New creates a batch orchestrator.
func New(st store.Store, files *storage.FileStore, bus *notify.Bus, logger infra.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   st,
		files:   files,
		bus:     bus,
		logger:  logger,
		maxRows: DefaultMaxRows,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateBatch validates the submission, writes the batch and one
// pending job per row, and wakes the scheduler.
func (o *Orchestrator) CreateBatch(ctx context.Context, ownerID string, rows []RowSpec) (*domain.Batch, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: batch needs at least one row", domain.ErrValidation)
	}
	if len(rows) > o.maxRows {
		return nil, fmt.Errorf("%w: batch exceeds %d rows", domain.ErrValidation, o.maxRows)
	}

	batch := &domain.Batch{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Total:   len(rows),
		Status:  domain.BatchStatusPending,
	}
	if err := o.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	created := time.Now().UTC()
	for i, row := range rows {
		job := &domain.Job{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			BatchID:     batch.ID,
			RowIndex:    i,
			Status:      domain.JobStatusPending,
			PromptJSON:  row.Prompt,
			Provider:    row.Provider,
			AspectRatio: row.AspectRatio,
			CreatedAt:   created.Add(time.Duration(i) * time.Microsecond),
		}
		if err := o.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create job for row %d: %w", i, err)
		}
		o.publish(domain.EventJobCreated, ownerID, domain.NewJobView(job))
	}
	o.publish(domain.EventBatchCreated, ownerID, domain.NewBatchView(batch))

	if o.waker != nil {
		o.waker.Wake()
	}
	o.logger.Info().Str("batch_id", batch.ID).Int("total", batch.Total).Msg("batch: created")
	return batch, nil
}

// CreateJob enqueues a single job outside any batch.
func (o *Orchestrator) CreateJob(ctx context.Context, ownerID string, row RowSpec) (*domain.Job, error) {
	if len(row.Prompt) == 0 {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	job := &domain.Job{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Status:      domain.JobStatusPending,
		PromptJSON:  row.Prompt,
		Provider:    row.Provider,
		AspectRatio: row.AspectRatio,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.publish(domain.EventJobCreated, ownerID, domain.NewJobView(job))
	if o.waker != nil {
		o.waker.Wake()
	}
	return job, nil
}

// OnJobFinished records a terminal job outcome against its batch and
// finalizes the batch once every row has settled.
func (o *Orchestrator) OnJobFinished(ctx context.Context, job *domain.Job, failed bool, reason string) {
	if job.BatchID == "" {
		return
	}
	var rowErr *domain.RowError
	if failed {
		rowErr = &domain.RowError{RowIndex: job.RowIndex, Reason: reason}
	}
	batch, err := o.store.AddBatchOutcome(ctx, job.BatchID, failed, rowErr)
	if err != nil {
		if errors.Is(err, domain.ErrBatchTerminal) {
			return
		}
		o.logger.Error().Err(err).Str("batch_id", job.BatchID).Msg("batch: outcome write failed")
		return
	}
	o.publish(domain.EventBatchUpdated, batch.OwnerID, domain.NewBatchView(batch))
	o.maybeFinalize(ctx, batch.ID)
}

// RequestStop marks the batch for cooperative stop. Idempotent: a
// terminal batch is returned unchanged. Pending jobs move to stopped
// and are never dequeued; processing jobs finish undisturbed.
func (o *Orchestrator) RequestStop(ctx context.Context, batchID string) (*domain.Batch, error) {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status.Terminal() {
		return batch, nil
	}

	batch, err = o.store.MarkStopRequested(ctx, batchID)
	if err != nil {
		if errors.Is(err, domain.ErrBatchTerminal) {
			return o.store.GetBatch(ctx, batchID)
		}
		return nil, err
	}
	o.publish(domain.EventBatchUpdated, batch.OwnerID, domain.NewBatchView(batch))

	jobs, err := o.store.ListJobsByBatch(ctx, batchID)
	if err != nil {
		return batch, nil
	}
	for _, job := range jobs {
		if job.Status != domain.JobStatusPending {
			continue
		}
		stopped, err := o.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusStopped, store.JobPatch{})
		if err != nil {
			// Lost the race against a claim; that job finishes normally.
			continue
		}
		o.publish(domain.EventJobUpdated, stopped.OwnerID, domain.NewJobView(stopped))
	}

	o.maybeFinalize(ctx, batchID)
	return o.store.GetBatch(ctx, batchID)
}

// maybeFinalize packages and closes the batch when no row remains
// pending or processing. FinishBatch is guarded in the store, so two
// racing finalize attempts cannot both commit.
func (o *Orchestrator) maybeFinalize(ctx context.Context, batchID string) {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil || batch.Status.Terminal() {
		return
	}
	jobs, err := o.store.ListJobsByBatch(ctx, batchID)
	if err != nil {
		o.logger.Error().Err(err).Str("batch_id", batchID).Msg("batch: list jobs failed")
		return
	}
	for _, job := range jobs {
		if job.Status == domain.JobStatusPending || job.Status == domain.JobStatusProcessing {
			return
		}
	}
	if !batch.Settled() && !batch.StopRequested {
		return
	}

	terminal := domain.BatchStatusCompleted
	if batch.StopRequested && !batch.Settled() {
		terminal = domain.BatchStatusStopped
	}

	artifactURL, err := o.packageArtifact(ctx, batch, jobs)
	if err != nil {
		o.logger.Error().Err(err).Str("batch_id", batchID).Msg("batch: packaging failed")
		failed, finishErr := o.store.FinishBatch(ctx, batchID, domain.BatchStatusFailed, "", err.Error())
		if finishErr == nil {
			o.publish(domain.EventBatchUpdated, failed.OwnerID, domain.NewBatchView(failed))
		}
		return
	}

	finished, err := o.store.FinishBatch(ctx, batchID, terminal, artifactURL, "")
	if err != nil {
		if !errors.Is(err, domain.ErrBatchTerminal) {
			o.logger.Error().Err(err).Str("batch_id", batchID).Msg("batch: finish write failed")
		}
		return
	}
	o.publish(domain.EventBatchUpdated, finished.OwnerID, domain.NewBatchView(finished))
	o.logger.Info().
		Str("batch_id", batchID).
		Str("status", string(finished.Status)).
		Int("done", finished.Done).
		Int("failed", finished.Failed).
		Msg("batch: finalized")
}

// packageArtifact bundles every completed row's asset into one archive,
// with a manifest enumerating failed rows when there are any.
func (o *Orchestrator) packageArtifact(ctx context.Context, batch *domain.Batch, jobs []*domain.Job) (string, error) {
	var assets []zip.Asset
	for _, job := range jobs {
		if job.Status != domain.JobStatusCompleted {
			continue
		}
		data, filename := o.assetBytes(ctx, job)
		if data == nil {
			return "", fmt.Errorf("%w: asset for row %d unavailable", domain.ErrPackagingFailure, job.RowIndex)
		}
		assets = append(assets, zip.Asset{Filename: filename, Data: data})
	}

	var manifest []zip.ManifestEntry
	for _, detail := range batch.ErrorDetails {
		manifest = append(manifest, zip.ManifestEntry{RowIndex: detail.RowIndex, Reason: detail.Reason})
	}

	archive, err := zip.Archive(assets, manifest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPackagingFailure, err)
	}
	key, err := o.files.Write(ctx, fmt.Sprintf("artifacts/%s.zip", batch.ID), archive)
	if err != nil {
		return "", err
	}
	if o.assetBaseURL == "" {
		return key, nil
	}
	return o.assetBaseURL + "/" + key, nil
}

// assetBytes loads the stored bytes behind a job's result. Remote URLs
// outside our storage are referenced by a link file instead of fetched.
func (o *Orchestrator) assetBytes(ctx context.Context, job *domain.Job) ([]byte, string) {
	url := job.ResultAssetURL
	if url == "" {
		return nil, ""
	}
	key := url
	if o.assetBaseURL != "" && strings.HasPrefix(url, o.assetBaseURL+"/") {
		key = strings.TrimPrefix(url, o.assetBaseURL+"/")
	} else if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return []byte(url), fmt.Sprintf("row-%02d.txt", job.RowIndex+1)
	}
	data, err := o.files.Read(ctx, key)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("batch: asset read failed")
		return nil, ""
	}
	return data, fmt.Sprintf("row-%02d%s", job.RowIndex+1, path.Ext(key))
}

func (o *Orchestrator) publish(eventType domain.EventType, ownerID string, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(domain.Event{Type: eventType, OwnerID: ownerID, Payload: payload})
}
