// Package store defines persistence contracts for jobs and batches.
// Implementations must serialize conflicting writes: two concurrent
// status updates for the same job are ordered, and updates that
// conflict with the current status are rejected rather than merged.
package store

import (
	"context"

	"server/internal/domain"
)

// JobPatch carries the optional fields merged into a job alongside a
// status write. Nil fields are left untouched.
type JobPatch struct {
	Progress       *int
	ResultAssetURL *string
	ResultThumbURL *string
	ErrorMessage   *string
}

// JobStore persists job records.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	// ListPendingJobs returns pending jobs oldest first, ties broken by id.
	ListPendingJobs(ctx context.Context) ([]*domain.Job, error)
	ListJobsByBatch(ctx context.Context, batchID string) ([]*domain.Job, error)
	// ClaimJob atomically moves the oldest eligible pending job to
	// processing and returns it. Jobs whose batch has a stop request
	// pending are not eligible. Returns domain.ErrNoJobAvailable when
	// nothing can be claimed.
	ClaimJob(ctx context.Context) (*domain.Job, error)
	// UpdateJobStatus merges the patch and moves the job to the given
	// status. A write whose transition is not allowed by
	// domain.CanTransition, or that would move progress backward, fails
	// with domain.ErrInvalidTransition. Writing the current non-terminal
	// status is permitted and acts as a progress checkpoint.
	UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus, patch JobPatch) (*domain.Job, error)
}

// BatchStore persists batch records.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *domain.Batch) error
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	// MarkStopRequested flags the batch so its pending jobs are no
	// longer claimable. Returns domain.ErrBatchTerminal if the batch is
	// already terminal.
	MarkStopRequested(ctx context.Context, id string) (*domain.Batch, error)
	// AddBatchOutcome atomically records one row outcome. The counters
	// only increase and done+failed never exceeds total; an outcome
	// against a terminal batch is rejected with domain.ErrBatchTerminal.
	AddBatchOutcome(ctx context.Context, id string, failed bool, rowErr *domain.RowError) (*domain.Batch, error)
	// FinishBatch moves the batch to a terminal status, freezing its
	// counters. ArtifactURL is recorded at most once.
	FinishBatch(ctx context.Context, id string, status domain.BatchStatus, artifactURL, errMsg string) (*domain.Batch, error)
}

// Store combines job and batch persistence behind one handle.
type Store interface {
	JobStore
	BatchStore
}
