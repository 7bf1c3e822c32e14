// Package memory provides the in-memory store used by the
// single-instance runtime and by tests. Safe for concurrent access;
// every mutation happens under one mutex, which is what makes the
// claim step and conflicting status writes serialize.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"server/internal/domain"
	"server/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store holds jobs and batches in maps guarded by a single mutex.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	batches map[string]*domain.Batch
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*domain.Job),
		batches: make(map[string]*domain.Batch),
	}
}

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneJob(job)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.jobs[cp.ID] = cp
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) ListPendingJobs(_ context.Context) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusPending {
			out = append(out, cloneJob(j))
		}
	}
	sortJobs(out)
	return out, nil
}

func (s *Store) ListJobsByBatch(_ context.Context, batchID string) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.jobs {
		if j.BatchID == batchID {
			out = append(out, cloneJob(j))
		}
	}
	sortJobs(out)
	return out, nil
}

// ClaimJob is the compare-and-swap step of the scheduler: the oldest
// eligible pending job flips to processing under the lock, so no two
// workers ever claim the same job.
func (s *Store) ClaimJob(_ context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*domain.Job
	for _, j := range s.jobs {
		if j.Status != domain.JobStatusPending {
			continue
		}
		if j.BatchID != "" {
			if b, ok := s.batches[j.BatchID]; ok && b.StopRequested {
				continue
			}
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNoJobAvailable
	}
	sortJobs(candidates)

	j := candidates[0]
	j.Status = domain.JobStatusProcessing
	now := time.Now().UTC()
	j.StartedAt = &now
	return cloneJob(j), nil
}

func (s *Store) UpdateJobStatus(_ context.Context, id string, status domain.JobStatus, patch store.JobPatch) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	sameStatus := j.Status == status && !j.Status.Terminal()
	if !sameStatus && !domain.CanTransition(j.Status, status) {
		return nil, domain.ErrInvalidTransition
	}
	if patch.Progress != nil && *patch.Progress < j.Progress {
		return nil, domain.ErrInvalidTransition
	}

	j.Status = status
	if patch.Progress != nil {
		j.Progress = *patch.Progress
	}
	if patch.ResultAssetURL != nil {
		j.ResultAssetURL = *patch.ResultAssetURL
	}
	if patch.ResultThumbURL != nil {
		j.ResultThumbURL = *patch.ResultThumbURL
	}
	if patch.ErrorMessage != nil {
		j.ErrorMessage = domain.TruncateError(*patch.ErrorMessage)
	}
	if status == domain.JobStatusProcessing && j.StartedAt == nil {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
	if status.Terminal() && j.CompletedAt == nil {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return cloneJob(j), nil
}

func (s *Store) CreateBatch(_ context.Context, batch *domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneBatch(batch)
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.batches[cp.ID] = cp
	return nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneBatch(b), nil
}

func (s *Store) MarkStopRequested(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if b.Status.Terminal() {
		return nil, domain.ErrBatchTerminal
	}
	b.StopRequested = true
	b.UpdatedAt = time.Now().UTC()
	return cloneBatch(b), nil
}

func (s *Store) AddBatchOutcome(_ context.Context, id string, failed bool, rowErr *domain.RowError) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if b.Status.Terminal() {
		return nil, domain.ErrBatchTerminal
	}
	if b.Done+b.Failed >= b.Total {
		return nil, domain.ErrInvalidTransition
	}
	if failed {
		b.Failed++
		if rowErr != nil {
			b.ErrorDetails = append(b.ErrorDetails, *rowErr)
		}
	} else {
		b.Done++
	}
	if b.Status == domain.BatchStatusPending {
		b.Status = domain.BatchStatusProcessing
	}
	b.UpdatedAt = time.Now().UTC()
	return cloneBatch(b), nil
}

func (s *Store) FinishBatch(_ context.Context, id string, status domain.BatchStatus, artifactURL, errMsg string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if b.Status.Terminal() {
		return nil, domain.ErrBatchTerminal
	}
	if !status.Terminal() {
		return nil, domain.ErrInvalidTransition
	}
	b.Status = status
	if artifactURL != "" && b.ArtifactURL == "" {
		b.ArtifactURL = artifactURL
	}
	if errMsg != "" {
		b.ErrorMessage = domain.TruncateError(errMsg)
	}
	b.UpdatedAt = time.Now().UTC()
	return cloneBatch(b), nil
}

func sortJobs(jobs []*domain.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
}

func cloneJob(j *domain.Job) *domain.Job {
	cp := *j
	if j.PromptJSON != nil {
		cp.PromptJSON = append(cp.PromptJSON[:0:0], j.PromptJSON...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneBatch(b *domain.Batch) *domain.Batch {
	cp := *b
	if b.ErrorDetails != nil {
		cp.ErrorDetails = append(cp.ErrorDetails[:0:0], b.ErrorDetails...)
	}
	return &cp
}
