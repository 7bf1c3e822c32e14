package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"server/internal/domain"
	"server/internal/store"
)

func newJob(id string, created time.Time) *domain.Job {
	return &domain.Job{
		ID:        id,
		OwnerID:   "owner-1",
		Status:    domain.JobStatusPending,
		CreatedAt: created,
	}
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestClaimJobFIFOOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.CreateJob(ctx, newJob("b", base)))
	require.NoError(t, s.CreateJob(ctx, newJob("a", base)))
	require.NoError(t, s.CreateJob(ctx, newJob("c", base.Add(-time.Second))))

	j, err := s.ClaimJob(ctx)
	require.NoError(t, err)
	require.Equal(t, "c", j.ID)
	require.Equal(t, domain.JobStatusProcessing, j.Status)
	require.NotNil(t, j.StartedAt)

	// Equal timestamps fall back to id order.
	j, err = s.ClaimJob(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", j.ID)

	j, err = s.ClaimJob(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", j.ID)

	_, err = s.ClaimJob(ctx)
	require.ErrorIs(t, err, domain.ErrNoJobAvailable)
}

func TestClaimJobExclusive(t *testing.T) {
	s := New()
	ctx := context.Background()
	const jobs = 50
	const workers = 8

	base := time.Now().UTC()
	for i := 0; i < jobs; i++ {
		require.NoError(t, s.CreateJob(ctx, newJob(fmt.Sprintf("job-%03d", i), base.Add(time.Duration(i)*time.Millisecond))))
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.ClaimJob(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, jobs)
	for id, n := range claimed {
		require.Equalf(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestClaimSkipsStopRequestedBatch(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.CreateBatch(ctx, &domain.Batch{ID: "batch-1", OwnerID: "owner-1", Total: 1, Status: domain.BatchStatusProcessing}))
	stopped := newJob("in-batch", base)
	stopped.BatchID = "batch-1"
	require.NoError(t, s.CreateJob(ctx, stopped))
	require.NoError(t, s.CreateJob(ctx, newJob("free", base.Add(time.Second))))

	_, err := s.MarkStopRequested(ctx, "batch-1")
	require.NoError(t, err)

	j, err := s.ClaimJob(ctx)
	require.NoError(t, err)
	require.Equal(t, "free", j.ID)

	_, err = s.ClaimJob(ctx)
	require.ErrorIs(t, err, domain.ErrNoJobAvailable)
}

func TestUpdateJobStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from domain.JobStatus
		to   domain.JobStatus
		ok   bool
	}{
		{"pending to processing", domain.JobStatusPending, domain.JobStatusProcessing, true},
		{"pending to stopped", domain.JobStatusPending, domain.JobStatusStopped, true},
		{"processing to completed", domain.JobStatusProcessing, domain.JobStatusCompleted, true},
		{"processing to failed", domain.JobStatusProcessing, domain.JobStatusFailed, true},
		{"processing to stopped", domain.JobStatusProcessing, domain.JobStatusStopped, true},
		{"pending to completed", domain.JobStatusPending, domain.JobStatusCompleted, false},
		{"completed to processing", domain.JobStatusCompleted, domain.JobStatusProcessing, false},
		{"failed to pending", domain.JobStatusFailed, domain.JobStatusPending, false},
		{"stopped to processing", domain.JobStatusStopped, domain.JobStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			ctx := context.Background()
			j := newJob("j1", time.Now().UTC())
			j.Status = tt.from
			require.NoError(t, s.CreateJob(ctx, j))

			_, err := s.UpdateJobStatus(ctx, "j1", tt.to, store.JobPatch{})
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, domain.ErrInvalidTransition)
			}
		})
	}
}

func TestUpdateJobStatusAfterTerminalRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", time.Now().UTC())))

	_, err := s.UpdateJobStatus(ctx, "j1", domain.JobStatusProcessing, store.JobPatch{Progress: intPtr(10)})
	require.NoError(t, err)
	_, err = s.UpdateJobStatus(ctx, "j1", domain.JobStatusCompleted, store.JobPatch{Progress: intPtr(100)})
	require.NoError(t, err)

	// A late progress checkpoint from a worker that lost the race must
	// not resurrect the job.
	_, err = s.UpdateJobStatus(ctx, "j1", domain.JobStatusProcessing, store.JobPatch{Progress: intPtr(100)})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestProgressMonotone(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", time.Now().UTC())))

	_, err := s.UpdateJobStatus(ctx, "j1", domain.JobStatusProcessing, store.JobPatch{Progress: intPtr(50)})
	require.NoError(t, err)

	_, err = s.UpdateJobStatus(ctx, "j1", domain.JobStatusProcessing, store.JobPatch{Progress: intPtr(25)})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	j, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 50, j.Progress)
}

func TestUpdateJobStatusNotFound(t *testing.T) {
	s := New()
	_, err := s.UpdateJobStatus(context.Background(), "missing", domain.JobStatusProcessing, store.JobPatch{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestErrorMessageTruncated(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("j1", time.Now().UTC())
	j.Status = domain.JobStatusProcessing
	require.NoError(t, s.CreateJob(ctx, j))

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	updated, err := s.UpdateJobStatus(ctx, "j1", domain.JobStatusFailed, store.JobPatch{ErrorMessage: strPtr(string(long))})
	require.NoError(t, err)
	require.Len(t, updated.ErrorMessage, domain.MaxErrorMessageLen)
}

func TestBatchCountersNeverExceedTotal(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateBatch(ctx, &domain.Batch{ID: "b1", OwnerID: "owner-1", Total: 3, Status: domain.BatchStatusPending}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.AddBatchOutcome(ctx, "b1", i%2 == 0, nil)
		}(i)
	}
	wg.Wait()

	b, err := s.GetBatch(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 3, b.Done+b.Failed)
}

func TestBatchOutcomeRecordsRowErrors(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateBatch(ctx, &domain.Batch{ID: "b1", OwnerID: "owner-1", Total: 2, Status: domain.BatchStatusPending}))

	b, err := s.AddBatchOutcome(ctx, "b1", true, &domain.RowError{RowIndex: 1, Reason: "provider timeout"})
	require.NoError(t, err)
	require.Equal(t, 1, b.Failed)
	require.Equal(t, domain.BatchStatusProcessing, b.Status)

	b, err = s.AddBatchOutcome(ctx, "b1", false, nil)
	require.NoError(t, err)
	require.Equal(t, 1, b.Done)
	require.Len(t, b.ErrorDetails, 1)
	require.Equal(t, "provider timeout", b.ErrorDetails[0].Reason)
}

func TestFinishBatchTerminalOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateBatch(ctx, &domain.Batch{ID: "b1", OwnerID: "owner-1", Total: 1, Status: domain.BatchStatusProcessing}))

	b, err := s.FinishBatch(ctx, "b1", domain.BatchStatusCompleted, "artifacts/b1.zip", "")
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusCompleted, b.Status)
	require.Equal(t, "artifacts/b1.zip", b.ArtifactURL)

	_, err = s.FinishBatch(ctx, "b1", domain.BatchStatusFailed, "", "late")
	require.ErrorIs(t, err, domain.ErrBatchTerminal)

	_, err = s.AddBatchOutcome(ctx, "b1", false, nil)
	require.ErrorIs(t, err, domain.ErrBatchTerminal)
}

func TestMarkStopRequestedIdempotentUntilTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateBatch(ctx, &domain.Batch{ID: "b1", OwnerID: "owner-1", Total: 2, Status: domain.BatchStatusProcessing}))

	b, err := s.MarkStopRequested(ctx, "b1")
	require.NoError(t, err)
	require.True(t, b.StopRequested)

	b, err = s.MarkStopRequested(ctx, "b1")
	require.NoError(t, err)
	require.True(t, b.StopRequested)

	_, err = s.FinishBatch(ctx, "b1", domain.BatchStatusStopped, "", "")
	require.NoError(t, err)
	_, err = s.MarkStopRequested(ctx, "b1")
	require.ErrorIs(t, err, domain.ErrBatchTerminal)
}
