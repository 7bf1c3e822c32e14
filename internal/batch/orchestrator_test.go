package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/notify"
	"server/internal/storage"
	"server/internal/store"
	"server/internal/store/memory"
	pkgzip "server/pkg/zip"
)

type fixture struct {
	store *memory.Store
	files *storage.FileStore
	bus   *notify.Bus
	orch  *Orchestrator
}

type countingWaker struct{ calls int }

func (w *countingWaker) Wake() { w.calls++ }

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := infra.NewLogger("test")
	st := memory.New()
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	bus := notify.NewBus(logger)
	t.Cleanup(bus.Close)
	return &fixture{
		store: st,
		files: files,
		bus:   bus,
		orch:  New(st, files, bus, logger, opts...),
	}
}

func rows(n int) []RowSpec {
	out := make([]RowSpec, n)
	for i := range out {
		out[i] = RowSpec{Prompt: json.RawMessage(fmt.Sprintf(`{"text":"row %d"}`, i))}
	}
	return out
}

// completeClaimed drives one claimed job to completed the way the
// scheduler would, with real bytes behind the asset URL.
func (f *fixture) completeClaimed(t *testing.T, job *domain.Job) {
	t.Helper()
	ctx := context.Background()
	key, err := f.files.Write(ctx, fmt.Sprintf("generated/%s/asset.png", job.ID), []byte("png:"+job.ID))
	require.NoError(t, err)
	progress := 100
	updated, err := f.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusCompleted, store.JobPatch{
		Progress:       &progress,
		ResultAssetURL: &key,
	})
	require.NoError(t, err)
	f.orch.OnJobFinished(ctx, updated, false, "")
}

func (f *fixture) failClaimed(t *testing.T, job *domain.Job, reason string) {
	t.Helper()
	ctx := context.Background()
	updated, err := f.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed, store.JobPatch{
		ErrorMessage: &reason,
	})
	require.NoError(t, err)
	f.orch.OnJobFinished(ctx, updated, true, reason)
}

func readArchive(t *testing.T, f *fixture, key string) map[string][]byte {
	t.Helper()
	data, err := f.files.Read(context.Background(), key)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, file := range zr.File {
		rc, err := file.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[file.Name] = content
	}
	return out
}

func TestCreateBatchValidation(t *testing.T) {
	f := newFixture(t, WithMaxRows(5))
	ctx := context.Background()

	_, err := f.orch.CreateBatch(ctx, "owner-1", nil)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.orch.CreateBatch(ctx, "owner-1", rows(6))
	require.ErrorIs(t, err, domain.ErrValidation)

	batch, err := f.orch.CreateBatch(ctx, "owner-1", rows(5))
	require.NoError(t, err)
	require.Equal(t, 5, batch.Total)

	jobs, err := f.store.ListJobsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 5)
	for i, job := range jobs {
		require.Equal(t, i, job.RowIndex)
		require.Equal(t, domain.JobStatusPending, job.Status)
	}
}

func TestCreateBatchWakesScheduler(t *testing.T) {
	waker := &countingWaker{}
	f := newFixture(t, WithWaker(waker))
	_, err := f.orch.CreateBatch(context.Background(), "owner-1", rows(2))
	require.NoError(t, err)
	require.Equal(t, 1, waker.calls)
}

func TestAllRowsSucceed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.orch.CreateBatch(ctx, "owner-1", rows(3))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		job, err := f.store.ClaimJob(ctx)
		require.NoError(t, err)
		f.completeClaimed(t, job)
	}

	final, err := f.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusCompleted, final.Status)
	require.Equal(t, 3, final.Done)
	require.Equal(t, 0, final.Failed)
	require.NotEmpty(t, final.ArtifactURL)
	require.Empty(t, final.ErrorDetails)

	files := readArchive(t, f, final.ArtifactURL)
	require.Len(t, files, 3)
	require.NotContains(t, files, pkgzip.ManifestFilename)
}

func TestMixedOutcomesProduceManifest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.orch.CreateBatch(ctx, "owner-1", rows(5))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		job, err := f.store.ClaimJob(ctx)
		require.NoError(t, err)
		if job.RowIndex == 1 || job.RowIndex == 3 {
			f.failClaimed(t, job, "provider timeout")
		} else {
			f.completeClaimed(t, job)
		}
	}

	final, err := f.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusCompleted, final.Status)
	require.Equal(t, 3, final.Done)
	require.Equal(t, 2, final.Failed)
	require.Len(t, final.ErrorDetails, 2)

	files := readArchive(t, f, final.ArtifactURL)
	require.Len(t, files, 4) // 3 assets + manifest
	manifest := string(files[pkgzip.ManifestFilename])
	require.Contains(t, manifest, "row 1: provider timeout")
	require.Contains(t, manifest, "row 3: provider timeout")
}

func TestCooperativeStopPackagesPartialResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.orch.CreateBatch(ctx, "owner-1", rows(10))
	require.NoError(t, err)

	// Four rows complete before the stop.
	for i := 0; i < 4; i++ {
		job, err := f.store.ClaimJob(ctx)
		require.NoError(t, err)
		f.completeClaimed(t, job)
	}

	// A fifth is mid-flight when the stop arrives.
	inFlight, err := f.store.ClaimJob(ctx)
	require.NoError(t, err)

	snapshot, err := f.orch.RequestStop(ctx, batch.ID)
	require.NoError(t, err)
	require.False(t, snapshot.Status.Terminal(), "batch must wait for the in-flight job")

	// The remaining five rows are stopped, never claimable.
	_, err = f.store.ClaimJob(ctx)
	require.ErrorIs(t, err, domain.ErrNoJobAvailable)
	jobs, err := f.store.ListJobsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	stopped := 0
	for _, job := range jobs {
		if job.Status == domain.JobStatusStopped {
			stopped++
		}
	}
	require.Equal(t, 5, stopped)

	// The in-flight job finishes undisturbed.
	f.completeClaimed(t, inFlight)

	final, err := f.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusStopped, final.Status)
	require.Equal(t, 5, final.Done)
	require.Equal(t, 0, final.Failed)
	require.NotEmpty(t, final.ArtifactURL)
	require.Len(t, readArchive(t, f, final.ArtifactURL), 5)
}

func TestRequestStopIdempotentOnTerminalBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.orch.CreateBatch(ctx, "owner-1", rows(1))
	require.NoError(t, err)
	job, err := f.store.ClaimJob(ctx)
	require.NoError(t, err)
	f.completeClaimed(t, job)

	first, err := f.orch.RequestStop(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusCompleted, first.Status)

	second, err := f.orch.RequestStop(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.Done, second.Done)
	require.Equal(t, first.ArtifactURL, second.ArtifactURL)
}

func TestStopWithNothingInFlightFinalizesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.orch.CreateBatch(ctx, "owner-1", rows(3))
	require.NoError(t, err)

	snapshot, err := f.orch.RequestStop(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusStopped, snapshot.Status)
	require.Equal(t, 0, snapshot.Done)
}

func TestPackagingFailureMarksBatchFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, err := f.orch.CreateBatch(ctx, "owner-1", rows(1))
	require.NoError(t, err)
	job, err := f.store.ClaimJob(ctx)
	require.NoError(t, err)

	// Point the result at a key with no bytes behind it.
	progress := 100
	missing := "generated/missing/asset.png"
	updated, err := f.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusCompleted, store.JobPatch{
		Progress:       &progress,
		ResultAssetURL: &missing,
	})
	require.NoError(t, err)
	f.orch.OnJobFinished(ctx, updated, false, "")

	final, err := f.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusFailed, final.Status)
	require.Contains(t, final.ErrorMessage, "packaging")
	require.Empty(t, final.ArtifactURL)

	// The job itself stays queryable as completed.
	kept, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusCompleted, kept.Status)
}

func TestSingleJobOutsideBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.CreateJob(ctx, "owner-1", RowSpec{Prompt: json.RawMessage(`{"text":"solo"}`)})
	require.NoError(t, err)
	require.Empty(t, job.BatchID)

	_, err = f.orch.CreateJob(ctx, "owner-1", RowSpec{})
	require.ErrorIs(t, err, domain.ErrValidation)
}
