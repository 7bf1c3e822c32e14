package repo

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
	"server/internal/store"
)

// StorePG implements store.Store on PostgreSQL. Claiming relies on
// FOR UPDATE SKIP LOCKED, which makes it safe to run several scheduler
// processes against the same database.
type StorePG struct {
	sql infra.SQLExecutor
}

var _ store.Store = (*StorePG)(nil)

// NewStore creates a PostgreSQL-backed store.
func NewStore(sql infra.SQLExecutor) *StorePG {
	return &StorePG{sql: sql}
}

func (s *StorePG) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := s.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerID,
		job.BatchID,
		job.RowIndex,
		job.Status,
		job.Progress,
		job.PromptJSON,
		job.Provider,
		job.AspectRatio,
	)
	return err
}

func (s *StorePG) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectJob, id)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *StorePG) ListPendingJobs(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectPendingJobs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *StorePG) ListJobsByBatch(ctx context.Context, batchID string) ([]*domain.Job, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectJobsByBatch, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *StorePG) ClaimJob(ctx context.Context) (*domain.Job, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QClaimJob)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNoJobAvailable
		}
		return nil, err
	}
	return job, nil
}

func (s *StorePG) UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus, patch store.JobPatch) (*domain.Job, error) {
	var errMsg *string
	if patch.ErrorMessage != nil {
		truncated := domain.TruncateError(*patch.ErrorMessage)
		errMsg = &truncated
	}
	row := s.sql.QueryRow(ctx, sqlinline.QUpdateJobStatus,
		id,
		status,
		patch.Progress,
		patch.ResultAssetURL,
		patch.ResultThumbURL,
		errMsg,
	)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			// The guarded update matched nothing: either the job is
			// gone or the transition conflicts with its current state.
			if _, getErr := s.GetJob(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, domain.ErrInvalidTransition
		}
		return nil, err
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var prompt []byte
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.BatchID,
		&job.RowIndex,
		&job.Status,
		&job.Progress,
		&prompt,
		&job.Provider,
		&job.AspectRatio,
		&job.ResultAssetURL,
		&job.ResultThumbURL,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.PromptJSON = json.RawMessage(prompt)
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var out []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
