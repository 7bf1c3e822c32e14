package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

func (s *StorePG) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	_, err := s.sql.Exec(ctx, sqlinline.QInsertBatch,
		batch.ID,
		batch.OwnerID,
		batch.Total,
		batch.Status,
	)
	return err
}

func (s *StorePG) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectBatch, id)
	batch, err := scanBatch(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return batch, nil
}

func (s *StorePG) MarkStopRequested(ctx context.Context, id string) (*domain.Batch, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QMarkBatchStop, id)
	batch, err := scanBatch(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, s.batchWriteConflict(ctx, id)
		}
		return nil, err
	}
	return batch, nil
}

func (s *StorePG) AddBatchOutcome(ctx context.Context, id string, failed bool, rowErr *domain.RowError) (*domain.Batch, error) {
	var detail []byte
	if failed && rowErr != nil {
		encoded, err := json.Marshal([]domain.RowError{*rowErr})
		if err != nil {
			return nil, fmt.Errorf("encode row error: %w", err)
		}
		detail = encoded
	}
	row := s.sql.QueryRow(ctx, sqlinline.QAddBatchOutcome, id, failed, nullableBytes(detail))
	batch, err := scanBatch(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, s.batchWriteConflict(ctx, id)
		}
		return nil, err
	}
	return batch, nil
}

func (s *StorePG) FinishBatch(ctx context.Context, id string, status domain.BatchStatus, artifactURL, errMsg string) (*domain.Batch, error) {
	if !status.Terminal() {
		return nil, domain.ErrInvalidTransition
	}
	row := s.sql.QueryRow(ctx, sqlinline.QFinishBatch, id, status, artifactURL, domain.TruncateError(errMsg))
	batch, err := scanBatch(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, s.batchWriteConflict(ctx, id)
		}
		return nil, err
	}
	return batch, nil
}

// batchWriteConflict classifies a guarded update that matched no rows:
// the batch is either gone, already terminal, or the counters are full.
func (s *StorePG) batchWriteConflict(ctx context.Context, id string) error {
	batch, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if batch.Status.Terminal() {
		return domain.ErrBatchTerminal
	}
	return domain.ErrInvalidTransition
}

func scanBatch(row rowScanner) (*domain.Batch, error) {
	var batch domain.Batch
	var details []byte
	if err := row.Scan(
		&batch.ID,
		&batch.OwnerID,
		&batch.Total,
		&batch.Done,
		&batch.Failed,
		&batch.Status,
		&batch.StopRequested,
		&batch.ArtifactURL,
		&batch.ErrorMessage,
		&details,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &batch.ErrorDetails); err != nil {
			return nil, fmt.Errorf("decode error details: %w", err)
		}
	}
	return &batch, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
