package domain

import (
	"encoding/json"
	"time"
)

// JobView is the wire representation of a Job, shared by the HTTP
// surface and push events so both report identical state.
type JobView struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	BatchID        string          `json:"batch_id,omitempty"`
	RowIndex       int             `json:"row_index"`
	Status         JobStatus       `json:"status"`
	Progress       int             `json:"progress"`
	Provider       string          `json:"provider,omitempty"`
	AspectRatio    string          `json:"aspect_ratio,omitempty"`
	Prompt         json.RawMessage `json:"prompt,omitempty"`
	ResultAssetURL string          `json:"result_asset_url,omitempty"`
	ResultThumbURL string          `json:"result_thumb_url,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// NewJobView converts a Job to its wire shape.
func NewJobView(j *Job) JobView {
	return JobView{
		ID:             j.ID,
		OwnerID:        j.OwnerID,
		BatchID:        j.BatchID,
		RowIndex:       j.RowIndex,
		Status:         j.Status,
		Progress:       j.Progress,
		Provider:       j.Provider,
		AspectRatio:    j.AspectRatio,
		Prompt:         j.PromptJSON,
		ResultAssetURL: j.ResultAssetURL,
		ResultThumbURL: j.ResultThumbURL,
		ErrorMessage:   j.ErrorMessage,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

// BatchView is the wire representation of a Batch.
type BatchView struct {
	ID           string      `json:"id"`
	OwnerID      string      `json:"owner_id"`
	Total        int         `json:"total"`
	Done         int         `json:"done"`
	Failed       int         `json:"failed"`
	Percent      int         `json:"percent"`
	Status       BatchStatus `json:"status"`
	ArtifactURL  string      `json:"artifact_url,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	ErrorDetails []RowError  `json:"error_details,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// NewBatchView converts a Batch to its wire shape.
func NewBatchView(b *Batch) BatchView {
	return BatchView{
		ID:           b.ID,
		OwnerID:      b.OwnerID,
		Total:        b.Total,
		Done:         b.Done,
		Failed:       b.Failed,
		Percent:      b.Percent(),
		Status:       b.Status,
		ArtifactURL:  b.ArtifactURL,
		ErrorMessage: b.ErrorMessage,
		ErrorDetails: b.ErrorDetails,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}
