package domain

import "time"

// BatchStatus enumerates batch lifecycle states.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusStopped    BatchStatus = "stopped"
	BatchStatusFailed     BatchStatus = "failed"
)

// Terminal reports whether the batch status admits no further changes.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusStopped, BatchStatusFailed:
		return true
	}
	return false
}

// RowError records why one row of a batch failed.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
}

// Batch is a collection of jobs created together from a multi-row
// submission, with aggregate progress and an optional packaged artifact.
// Total is fixed at creation; Done and Failed only ever increase and
// their sum never exceeds Total.
type Batch struct {
	ID            string
	OwnerID       string
	Total         int
	Done          int
	Failed        int
	Status        BatchStatus
	StopRequested bool
	ArtifactURL   string
	ErrorMessage  string
	ErrorDetails  []RowError
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Percent returns aggregate completion as an integer 0-100.
func (b *Batch) Percent() int {
	if b.Total <= 0 {
		return 0
	}
	return (b.Done + b.Failed) * 100 / b.Total
}

// Settled reports whether every row has reached an outcome.
func (b *Batch) Settled() bool {
	return b.Done+b.Failed >= b.Total
}
