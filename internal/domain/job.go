package domain

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusStopped    JobStatus = "stopped"
)

// MaxErrorMessageLen bounds stored error text so verbose upstream error
// bodies cannot grow records without limit.
const MaxErrorMessageLen = 500

// Job encapsulates one unit of asynchronous generation work tied to a
// single owner.
type Job struct {
	ID             string
	OwnerID        string
	BatchID        string
	RowIndex       int
	Status         JobStatus
	Progress       int
	PromptJSON     json.RawMessage
	Provider       string
	AspectRatio    string
	ResultAssetURL string
	ResultThumbURL string
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	}
	return false
}

// CanTransition reports whether a job may move between the two statuses.
// The lifecycle is strictly forward: pending → processing →
// completed|failed, with stopped reachable from pending or processing
// via batch cancellation only. A job never re-enters pending.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusStopped
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusStopped
	}
	return false
}

// TruncateError bounds a user-visible error message to MaxErrorMessageLen
// bytes, backing off to a rune boundary so the result stays valid UTF-8.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	cut := MaxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
