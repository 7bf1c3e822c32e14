package domain

// EventType enumerates lifecycle notifications pushed to clients.
type EventType string

const (
	EventJobCreated   EventType = "jobCreated"
	EventJobUpdated   EventType = "jobUpdated"
	EventBatchCreated EventType = "batchCreated"
	EventBatchUpdated EventType = "batchUpdated"
)

// Event is the envelope published on the notification bus. Delivery is
// best-effort: clients treat events as cache-invalidation hints and
// re-derive authoritative state over HTTP.
type Event struct {
	Type    EventType `json:"eventType"`
	OwnerID string    `json:"-"`
	Payload any       `json:"data"`
}
