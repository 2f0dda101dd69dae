package audit

import "time"

// Action is the classification recorded for a processed event.
type Action string

const (
	ActionInserted         Action = "INSERTED"
	ActionDuplicateDropped Action = "DUPLICATE_DROPPED"
)

// Entry is one append-only audit record written alongside a classification.
type Entry struct {
	Topic     string    `json:"topic"`
	EventID   string    `json:"event_id"`
	Action    Action    `json:"action"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
