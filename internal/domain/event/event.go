package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed marks events missing required fields. These should be
// rejected by the API layer, but the pipeline must tolerate them too.
var ErrMalformed = errors.New("malformed event")

// Event is one log event. Identity is the (Topic, EventID) pair; producers
// may redeliver the same event any number of times, the store keeps one row.
type Event struct {
	Topic       string          `json:"topic"`
	EventID     string          `json:"event_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Source      string          `json:"source"`
	Payload     json.RawMessage `json:"payload"`
	ProcessedAt time.Time       `json:"processed_at,omitempty"`
}

func (e *Event) Validate() error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil event", ErrMalformed)
	case e.Topic == "":
		return fmt.Errorf("%w: empty topic", ErrMalformed)
	case e.EventID == "":
		return fmt.Errorf("%w: empty event_id", ErrMalformed)
	case e.Source == "":
		return fmt.Errorf("%w: empty source", ErrMalformed)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrMalformed)
	case len(e.Payload) == 0:
		return fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	return nil
}

// Key returns the identity of the event, used in logs only. Deduplication
// itself is delegated to the store's unique constraint.
func (e *Event) Key() string {
	return e.Topic + "/" + e.EventID
}
