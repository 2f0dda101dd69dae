package metrics

import "time"

// Counter names the durable counters kept in the singleton metrics row.
// They are only ever mutated via atomic increments on the store side.
type Counter string

const (
	Received         Counter = "received"
	UniqueProcessed  Counter = "unique_processed"
	DuplicateDropped Counter = "duplicate_dropped"
)

// Snapshot is a point-in-time read of the counters row.
type Snapshot struct {
	Received         int64     `json:"received"`
	UniqueProcessed  int64     `json:"unique_processed"`
	DuplicateDropped int64     `json:"duplicate_dropped"`
	StartedAt        time.Time `json:"started_at"`
}

// DedupRate is duplicate_dropped over everything classified so far,
// or 0 while nothing has been classified.
func (s Snapshot) DedupRate() float64 {
	total := s.UniqueProcessed + s.DuplicateDropped
	if total == 0 {
		return 0
	}
	return float64(s.DuplicateDropped) / float64(total)
}
