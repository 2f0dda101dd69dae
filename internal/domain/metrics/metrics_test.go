package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupRate(t *testing.T) {
	assert.Zero(t, Snapshot{}.DedupRate())
	assert.Zero(t, Snapshot{Received: 10}.DedupRate())

	s := Snapshot{UniqueProcessed: 6, DuplicateDropped: 2}
	assert.InDelta(t, 0.25, s.DedupRate(), 1e-9)

	all := Snapshot{DuplicateDropped: 4}
	assert.InDelta(t, 1.0, all.DedupRate(), 1e-9)
}
