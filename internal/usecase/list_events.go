package usecase

import (
	"context"
	"fmt"

	"aggregator/internal/domain/event"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type eventLister interface {
	ListByTopic(ctx context.Context, topic string, limit, offset int) ([]*event.Event, error)
}

// ListEvents pages through stored events for one topic, newest first.
type ListEvents struct {
	store eventLister
}

func NewListEvents(store eventLister) *ListEvents {
	return &ListEvents{store: store}
}

func (uc *ListEvents) Execute(ctx context.Context, topic string, limit, offset int) ([]*event.Event, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", event.ErrMalformed)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	events, err := uc.store.ListByTopic(ctx, topic, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	if events == nil {
		events = []*event.Event{}
	}
	return events, nil
}
