package subscriber

import (
	"context"
	"fmt"

	"github.com/zcox/eventagent/events"
	"github.com/zcox/eventagent/eventlog"
)

// EventLogPositionStore records every position update as a PositionUpdated
// event on a dedicated "subscriberPosition-<id>" stream, giving a full
// audit trail of how a subscriber has progressed at the cost of slower
// writes than the table-backed store.
type EventLogPositionStore struct {
	client eventlog.Client
}

// NewEventLogPositionStore builds a store writing to client.
func NewEventLogPositionStore(client eventlog.Client) (*EventLogPositionStore, error) {
	if client == nil {
		return nil, fmt.Errorf("subscriber: event log client is required")
	}
	return &EventLogPositionStore{client: client}, nil
}

func positionStreamName(subscriberID string) string {
	return eventlog.BuildStreamName("subscriberPosition", "", subscriberID)
}

// Get reads the last message of the subscriber's position stream, or
// defaults to 0 if the stream is empty.
func (s *EventLogPositionStore) Get(ctx context.Context, subscriberID string) (int64, error) {
	evt, ok, err := s.client.LastStreamMessage(ctx, positionStreamName(subscriberID))
	if err != nil {
		return 0, fmt.Errorf("subscriber: read position stream for %q: %w", subscriberID, err)
	}
	if !ok {
		return 0, nil
	}
	var data events.PositionUpdatedData
	if err := evt.UnmarshalData(&data); err != nil {
		return 0, fmt.Errorf("subscriber: decode PositionUpdated for %q: %w", subscriberID, err)
	}
	return data.Position, nil
}

// Update appends a PositionUpdated event recording the new position.
// Appends are unconditional (NoExpectedVersion): the position stream is
// single-writer per subscriber, and a lost race here only costs a
// redundant append, never a wrong read, since Get always takes the last
// message.
func (s *EventLogPositionStore) Update(ctx context.Context, subscriberID string, position int64) error {
	_, err := s.client.Append(ctx, positionStreamName(subscriberID), string(events.PositionUpdated),
		events.PositionUpdatedData{SubscriberID: subscriberID, Position: position}, nil, eventlog.NoExpectedVersion)
	if err != nil {
		return fmt.Errorf("subscriber: append PositionUpdated for %q: %w", subscriberID, err)
	}
	return nil
}

var _ PositionStore = (*EventLogPositionStore)(nil)
