package eventlog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemory is a Client backed by a process-local map, for tests and for
// embedders that don't need durability (e.g. exercising the processing
// loop in isolation). It implements the same optimistic-concurrency and
// category-read semantics as the Postgres-backed store.
type InMemory struct {
	mu       sync.Mutex
	streams  map[string][]Event
	global   int64
	allOrder []Event // append order across every stream, for category reads
}

// NewInMemory constructs an empty in-memory event log.
func NewInMemory() *InMemory {
	return &InMemory{streams: make(map[string][]Event)}
}

func (c *InMemory) Append(_ context.Context, stream, eventType string, data, metadata any, expectedVersion int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.streams[stream]
	actual := int64(len(existing)) - 1 // -1 means empty stream

	if expectedVersion != NoExpectedVersion && expectedVersion != actual {
		return 0, &OptimisticConcurrencyError{Stream: stream, ExpectedVersion: expectedVersion, ActualVersion: actual}
	}

	if err := ValidatePayload(data); err != nil {
		return 0, err
	}

	dataJSON, err := marshalPayload(data)
	if err != nil {
		return 0, &TransportError{Op: "marshal data", Err: err}
	}
	metaJSON, err := marshalPayload(metadata)
	if err != nil {
		return 0, &TransportError{Op: "marshal metadata", Err: err}
	}

	pos := int64(len(existing))
	evt := Event{
		ID:             uuid.NewString(),
		StreamName:     stream,
		Type:           eventType,
		StreamPosition: pos,
		GlobalPosition: c.global,
		Time:           time.Now().UTC(),
		Data:           dataJSON,
		Metadata:       metaJSON,
	}
	c.global++

	c.streams[stream] = append(existing, evt)
	c.allOrder = append(c.allOrder, evt)
	return pos, nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func (c *InMemory) ReadStream(_ context.Context, stream string, fromPosition int64, batchSize int) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.streams[stream]
	if fromPosition >= int64(len(events)) {
		return []Event{}, nil
	}
	end := fromPosition + int64(batchSize)
	if end > int64(len(events)) || batchSize <= 0 {
		end = int64(len(events))
	}
	out := make([]Event, end-fromPosition)
	copy(out, events[fromPosition:end])
	return out, nil
}

func (c *InMemory) LastStreamMessage(_ context.Context, stream string) (Event, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.streams[stream]
	if len(events) == 0 {
		return Event{}, false, nil
	}
	return events[len(events)-1], true, nil
}

func (c *InMemory) ReadCategory(_ context.Context, category string, fromGlobalPosition int64, batchSize int, opts ReadCategoryOptions) ([]Event, error) {
	if opts.Condition != "" {
		return nil, ErrConditionUnsupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []Event
	for _, evt := range c.allOrder {
		if CategoryOf(evt.StreamName) != category {
			continue
		}
		if evt.GlobalPosition < fromGlobalPosition {
			continue
		}
		if opts.ConsumerGroup != nil && !belongsToMember(evt.StreamName, *opts.ConsumerGroup) {
			continue
		}
		matched = append(matched, evt)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].GlobalPosition < matched[j].GlobalPosition })

	if batchSize > 0 && len(matched) > batchSize {
		matched = matched[:batchSize]
	}
	if matched == nil {
		matched = []Event{}
	}
	return matched, nil
}

// belongsToMember assigns a stream to exactly one consumer-group member,
// deterministically by stream name, so repeated calls with the same group
// configuration always agree.
func belongsToMember(stream string, group ConsumerGroup) bool {
	if group.Size <= 0 {
		return true
	}
	var hash uint32
	for i := 0; i < len(stream); i++ {
		hash = hash*31 + uint32(stream[i])
	}
	return int(hash%uint32(group.Size)) == group.Member
}

func (c *InMemory) HealthCheck(_ context.Context) error { return nil }

func (c *InMemory) Close() {}

var _ Client = (*InMemory)(nil)
