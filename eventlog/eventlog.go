// Package eventlog defines the event log contract the rest of the runtime
// builds on: append-with-optimistic-concurrency, ordered stream reads,
// category reads across streams, and last-message lookup. Two
// implementations are provided: an in-memory Client for tests, and a
// Postgres-backed Client (package eventlog/postgres) over the
// message-store schema described by the runtime's external interface.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is one immutable record read back from the log. Data and Metadata
// are raw JSON so callers can unmarshal into whatever payload shape the
// events package declares for Type.
type Event struct {
	ID             string
	StreamName     string
	Type           string
	StreamPosition int64
	GlobalPosition int64
	Time           time.Time
	Data           json.RawMessage
	Metadata       json.RawMessage
}

// payloadValidator is implemented by event payload types that enforce
// constructor-time invariants (see package events' Validate methods).
// ValidatePayload lets Append reject an invalid payload before it is ever
// marshaled or written, without eventlog importing events.
type payloadValidator interface{ Validate() error }

// ValidatePayload runs data's Validate method, if data implements one, and
// returns its error. Client implementations call this from Append before
// marshaling data, so an invalid event payload never reaches the log.
func ValidatePayload(data any) error {
	if v, ok := data.(payloadValidator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("eventlog: invalid event payload: %w", err)
		}
	}
	return nil
}

// UnmarshalData decodes the event's Data payload into v.
func (e Event) UnmarshalData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// UnmarshalMetadata decodes the event's Metadata payload into v.
func (e Event) UnmarshalMetadata(v any) error {
	if len(e.Metadata) == 0 {
		return nil
	}
	return json.Unmarshal(e.Metadata, v)
}

// ConsumerGroup partitions a category read deterministically across a fixed
// number of readers. Member and Size must both be set or both left zero.
type ConsumerGroup struct {
	Member int
	Size   int
}

// ReadCategoryOptions narrows a category read beyond the basic
// position/batch-size pagination.
type ReadCategoryOptions struct {
	ConsumerGroup *ConsumerGroup
	Correlation   string
	Condition     string
}

// NoExpectedVersion means append without an optimistic-concurrency check.
const NoExpectedVersion int64 = -2

// EmptyStreamVersion is the expected_version value that requires the target
// stream to not yet exist.
const EmptyStreamVersion int64 = -1

// Client is the event log contract every component in this module depends
// on. Implementations must be safe for concurrent use by multiple callers.
type Client interface {
	// Append writes one event to stream, returning its new stream
	// position. If expectedVersion != NoExpectedVersion, the write only
	// succeeds if stream's last position equals expectedVersion;
	// EmptyStreamVersion requires the stream to not yet exist. On
	// mismatch returns *OptimisticConcurrencyError.
	Append(ctx context.Context, stream, eventType string, data, metadata any, expectedVersion int64) (int64, error)

	// ReadStream returns up to batchSize events from stream in position
	// order starting at fromPosition. Returns an empty slice, not an
	// error, if the stream does not exist.
	ReadStream(ctx context.Context, stream string, fromPosition int64, batchSize int) ([]Event, error)

	// LastStreamMessage returns the highest-position event on stream, or
	// (Event{}, false, nil) if the stream is empty. Implementations must
	// serve this in O(1); simulating it via a full stream read is
	// non-conformant.
	LastStreamMessage(ctx context.Context, stream string) (Event, bool, error)

	// ReadCategory returns up to batchSize events across every stream in
	// category, in global-position order.
	ReadCategory(ctx context.Context, category string, fromGlobalPosition int64, batchSize int, opts ReadCategoryOptions) ([]Event, error)

	// HealthCheck verifies connectivity and that the store's append
	// primitive is installed.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close()
}

// OptimisticConcurrencyError is returned by Append when expectedVersion
// does not match the stream's actual last position.
type OptimisticConcurrencyError struct {
	Stream          string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *OptimisticConcurrencyError) Error() string {
	return fmt.Sprintf("eventlog: optimistic concurrency conflict on stream %q: expected version %d, actual version %d",
		e.Stream, e.ExpectedVersion, e.ActualVersion)
}

// TransportError wraps any failure from the underlying store (connection,
// query, driver errors) that is not a concurrency conflict.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("eventlog: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrConditionUnsupported is returned by ReadCategory when a Condition is
// requested but the store was not constructed with condition support
// enabled. The server-side predicate is opt-in per deployment; silently
// ignoring it and returning an unfiltered superset would violate category
// read callers' expectations, so this fails loudly instead.
var ErrConditionUnsupported = fmt.Errorf("eventlog: condition predicate requested but not supported by this store")

// BuildStreamName builds "category:version-entityId", e.g. "agent:v0-<uuid>".
func BuildStreamName(category, version, entityID string) string {
	if version == "" {
		return category + "-" + entityID
	}
	return category + ":" + version + "-" + entityID
}

// ParseStreamName splits a stream name into its category, version, and
// entity id. Everything before the first '-' is the prefix category reads
// match on (see CategoryOf); ParseStreamName splits that prefix at ':'
// into the returned category and version.
func ParseStreamName(stream string) (category, version, entityID string, err error) {
	dash := strings.Index(stream, "-")
	if dash < 0 {
		return "", "", "", fmt.Errorf("eventlog: stream name %q has no '-' separating category from entity id", stream)
	}
	head := stream[:dash]
	entityID = stream[dash+1:]
	if entityID == "" {
		return "", "", "", fmt.Errorf("eventlog: stream name %q has an empty entity id", stream)
	}
	if colon := strings.Index(head, ":"); colon >= 0 {
		category = head[:colon]
		version = head[colon+1:]
	} else {
		category = head
	}
	if category == "" {
		return "", "", "", fmt.Errorf("eventlog: stream name %q has an empty category", stream)
	}
	return category, version, entityID, nil
}

// CategoryOf returns the category prefix of a stream name (everything
// before the first '-'), used to match category reads.
func CategoryOf(stream string) string {
	if dash := strings.Index(stream, "-"); dash >= 0 {
		return stream[:dash]
	}
	return stream
}
