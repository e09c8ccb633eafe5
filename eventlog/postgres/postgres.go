// Package postgres implements eventlog.Client against the message-store
// schema: a messages table plus the write_message/get_stream_messages/
// get_category_messages/get_last_stream_message server-side functions
// described by the runtime's event store contract. It is the durable,
// production-grade Client; eventlog.InMemory covers tests and
// embedders that don't need durability.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zcox/eventagent/eventlog"
)

// Config holds the connection parameters for the event-store database.
// Mirrors the originating system's environment-variable surface (host,
// port, name, user, password) plus pool sizing.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MinConns int32
	MaxConns int32

	// ConditionSupported reports whether the server has enabled the
	// `condition` predicate on category reads. Most deployments leave it
	// disabled; requesting it against an unsupporting store fails loudly
	// rather than silently ignoring the predicate.
	ConditionSupported bool
}

// ConnectionString renders Config as a libpq connection URI.
func (c Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Store is a Postgres-backed eventlog.Client using a pooled pgx
// connection. It is safe for concurrent use.
type Store struct {
	pool               *pgxpool.Pool
	conditionSupported bool
}

// Connect opens a bounded connection pool against cfg and returns a Store.
// The pool is released by Close.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, &eventlog.TransportError{Op: "parse connection string", Err: err}
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &eventlog.TransportError{Op: "open connection pool", Err: err}
	}
	return &Store{pool: pool, conditionSupported: cfg.ConditionSupported}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Append calls the store's write_message(...) primitive.
func (s *Store) Append(ctx context.Context, stream, eventType string, data, metadata any, expectedVersion int64) (int64, error) {
	if err := eventlog.ValidatePayload(data); err != nil {
		return 0, err
	}

	dataJSON, err := encodePayload(data)
	if err != nil {
		return 0, &eventlog.TransportError{Op: "marshal data", Err: err}
	}
	metaJSON, err := encodePayload(metadata)
	if err != nil {
		return 0, &eventlog.TransportError{Op: "marshal metadata", Err: err}
	}

	var expected any
	if expectedVersion != eventlog.NoExpectedVersion {
		expected = expectedVersion
	}

	var position int64
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx,
		`SELECT write_message($1, $2, $3, $4::jsonb, $5::jsonb, $6)`,
		id, stream, eventType, string(dataJSON), string(metaJSON), expected,
	)
	if err := row.Scan(&position); err != nil {
		if isWrongExpectedVersion(err) {
			actual, readErr := s.lastPosition(ctx, stream)
			if readErr != nil {
				return 0, &eventlog.TransportError{Op: "append: resolve actual version after conflict", Err: readErr}
			}
			return 0, &eventlog.OptimisticConcurrencyError{Stream: stream, ExpectedVersion: expectedVersion, ActualVersion: actual}
		}
		return 0, &eventlog.TransportError{Op: "append", Err: err}
	}
	return position, nil
}

func (s *Store) lastPosition(ctx context.Context, stream string) (int64, error) {
	evt, ok, err := s.LastStreamMessage(ctx, stream)
	if err != nil {
		return 0, err
	}
	if !ok {
		return -1, nil
	}
	return evt.StreamPosition, nil
}

// isWrongExpectedVersion matches the store's documented error text for an
// optimistic-concurrency conflict ("Wrong expected version").
func isWrongExpectedVersion(err error) bool {
	return strings.Contains(err.Error(), "Wrong expected version")
}

func (s *Store) ReadStream(ctx context.Context, stream string, fromPosition int64, batchSize int) ([]eventlog.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, stream_name, type, position, global_position, data, metadata, time
		   FROM get_stream_messages($1, $2, $3)`,
		stream, fromPosition, batchSize,
	)
	if err != nil {
		return nil, &eventlog.TransportError{Op: "read stream", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) LastStreamMessage(ctx context.Context, stream string) (eventlog.Event, bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, stream_name, type, position, global_position, data, metadata, time
		   FROM get_last_stream_message($1)`,
		stream,
	)
	if err != nil {
		return eventlog.Event{}, false, &eventlog.TransportError{Op: "last stream message", Err: err}
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return eventlog.Event{}, false, err
	}
	if len(events) == 0 {
		return eventlog.Event{}, false, nil
	}
	return events[0], true, nil
}

func (s *Store) ReadCategory(ctx context.Context, category string, fromGlobalPosition int64, batchSize int, opts eventlog.ReadCategoryOptions) ([]eventlog.Event, error) {
	if opts.Condition != "" && !s.conditionSupported {
		return nil, eventlog.ErrConditionUnsupported
	}

	var member, size any
	if opts.ConsumerGroup != nil {
		member = opts.ConsumerGroup.Member
		size = opts.ConsumerGroup.Size
	}
	var correlation, condition any
	if opts.Correlation != "" {
		correlation = opts.Correlation
	}
	if opts.Condition != "" {
		condition = opts.Condition
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, stream_name, type, position, global_position, data, metadata, time
		   FROM get_category_messages($1, $2, $3, $4, $5, $6, $7)`,
		category, fromGlobalPosition, batchSize, correlation, member, size, condition,
	)
	if err != nil {
		return nil, &eventlog.TransportError{Op: "read category", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// HealthCheck verifies connectivity and that write_message is installed,
// mirroring the originating store client's startup check against
// pg_proc.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &eventlog.TransportError{Op: "health check: ping", Err: err}
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = 'write_message')`,
	).Scan(&exists)
	if err != nil {
		return &eventlog.TransportError{Op: "health check: pg_proc lookup", Err: err}
	}
	if !exists {
		return fmt.Errorf("eventlog: write_message is not installed on this server")
	}
	return nil
}

func scanEvents(rows pgx.Rows) ([]eventlog.Event, error) {
	var out []eventlog.Event
	for rows.Next() {
		var (
			evt     eventlog.Event
			dataRaw []byte
			metaRaw []byte
		)
		if err := rows.Scan(&evt.ID, &evt.StreamName, &evt.Type, &evt.StreamPosition, &evt.GlobalPosition, &dataRaw, &metaRaw, &evt.Time); err != nil {
			return nil, &eventlog.TransportError{Op: "scan event row", Err: err}
		}
		evt.Data = json.RawMessage(dataRaw)
		evt.Metadata = json.RawMessage(metaRaw)
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, &eventlog.TransportError{Op: "iterate event rows", Err: err}
	}
	if out == nil {
		out = []eventlog.Event{}
	}
	return out, nil
}

func encodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

var _ eventlog.Client = (*Store)(nil)
