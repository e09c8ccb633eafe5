// Package subscriber implements the category poll-loop framework: a
// long-running reader of one category that dispatches each event to a
// handler in global-position order and remembers how far it has read via a
// pluggable PositionStore.
//
// Failure semantics are a deliberate departure from the at-least-once-but-
// can-lose-a-failed-event behavior of the system this module was modeled
// on: a handler error here stops that poll's dispatch and the position is
// NOT advanced past the failing event, so the next poll retries the same
// batch from its start. This trades a stalled subscriber for never silently
// skipping a failed event; see OnError.
package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/zcox/eventagent/eventlog"
	"github.com/zcox/eventagent/telemetry"
)

// PositionStore persists how far a subscriber has read, keyed by subscriber
// id. Get defaults to 0 for an id it has never seen.
type PositionStore interface {
	Get(ctx context.Context, subscriberID string) (int64, error)
	Update(ctx context.Context, subscriberID string, position int64) error
}

// Handler processes one event. A returned error halts the current batch's
// dispatch (see package doc); the subscriber continues polling afterward.
type Handler func(ctx context.Context, evt eventlog.Event) error

// Config defines one subscriber's identity and behavior.
type Config struct {
	Category      string
	SubscriberID  string
	Handler       Handler
	BatchSize     int
	PollInterval  time.Duration
	Client        eventlog.Client
	PositionStore PositionStore

	// OnError is invoked, if set, whenever Handler returns an error. The
	// subscriber stops advancing and logs regardless; OnError lets an
	// embedder page an operator or record a metric.
	OnError func(evt eventlog.Event, err error)

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Subscriber runs Config's poll loop.
type Subscriber struct {
	cfg  Config
	stop chan struct{}
	done chan struct{}
}

// New validates cfg, applying batch size and poll interval defaults, and
// returns a ready-to-Run Subscriber.
func New(cfg Config) (*Subscriber, error) {
	if cfg.Category == "" {
		return nil, fmt.Errorf("subscriber: category is required")
	}
	if cfg.SubscriberID == "" {
		return nil, fmt.Errorf("subscriber: subscriber_id is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("subscriber: handler is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("subscriber: event log client is required")
	}
	if cfg.PositionStore == nil {
		return nil, fmt.Errorf("subscriber: position store is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewNoopMetrics()
	}
	return &Subscriber{cfg: cfg, stop: make(chan struct{}), done: make(chan struct{})}, nil
}

// Run polls until ctx is cancelled or Stop is called, returning once the
// in-flight batch (if any) has finished dispatching. It returns an error
// only when the initial position cannot be loaded, or ctx.Err() on
// cancellation; poll failures are reported via cfg.Logger and the loop
// retries on the next poll interval.
func (s *Subscriber) Run(ctx context.Context) error {
	defer close(s.done)

	position, err := s.cfg.PositionStore.Get(ctx, s.cfg.SubscriberID)
	if err != nil {
		return fmt.Errorf("subscriber: load initial position for %q: %w", s.cfg.SubscriberID, err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		default:
		}

		advanced, newPosition, err := s.pollOnce(ctx, position)
		if err != nil {
			s.cfg.Logger.Error(ctx, "subscriber: poll failed", "subscriber_id", s.cfg.SubscriberID, "category", s.cfg.Category, "error", err)
		} else if advanced {
			position = newPosition
			continue // immediately try for more without waiting out the interval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop requests the loop exit after the in-flight batch (if any) finishes.
func (s *Subscriber) Stop() {
	close(s.stop)
	<-s.done
}

// pollOnce reads one batch starting at position and dispatches it. It
// returns advanced=true with the new position only if every event in the
// batch was handled without error.
func (s *Subscriber) pollOnce(ctx context.Context, position int64) (advanced bool, newPosition int64, err error) {
	batch, err := s.cfg.Client.ReadCategory(ctx, s.cfg.Category, position, s.cfg.BatchSize, eventlog.ReadCategoryOptions{})
	if err != nil {
		return false, position, fmt.Errorf("read_category: %w", err)
	}
	if len(batch) == 0 {
		return false, position, nil
	}

	var maxGlobalPosition int64 = -1
	for _, evt := range batch {
		if handlerErr := s.cfg.Handler(ctx, evt); handlerErr != nil {
			s.cfg.Logger.Error(ctx, "subscriber: handler failed, batch not advanced",
				"subscriber_id", s.cfg.SubscriberID, "event_id", evt.ID, "event_type", evt.Type,
				"global_position", evt.GlobalPosition, "error", handlerErr)
			s.cfg.Metrics.IncCounter("subscriber_handler_errors_total", 1, "subscriber_id", s.cfg.SubscriberID)
			if s.cfg.OnError != nil {
				s.cfg.OnError(evt, handlerErr)
			}
			return false, position, nil
		}
		if evt.GlobalPosition > maxGlobalPosition {
			maxGlobalPosition = evt.GlobalPosition
		}
	}

	next := maxGlobalPosition + 1
	if err := s.cfg.PositionStore.Update(ctx, s.cfg.SubscriberID, next); err != nil {
		return false, position, fmt.Errorf("update position: %w", err)
	}
	s.cfg.Metrics.IncCounter("subscriber_events_processed_total", float64(len(batch)), "subscriber_id", s.cfg.SubscriberID)
	return true, next, nil
}
