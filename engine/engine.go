// Package engine drives one session stream to termination: reading the
// stream, applying the last-event rule, and appending the events that
// follow from a model call or a tool batch. It is the only component that
// writes LLMCallStarted/LLMResponseReceived/LLMCallFailed and
// ToolExecutionRequested/Started/Completed/Failed events; everything else
// in the runtime only reads or projects them.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zcox/eventagent/events"
	"github.com/zcox/eventagent/eventlog"
	"github.com/zcox/eventagent/model"
	"github.com/zcox/eventagent/projection"
	"github.com/zcox/eventagent/telemetry"
	"github.com/zcox/eventagent/tools"
)

const (
	defaultMaxIterations = 100
	defaultMaxRetries    = 2
	readBatchSize        = 500
)

// Config configures an Engine. Client, Model, and Category are required;
// everything else defaults per spec.
type Config struct {
	Category string
	Version  string

	Client eventlog.Client
	Model  model.Client
	Tools  *tools.Registry

	SystemPrompt string

	// MaxIterations bounds the processing loop (default 100).
	MaxIterations int

	// MaxRetries bounds LLM call retries beyond the initial attempt
	// (default 2, i.e. 3 attempts total). Resolves the spec's "retry
	// budget on LLM failures" open question.
	MaxRetries int

	// RetryBaseDelay is the backoff unit between LLM retry attempts
	// (default 200ms, doubling per attempt up to 16 units).
	RetryBaseDelay time.Duration

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Engine drives processing loops against one category of session streams.
type Engine struct {
	cfg     Config
	backoff *backoff
}

// New constructs an Engine, applying defaults and a tool registry of
// NewRegistry() if none is supplied.
func New(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("engine: event log client is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("engine: model client is required")
	}
	if cfg.Category == "" {
		return nil, fmt.Errorf("engine: category is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewNoopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.NewNoopTracer()
	}
	return &Engine{cfg: cfg, backoff: newBackoff(cfg.RetryBaseDelay)}, nil
}

// MaxIterationsExceeded is returned when a processing loop reaches its
// iteration bound without a natural Terminate verdict. It deliberately does
// not append a session-completed event: recording the session as complete
// would misrepresent what happened.
type MaxIterationsExceeded struct {
	StreamName    string
	MaxIterations int
}

func (e *MaxIterationsExceeded) Error() string {
	return fmt.Sprintf("engine: stream %q exceeded max_iterations=%d without terminating", e.StreamName, e.MaxIterations)
}

// StreamName builds the session stream name for threadID under this
// Engine's configured category/version.
func (e *Engine) StreamName(threadID string) string {
	return eventlog.BuildStreamName(e.cfg.Category, e.cfg.Version, threadID)
}

// StartSession generates a fresh thread id, initialises its stream with
// SessionStarted, and records the first user turn. message must be
// non-empty after trimming whitespace.
func (e *Engine) StartSession(ctx context.Context, message string) (threadID string, err error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", fmt.Errorf("engine: initial message must be non-empty")
	}

	threadID = uuid.NewString()
	stream := e.StreamName(threadID)

	if _, err := e.cfg.Client.Append(ctx, stream, string(events.SessionStarted),
		events.SessionStartedData{ThreadID: threadID}, nil, eventlog.EmptyStreamVersion); err != nil {
		return "", fmt.Errorf("engine: append SessionStarted: %w", err)
	}
	if _, err := e.cfg.Client.Append(ctx, stream, string(events.UserMessageAdded),
		events.UserMessageAddedData{Message: trimmed, Timestamp: nowRFC3339()}, nil, 0); err != nil {
		return "", fmt.Errorf("engine: append UserMessageAdded: %w", err)
	}
	return threadID, nil
}

// AddUserMessage appends a further user turn to an existing stream.
func (e *Engine) AddUserMessage(ctx context.Context, stream, message string) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return fmt.Errorf("engine: message must be non-empty")
	}
	_, err := e.cfg.Client.Append(ctx, stream, string(events.UserMessageAdded),
		events.UserMessageAddedData{Message: trimmed, Timestamp: nowRFC3339()}, nil, eventlog.NoExpectedVersion)
	if err != nil {
		return fmt.Errorf("engine: append UserMessageAdded: %w", err)
	}
	return nil
}

// TerminateSession requests termination of stream. reason is recorded
// verbatim as SessionCompleted.completion_reason; use "success" for a
// graceful stop.
func (e *Engine) TerminateSession(ctx context.Context, stream, reason string) error {
	if reason == "" {
		reason = "success"
	}
	_, err := e.cfg.Client.Append(ctx, stream, string(events.SessionCompleted),
		events.SessionCompletedData{CompletionReason: reason}, nil, eventlog.NoExpectedVersion)
	if err != nil {
		return fmt.Errorf("engine: append SessionCompleted: %w", err)
	}
	return nil
}

// ProcessThread drives stream to termination: a model-call/tool-execution
// cycle per spec.md §4.F, non-streaming. Returns the session_state
// projected over the final stream.
func (e *Engine) ProcessThread(ctx context.Context, stream string) (projection.SessionState, error) {
	return e.processThread(ctx, stream, nil)
}

// ProcessThreadStreaming drives stream exactly like ProcessThread, except
// every LLM call streams and each delta is forwarded to onDelta as it
// arrives. Used by the render orchestrator (spec.md §4.H) to forward
// agent_delta items while the loop runs; tool-call batches are unaffected
// since tool execution is not itself a streamed operation.
func (e *Engine) ProcessThreadStreaming(ctx context.Context, stream string, onDelta func(model.StreamDelta)) (projection.SessionState, error) {
	return e.processThread(ctx, stream, onDelta)
}

func (e *Engine) processThread(ctx context.Context, stream string, onDelta func(model.StreamDelta)) (projection.SessionState, error) {
	ctx, span := e.cfg.Tracer.Start(ctx, "engine.ProcessThread")
	defer span.End()

	iteration := 0
	for iteration < e.cfg.MaxIterations {
		evts, version, err := e.readAll(ctx, stream)
		if err != nil {
			return projection.SessionState{}, err
		}
		if len(evts) == 0 {
			return projection.SessionState{}, fmt.Errorf("engine: stream %q has not been initialised by start_session", stream)
		}

		verdict, err := projection.NextStep(evts)
		if err != nil {
			return projection.SessionState{}, fmt.Errorf("engine: next_step: %w", err)
		}

		switch verdict.Step {
		case projection.StepTerminate:
			return projection.SessionStateOf(evts)

		case projection.StepCallModel:
			if err := e.runModelStep(ctx, stream, evts, version, onDelta); err != nil {
				return projection.SessionState{}, err
			}

		case projection.StepExecuteTools:
			if err := e.runToolStep(ctx, stream, version, verdict.Calls); err != nil {
				return projection.SessionState{}, err
			}

		default:
			return projection.SessionState{}, fmt.Errorf("engine: unrecognised next_step verdict %q", verdict.Step)
		}

		iteration++
	}

	evts, _, err := e.readAll(ctx, stream)
	if err != nil {
		return projection.SessionState{}, err
	}
	if len(evts) > 0 {
		if verdict, vErr := projection.NextStep(evts); vErr == nil && verdict.Step == projection.StepTerminate {
			return projection.SessionStateOf(evts)
		}
	}
	return projection.SessionState{}, &MaxIterationsExceeded{StreamName: stream, MaxIterations: e.cfg.MaxIterations}
}

// runModelStep projects conversation context, calls the model with bounded
// retry, and appends the resulting LLMCallStarted/LLMResponseReceived (or,
// after the retry budget is exhausted, LLMCallFailed). onDelta, if
// non-nil, receives every streamed delta of a successful call (used by
// ProcessThreadStreaming); a nil onDelta calls Model.Call directly.
func (e *Engine) runModelStep(ctx context.Context, stream string, evts []eventlog.Event, version int64, onDelta func(model.StreamDelta)) error {
	convo, err := projection.ConversationContext(evts)
	if err != nil {
		return fmt.Errorf("engine: conversation_context: %w", err)
	}
	req := model.Request{
		Messages:     toModelMessages(convo),
		Tools:        toModelTools(e.cfg.Tools.Declarations()),
		SystemPrompt: e.cfg.SystemPrompt,
	}

	if _, err := e.cfg.Client.Append(ctx, stream, string(events.LLMCallStarted),
		events.LLMCallStartedData{MessageCount: len(convo), ToolCount: e.cfg.Tools.Len()}, nil, version); err != nil {
		return fmt.Errorf("engine: append LLMCallStarted: %w", err)
	}
	version++

	resp, attempts, callErr := e.callModelWithRetry(ctx, req, onDelta)
	if callErr != nil {
		e.cfg.Logger.Warn(ctx, "engine: llm call failed after retries", "stream", stream, "attempts", attempts, "error", callErr)
		_, err := e.cfg.Client.Append(ctx, stream, string(events.LLMCallFailed),
			events.LLMCallFailedData{ErrorMessage: callErr.Error(), RetryCount: attempts - 1}, nil, version)
		if err != nil {
			return fmt.Errorf("engine: append LLMCallFailed: %w", err)
		}
		return nil
	}

	_, err = e.cfg.Client.Append(ctx, stream, string(events.LLMResponseReceived), toResponseData(resp), nil, version)
	if err != nil {
		return fmt.Errorf("engine: append LLMResponseReceived: %w", err)
	}
	return nil
}

// callModelWithRetry calls the model, retrying up to cfg.MaxRetries times
// with a doubling backoff. attempts is the total number of calls made
// (1 if the first attempt succeeded). When onDelta is non-nil, each
// attempt goes through CallStream/CollectStream instead of Call so deltas
// can be forwarded as they arrive; a retried attempt simply re-streams
// from scratch, each of its deltas forwarded in turn.
func (e *Engine) callModelWithRetry(ctx context.Context, req model.Request, onDelta func(model.StreamDelta)) (model.Response, int, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		resp, err := e.callModelOnce(ctx, req, onDelta)
		if err == nil {
			return resp, attempt + 1, nil
		}
		lastErr = err
		if attempt < e.cfg.MaxRetries {
			if waitErr := e.backoff.wait(ctx, attempt+1); waitErr != nil {
				return model.Response{}, attempt + 1, waitErr
			}
		}
	}
	return model.Response{}, e.cfg.MaxRetries + 1, lastErr
}

func (e *Engine) callModelOnce(ctx context.Context, req model.Request, onDelta func(model.StreamDelta)) (model.Response, error) {
	if onDelta == nil {
		return e.cfg.Model.Call(ctx, req)
	}
	stream, err := e.cfg.Model.CallStream(ctx, req)
	if err != nil {
		return model.Response{}, err
	}
	return model.CollectStream(ctx, model.ObserveStream(stream, onDelta))
}

// runToolStep appends the request/start/completion-or-failure events for
// every model-requested tool call, in order.
func (e *Engine) runToolStep(ctx context.Context, stream string, version int64, calls []events.ToolCallPayload) error {
	for idx, call := range calls {
		meta := events.ToolRequestMeta{ToolID: call.ID, ToolIndex: idx}

		if _, err := e.cfg.Client.Append(ctx, stream, string(events.ToolExecutionRequested),
			events.ToolExecutionRequestedData{ToolName: call.Name, Arguments: call.Arguments}, meta, version); err != nil {
			return fmt.Errorf("engine: append ToolExecutionRequested: %w", err)
		}
		version++

		if _, err := e.cfg.Client.Append(ctx, stream, string(events.ToolExecutionStarted),
			events.ToolExecutionStartedData{ToolName: call.Name, Arguments: call.Arguments}, nil, version); err != nil {
			return fmt.Errorf("engine: append ToolExecutionStarted: %w", err)
		}
		version++

		result := tools.Execute(ctx, e.cfg.Tools, tools.Call{Name: call.Name, Arguments: call.Arguments})
		completionMeta := events.ToolCompletionMeta{ToolCallID: call.ID}

		if result.Success {
			_, err := e.cfg.Client.Append(ctx, stream, string(events.ToolExecutionCompleted),
				events.ToolExecutionCompletedData{ToolName: call.Name, Result: result.Result, ExecutionTimeMs: result.ExecutionTimeMs},
				completionMeta, version)
			if err != nil {
				return fmt.Errorf("engine: append ToolExecutionCompleted: %w", err)
			}
		} else {
			_, err := e.cfg.Client.Append(ctx, stream, string(events.ToolExecutionFailed),
				events.ToolExecutionFailedData{ToolName: call.Name, ErrorMessage: result.ErrorMessage, RetryCount: 0},
				completionMeta, version)
			if err != nil {
				return fmt.Errorf("engine: append ToolExecutionFailed: %w", err)
			}
		}
		version++
	}
	return nil
}

// readAll pages through ReadStream until it has the full stream, returning
// the events and the stream's current last position (len-1, or
// eventlog.EmptyStreamVersion if empty) for use as the next append's
// expected_version.
func (e *Engine) readAll(ctx context.Context, stream string) ([]eventlog.Event, int64, error) {
	var all []eventlog.Event
	pos := int64(0)
	for {
		batch, err := e.cfg.Client.ReadStream(ctx, stream, pos, readBatchSize)
		if err != nil {
			return nil, 0, fmt.Errorf("engine: read_stream: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < readBatchSize {
			break
		}
		pos += int64(len(batch))
	}
	version := int64(len(all)) - 1
	return all, version, nil
}

func toModelMessages(convo []projection.Message) []model.Message {
	out := make([]model.Message, 0, len(convo))
	for _, m := range convo {
		msg := model.Message{
			Role:       model.Role(m.Role),
			Text:       m.Text,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out = append(out, msg)
	}
	return out
}

func toModelTools(decls []tools.Declaration) []model.ToolDeclaration {
	out := make([]model.ToolDeclaration, 0, len(decls))
	for _, d := range decls {
		out = append(out, model.ToolDeclaration{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

func toResponseData(resp model.Response) events.LLMResponseReceivedData {
	calls := make([]events.ToolCallPayload, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		calls = append(calls, events.ToolCallPayload{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	return events.LLMResponseReceivedData{
		ResponseText: resp.Text,
		ToolCalls:    calls,
		ModelName:    resp.ModelName,
		TokenUsage: map[string]int{
			"input_tokens":  resp.TokenUsage.InputTokens,
			"output_tokens": resp.TokenUsage.OutputTokens,
			"total_tokens":  resp.TokenUsage.TotalTokens,
		},
	}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
