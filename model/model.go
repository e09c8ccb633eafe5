// Package model presents one interface — call and call_stream — over
// heterogeneous model providers, with a unified message / tool-call /
// stream-delta type system. Provider adapters live in model/anthropic,
// model/openai, model/gemini, and model/bedrock; a factory in this
// package chooses among them by configured provider name.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

func jsonUnmarshal(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}

// Role is who produced a Message in a model request.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-issued invocation request.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is one turn of conversation context passed to a provider.
type Message struct {
	Role Role
	Text string

	// ToolCalls is populated on an assistant Message that requested tool
	// invocations.
	ToolCalls []ToolCall

	// ToolCallID and ToolName identify which call a tool-role Message
	// answers.
	ToolCallID string
	ToolName   string
}

// ToolDeclaration describes one callable function a provider may invoke.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-Schema object
}

// TokenUsage carries conventional usage counters. Any field may be zero if
// the provider didn't report it.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Request is the uniform input to both Call and CallStream.
type Request struct {
	Messages     []Message
	Tools        []ToolDeclaration
	SystemPrompt string
}

// Response is a completed, non-streaming model reply. Either Text is
// non-empty or ToolCalls is non-empty (or both).
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	ModelName  string
	TokenUsage TokenUsage
}

// DeltaKind tags a StreamDelta's variant.
type DeltaKind string

const (
	DeltaText      DeltaKind = "text"
	DeltaToolCall  DeltaKind = "tool_call"
	DeltaToolInput DeltaKind = "tool_input"
	DeltaDone      DeltaKind = "done"
)

// StreamDelta is one increment of a streamed response. Exactly one field
// group is populated, selected by Kind.
type StreamDelta struct {
	Kind DeltaKind

	// Text is set when Kind == DeltaText: a non-empty text fragment.
	Text string

	// Index, ID, Name are set when Kind == DeltaToolCall: a new tool
	// call begins at this index.
	Index int
	ID    string
	Name  string

	// InputDelta is set when Kind == DeltaToolInput: a partial JSON
	// fragment of the tool call at Index's arguments.
	InputDelta string

	// TokenUsage is set when Kind == DeltaDone.
	TokenUsage TokenUsage
}

// Stream is a lazy, finite sequence of StreamDelta terminating with
// exactly one DeltaDone item, after which Next returns false.
type Stream interface {
	// Next advances the stream. Returns false when the stream is
	// exhausted (after the DeltaDone item has been returned) or on
	// error; callers must check Err after a false return.
	Next(ctx context.Context) bool

	// Delta returns the delta most recently produced by Next.
	Delta() StreamDelta

	// Err returns the first error encountered, if any.
	Err() error

	// Close releases resources backing the stream. Safe to call after
	// the stream is exhausted or to abandon it early (cancellation).
	Close() error
}

// Client presents one interface for any model provider.
type Client interface {
	// ModelName is the configured model identifier this client targets.
	ModelName() string

	// Call returns a completed Response.
	Call(ctx context.Context, req Request) (Response, error)

	// CallStream returns a Stream of incremental deltas.
	CallStream(ctx context.Context, req Request) (Stream, error)
}

// TransportError wraps an API/network failure from a provider.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model: %s transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResponseError indicates a provider reply that could not be parsed into
// the uniform Response/StreamDelta shape.
type ResponseError struct {
	Provider string
	Err      error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("model: %s malformed response: %v", e.Provider, e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// ErrRateLimited is a sentinel for wrapping into a *TransportError to mark
// a rate-limiting failure. None of the adapters in this module return it,
// and the engine's retry/backoff step treats every model error alike.
var ErrRateLimited = errors.New("model: rate limited")

// AdapterFactory constructs a Client for a given model name. Provider
// packages register themselves via RegisterAdapter at init time.
type AdapterFactory func(modelName string) (Client, error)

var adapters = map[string]AdapterFactory{}

// RegisterAdapter associates a provider key (e.g. "anthropic", "openai",
// "gemini", "bedrock") with a factory. Provider packages call this from an
// init function so importing them for side effect is enough to make them
// available to NewClient.
func RegisterAdapter(provider string, factory AdapterFactory) {
	adapters[provider] = factory
}

// NewClient resolves provider to a registered AdapterFactory and
// constructs a Client for modelName.
func NewClient(provider, modelName string) (Client, error) {
	factory, ok := adapters[provider]
	if !ok {
		return nil, fmt.Errorf("model: no adapter registered for provider %q", provider)
	}
	return factory(modelName)
}

// CollectStream drains stream into a completed Response, used by the
// non-streaming processing loop when it wants CallStream's codepath
// (e.g. in tests that only implement a fake Stream). Tool-call deltas are
// assembled into ToolCall entries in index order; InputDelta fragments
// are concatenated and parsed as JSON.
func CollectStream(ctx context.Context, stream Stream) (Response, error) {
	defer stream.Close()

	var (
		text     string
		byIndex  = map[int]*ToolCall{}
		rawInput = map[int]string{}
		order    []int
		usage    TokenUsage
	)

	for stream.Next(ctx) {
		delta := stream.Delta()
		switch delta.Kind {
		case DeltaText:
			text += delta.Text
		case DeltaToolCall:
			if _, exists := byIndex[delta.Index]; !exists {
				order = append(order, delta.Index)
			}
			byIndex[delta.Index] = &ToolCall{ID: delta.ID, Name: delta.Name}
		case DeltaToolInput:
			if _, ok := byIndex[delta.Index]; !ok {
				return Response{}, &ResponseError{Err: fmt.Errorf("tool_input delta for unknown index %d", delta.Index)}
			}
			rawInput[delta.Index] += delta.InputDelta
		case DeltaDone:
			usage = delta.TokenUsage
		}
	}
	if err := stream.Err(); err != nil {
		return Response{}, err
	}

	toolCalls := make([]ToolCall, 0, len(order))
	for _, idx := range order {
		tc := *byIndex[idx]
		tc.Arguments = map[string]any{}
		if raw := rawInput[idx]; raw != "" {
			if err := jsonUnmarshal(raw, &tc.Arguments); err != nil {
				return Response{}, &ResponseError{Err: fmt.Errorf("parse tool_input for index %d: %w", idx, err)}
			}
		}
		toolCalls = append(toolCalls, tc)
	}

	return Response{Text: text, ToolCalls: toolCalls, TokenUsage: usage}, nil
}
