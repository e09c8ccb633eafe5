// Package events names the domain event types the core recognises and
// gives their payloads Validate methods, which the event log runs on every
// Append. Unknown event
// types read back from the log are tolerated: projections treat them as an
// Unknown variant and ignore them rather than failing.
package events

import "fmt"

// Type is the short string name stored on every event record (e.g.
// "UserMessageAdded"). It is what the event log calls a message type.
type Type string

// The complete domain event catalogue. Every type a projection pattern-
// matches on is named here; anything else read from the log is Unknown.
const (
	SessionStarted              Type = "SessionStarted"
	UserMessageAdded             Type = "UserMessageAdded"
	LLMCallStarted               Type = "LLMCallStarted"
	LLMResponseReceived          Type = "LLMResponseReceived"
	LLMCallFailed                Type = "LLMCallFailed"
	ToolExecutionRequested       Type = "ToolExecutionRequested"
	ToolExecutionStarted         Type = "ToolExecutionStarted"
	ToolExecutionCompleted       Type = "ToolExecutionCompleted"
	ToolExecutionFailed          Type = "ToolExecutionFailed"
	SessionTerminationRequested  Type = "SessionTerminationRequested"
	SessionCompleted             Type = "SessionCompleted"
	DisplayPreferenceUpdated     Type = "DisplayPreferenceUpdated"
	PositionUpdated              Type = "PositionUpdated"
)

// ToolCallPayload is the `{id, name, arguments}` shape carried by
// LLMResponseReceived.tool_calls and referenced by every ToolExecution*
// event.
type ToolCallPayload struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// SessionStartedData is the payload of a SessionStarted event.
type SessionStartedData struct {
	ThreadID string `json:"thread_id"`
}

// Validate enforces SessionStarted's invariant: thread_id is non-empty.
func (d SessionStartedData) Validate() error {
	if d.ThreadID == "" {
		return fmt.Errorf("events: SessionStarted requires a non-empty thread_id")
	}
	return nil
}

// UserMessageAddedData is the payload of a UserMessageAdded event.
type UserMessageAddedData struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Validate enforces UserMessageAdded's invariant: message is non-empty
// after trimming whitespace (enforced by the caller at construction time;
// this only checks the raw field is non-empty).
func (d UserMessageAddedData) Validate() error {
	if d.Message == "" {
		return fmt.Errorf("events: UserMessageAdded requires a non-empty message")
	}
	return nil
}

// LLMCallStartedData is the payload of an LLMCallStarted event.
type LLMCallStartedData struct {
	MessageCount int `json:"message_count"`
	ToolCount    int `json:"tool_count"`
}

// LLMResponseReceivedData is the payload of an LLMResponseReceived event.
type LLMResponseReceivedData struct {
	ResponseText string            `json:"response_text"`
	ToolCalls    []ToolCallPayload `json:"tool_calls"`
	ModelName    string            `json:"model_name"`
	TokenUsage   map[string]int    `json:"token_usage"`
}

// Validate enforces LLMResponseReceived's invariants: model_name is
// non-empty, and text or tool-calls (or both) are present.
func (d LLMResponseReceivedData) Validate() error {
	if d.ModelName == "" {
		return fmt.Errorf("events: LLMResponseReceived requires a non-empty model_name")
	}
	if d.ResponseText == "" && len(d.ToolCalls) == 0 {
		return fmt.Errorf("events: LLMResponseReceived requires non-empty response_text or at least one tool call")
	}
	return nil
}

// LLMCallFailedData is the payload of an LLMCallFailed event.
type LLMCallFailedData struct {
	ErrorMessage string `json:"error_message"`
	RetryCount   int    `json:"retry_count"`
}

// Validate enforces LLMCallFailed's invariant: error_message is non-empty.
func (d LLMCallFailedData) Validate() error {
	if d.ErrorMessage == "" {
		return fmt.Errorf("events: LLMCallFailed requires a non-empty error_message")
	}
	return nil
}

// ToolExecutionRequestedData is the payload of a ToolExecutionRequested event.
// metadata carries tool_id and tool_index (see ToolRequestMeta).
type ToolExecutionRequestedData struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Validate enforces ToolExecutionRequested's invariant: tool_name is
// non-empty.
func (d ToolExecutionRequestedData) Validate() error {
	if d.ToolName == "" {
		return fmt.Errorf("events: ToolExecutionRequested requires a non-empty tool_name")
	}
	return nil
}

// ToolExecutionStartedData is the payload of a ToolExecutionStarted event.
type ToolExecutionStartedData struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolExecutionCompletedData is the payload of a ToolExecutionCompleted
// event. metadata carries tool_call_id (see ToolCompletionMeta).
type ToolExecutionCompletedData struct {
	ToolName        string `json:"tool_name"`
	Result          any    `json:"result"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Validate enforces ToolExecutionCompleted's invariant: tool_name is
// non-empty.
func (d ToolExecutionCompletedData) Validate() error {
	if d.ToolName == "" {
		return fmt.Errorf("events: ToolExecutionCompleted requires a non-empty tool_name")
	}
	return nil
}

// ToolExecutionFailedData is the payload of a ToolExecutionFailed event.
type ToolExecutionFailedData struct {
	ToolName     string `json:"tool_name"`
	ErrorMessage string `json:"error_message"`
	RetryCount   int    `json:"retry_count"`
}

// Validate enforces ToolExecutionFailed's invariants: tool_name and
// error_message are non-empty.
func (d ToolExecutionFailedData) Validate() error {
	if d.ToolName == "" {
		return fmt.Errorf("events: ToolExecutionFailed requires a non-empty tool_name")
	}
	if d.ErrorMessage == "" {
		return fmt.Errorf("events: ToolExecutionFailed requires a non-empty error_message")
	}
	return nil
}

// SessionTerminationRequestedData is the payload of a
// SessionTerminationRequested event.
type SessionTerminationRequestedData struct {
	Reason string `json:"reason"`
}

// SessionCompletedData is the payload of a SessionCompleted event.
type SessionCompletedData struct {
	CompletionReason string `json:"completion_reason"`
}

// Validate enforces SessionCompleted's invariant: completion_reason is
// non-empty.
func (d SessionCompletedData) Validate() error {
	if d.CompletionReason == "" {
		return fmt.Errorf("events: SessionCompleted requires a non-empty completion_reason")
	}
	return nil
}

// DisplayPreferenceUpdatedData is the payload of a DisplayPreferenceUpdated
// event, written to the per-thread "display-prefs:<threadID>" stream.
type DisplayPreferenceUpdatedData struct {
	Instruction          string `json:"instruction"`
	MergedPreferences    string `json:"merged_preferences"`
	PreviousPreferences  string `json:"previous_preferences"`
}

// PositionUpdatedData is the payload of a PositionUpdated event, written to
// a subscriber's "subscriberPosition-<id>" stream by the event-log-backed
// position store.
type PositionUpdatedData struct {
	SubscriberID string `json:"subscriber_id"`
	Position     int64  `json:"position"`
}

// ToolRequestMeta is the metadata envelope attached to
// ToolExecutionRequested: tool_id is the model-issued call id, tool_index is
// this call's position within the LLM response's tool_calls list.
type ToolRequestMeta struct {
	ToolID    string `json:"tool_id"`
	ToolIndex int    `json:"tool_index"`
}

// ToolCompletionMeta is the metadata envelope attached to
// ToolExecutionCompleted and ToolExecutionFailed, correlating the result
// back to the model's tool call. The Open Question in the originating
// specification ("tool_call_id in some paths, tool_id in others") is
// resolved here: this package always uses tool_call_id.
type ToolCompletionMeta struct {
	ToolCallID string `json:"tool_call_id"`
}
