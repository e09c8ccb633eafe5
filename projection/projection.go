// Package projection folds event lists into the derived views the rest of
// the runtime reasons about: conversation context for the model, the
// next-step verdict that drives the processing loop, aggregate session
// state, display preferences, and the pending tool calls of the most
// recent model response.
//
// Every function here is a pure fold: given the same events it returns the
// same result, it never reads the event log itself, and it never consults
// wall-clock time. Projections over an unrecognised event type ignore it
// rather than failing, so the catalogue can grow without breaking replay
// of older streams.
package projection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zcox/eventagent/events"
	"github.com/zcox/eventagent/eventlog"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-issued invocation request carried on an assistant
// Message.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is one turn of the projected conversation context.
type Message struct {
	Role Role

	// Text holds the message's text content. Empty for an assistant
	// message that only carries tool calls.
	Text string

	// ToolCalls is non-empty only for assistant messages requesting tool
	// invocations.
	ToolCalls []ToolCall

	// ToolCallID and ToolName identify which call a tool-role message
	// answers.
	ToolCallID string
	ToolName   string
}

// ConversationContext folds events into the ordered conversation the model
// sees. It consumes only UserMessageAdded, LLMResponseReceived, and
// ToolExecutionCompleted, and ignores every other event type (P4).
func ConversationContext(evts []eventlog.Event) ([]Message, error) {
	var messages []Message

	for _, evt := range evts {
		switch events.Type(evt.Type) {
		case events.UserMessageAdded:
			var data events.UserMessageAddedData
			if err := evt.UnmarshalData(&data); err != nil {
				return nil, fmt.Errorf("projection: decode UserMessageAdded: %w", err)
			}
			messages = append(messages, Message{Role: RoleUser, Text: data.Message})

		case events.LLMResponseReceived:
			var data events.LLMResponseReceivedData
			if err := evt.UnmarshalData(&data); err != nil {
				return nil, fmt.Errorf("projection: decode LLMResponseReceived: %w", err)
			}
			if data.ResponseText == "" && len(data.ToolCalls) == 0 {
				continue // skipped entirely: neither text nor tool calls present
			}
			msg := Message{Role: RoleAssistant, Text: data.ResponseText}
			for _, tc := range data.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
			}
			messages = append(messages, msg)

		case events.ToolExecutionCompleted:
			var data events.ToolExecutionCompletedData
			if err := evt.UnmarshalData(&data); err != nil {
				return nil, fmt.Errorf("projection: decode ToolExecutionCompleted: %w", err)
			}
			var meta events.ToolCompletionMeta
			_ = evt.UnmarshalMetadata(&meta)

			text, ok := data.Result.(string)
			if !ok {
				encoded, err := json.Marshal(data.Result)
				if err != nil {
					return nil, fmt.Errorf("projection: encode tool result: %w", err)
				}
				text = string(encoded)
			}

			toolCallID := meta.ToolCallID
			if toolCallID == "" {
				toolCallID = data.ToolName
			}
			messages = append(messages, Message{
				Role:       RoleTool,
				Text:       text,
				ToolCallID: toolCallID,
				ToolName:   data.ToolName,
			})

		default:
			// every other event type is ignored (P4)
		}
	}

	if messages == nil {
		messages = []Message{}
	}
	return messages, nil
}

// StepType tags the verdict a NextStep call returns.
type StepType string

const (
	StepCallModel     StepType = "call_model"
	StepExecuteTools  StepType = "execute_tools"
	StepTerminate     StepType = "terminate"
)

// NextStepVerdict is the tagged variant NextStep returns: exactly one of
// CallModel, ExecuteTools, or Terminate is populated, selected by Step.
type NextStepVerdict struct {
	Step   StepType
	Reason string

	// Calls is populated only when Step == StepExecuteTools.
	Calls []events.ToolCallPayload
}

// NextStep applies the last-event rule: only the most recent event's type
// and payload decide the verdict (P3). Empty input is an error (B1).
func NextStep(evts []eventlog.Event) (NextStepVerdict, error) {
	if len(evts) == 0 {
		return NextStepVerdict{}, fmt.Errorf("projection: next_step requires at least one event")
	}
	last := evts[len(evts)-1]

	switch events.Type(last.Type) {
	case events.UserMessageAdded:
		return NextStepVerdict{Step: StepCallModel, Reason: "user_message_added"}, nil

	case events.LLMResponseReceived:
		var data events.LLMResponseReceivedData
		if err := last.UnmarshalData(&data); err != nil {
			return NextStepVerdict{}, fmt.Errorf("projection: decode LLMResponseReceived: %w", err)
		}
		if len(data.ToolCalls) > 0 {
			return NextStepVerdict{Step: StepExecuteTools, Reason: "llm_requested_tools", Calls: data.ToolCalls}, nil
		}
		return NextStepVerdict{Step: StepTerminate, Reason: "llm_response_complete"}, nil

	case events.LLMCallFailed:
		var data events.LLMCallFailedData
		if err := last.UnmarshalData(&data); err != nil {
			return NextStepVerdict{}, fmt.Errorf("projection: decode LLMCallFailed: %w", err)
		}
		return NextStepVerdict{Step: StepTerminate, Reason: "llm_call_failed: " + data.ErrorMessage}, nil

	case events.ToolExecutionCompleted:
		return NextStepVerdict{Step: StepCallModel, Reason: "tool_execution_completed"}, nil

	case events.ToolExecutionFailed:
		var data events.ToolExecutionFailedData
		if err := last.UnmarshalData(&data); err != nil {
			return NextStepVerdict{}, fmt.Errorf("projection: decode ToolExecutionFailed: %w", err)
		}
		return NextStepVerdict{Step: StepTerminate, Reason: "tool_execution_failed: " + data.ToolName + " - " + data.ErrorMessage}, nil

	case events.SessionTerminationRequested:
		var data events.SessionTerminationRequestedData
		if err := last.UnmarshalData(&data); err != nil {
			return NextStepVerdict{}, fmt.Errorf("projection: decode SessionTerminationRequested: %w", err)
		}
		reason := data.Reason
		if reason == "" {
			reason = "user_requested"
		}
		return NextStepVerdict{Step: StepTerminate, Reason: reason}, nil

	case events.SessionCompleted:
		var data events.SessionCompletedData
		if err := last.UnmarshalData(&data); err != nil {
			return NextStepVerdict{}, fmt.Errorf("projection: decode SessionCompleted: %w", err)
		}
		return NextStepVerdict{Step: StepTerminate, Reason: data.CompletionReason}, nil

	default:
		return NextStepVerdict{Step: StepCallModel, Reason: "unknown_event_type"}, nil
	}
}

// Status is the coarse lifecycle state of a session.
type Status string

const (
	StatusActive     Status = "Active"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusTerminated Status = "Terminated"
)

// SessionState is the aggregate view of a session stream.
type SessionState struct {
	ThreadID         string
	Status           Status
	MessageCount     int
	ToolCallCount    int
	LLMCallCount     int
	ErrorCount       int
	SessionStartTime time.Time
	SessionEndTime   *time.Time
	LastActivityTime time.Time
}

// SessionStateOf folds events into the session's aggregate state. Empty
// input is an error (B1).
func SessionStateOf(evts []eventlog.Event) (SessionState, error) {
	if len(evts) == 0 {
		return SessionState{}, fmt.Errorf("projection: session_state requires at least one event")
	}

	category, _, entityID, err := eventlog.ParseStreamName(evts[0].StreamName)
	if err != nil {
		return SessionState{}, fmt.Errorf("projection: parse thread id from stream name: %w", err)
	}
	_ = category

	state := SessionState{
		ThreadID:         entityID,
		Status:           StatusActive,
		SessionStartTime: evts[0].Time,
		LastActivityTime: evts[len(evts)-1].Time,
	}

	var (
		terminationRequested bool
		sessionCompleted     bool
		completionReason     string
		completionTime       time.Time
	)

	for _, evt := range evts {
		switch events.Type(evt.Type) {
		case events.SessionStarted:
			state.SessionStartTime = evt.Time

		case events.UserMessageAdded:
			state.MessageCount++

		case events.LLMResponseReceived:
			state.LLMCallCount++

		case events.ToolExecutionCompleted:
			state.ToolCallCount++

		case events.LLMCallFailed, events.ToolExecutionFailed:
			state.ErrorCount++

		case events.SessionTerminationRequested:
			terminationRequested = true

		case events.SessionCompleted:
			var data events.SessionCompletedData
			if err := evt.UnmarshalData(&data); err != nil {
				return SessionState{}, fmt.Errorf("projection: decode SessionCompleted: %w", err)
			}
			sessionCompleted = true
			completionReason = data.CompletionReason
			completionTime = evt.Time
		}
	}

	switch {
	case sessionCompleted && (completionReason == "success" || completionReason == "completed"):
		state.Status = StatusCompleted
		end := completionTime
		state.SessionEndTime = &end
	case sessionCompleted:
		state.Status = StatusFailed
		end := completionTime
		state.SessionEndTime = &end
	case terminationRequested:
		state.Status = StatusTerminated
	default:
		state.Status = StatusActive
	}

	return state, nil
}

// DisplayPrefs returns the merged_preferences field of the most recent
// DisplayPreferenceUpdated event, or "default" if none is present.
func DisplayPrefs(evts []eventlog.Event) (string, error) {
	for i := len(evts) - 1; i >= 0; i-- {
		if events.Type(evts[i].Type) != events.DisplayPreferenceUpdated {
			continue
		}
		var data events.DisplayPreferenceUpdatedData
		if err := evts[i].UnmarshalData(&data); err != nil {
			return "", fmt.Errorf("projection: decode DisplayPreferenceUpdated: %w", err)
		}
		return data.MergedPreferences, nil
	}
	return "default", nil
}

// PendingToolCalls returns the tool_calls of the most recent
// LLMResponseReceived event, or an empty slice if none is present.
func PendingToolCalls(evts []eventlog.Event) ([]events.ToolCallPayload, error) {
	for i := len(evts) - 1; i >= 0; i-- {
		if events.Type(evts[i].Type) != events.LLMResponseReceived {
			continue
		}
		var data events.LLMResponseReceivedData
		if err := evts[i].UnmarshalData(&data); err != nil {
			return nil, fmt.Errorf("projection: decode LLMResponseReceived: %w", err)
		}
		if data.ToolCalls == nil {
			return []events.ToolCallPayload{}, nil
		}
		return data.ToolCalls, nil
	}
	return []events.ToolCallPayload{}, nil
}
