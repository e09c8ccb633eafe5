package projection

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zcox/eventagent/events"
	"github.com/zcox/eventagent/eventlog"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func evt(t *testing.T, typ events.Type, pos int64, data any) eventlog.Event {
	t.Helper()
	return eventlog.Event{
		StreamName:     "agent:v0-thread1",
		Type:           string(typ),
		StreamPosition: pos,
		GlobalPosition: pos,
		Time:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(pos) * time.Second),
		Data:           mustJSON(t, data),
	}
}

func TestConversationContext_MapsThreeTypesOnly(t *testing.T) {
	t.Parallel()

	events_ := []eventlog.Event{
		evt(t, events.UserMessageAdded, 0, events.UserMessageAddedData{Message: "hi"}),
		evt(t, events.LLMResponseReceived, 1, events.LLMResponseReceivedData{ResponseText: "hello", ModelName: "m"}),
		evt(t, events.ToolExecutionCompleted, 2, events.ToolExecutionCompletedData{ToolName: "add", Result: float64(42)}),
	}

	messages, err := ConversationContext(events_)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, "hi", messages[0].Text)
	assert.Equal(t, RoleAssistant, messages[1].Role)
	assert.Equal(t, "hello", messages[1].Text)
	assert.Equal(t, RoleTool, messages[2].Role)
	assert.Equal(t, "add", messages[2].ToolName)
}

// P4: inserting any number of SessionStarted / SessionCompleted /
// LLMCallStarted / ToolExecutionRequested / ToolExecutionStarted events
// leaves conversation_context unchanged.
func TestConversationContext_IgnoresNonConsumedTypes(t *testing.T) {
	t.Parallel()

	base := []eventlog.Event{
		evt(t, events.UserMessageAdded, 0, events.UserMessageAddedData{Message: "hi"}),
	}
	withNoise := []eventlog.Event{
		evt(t, events.SessionStarted, 0, events.SessionStartedData{ThreadID: "thread1"}),
		evt(t, events.UserMessageAdded, 1, events.UserMessageAddedData{Message: "hi"}),
		evt(t, events.LLMCallStarted, 2, events.LLMCallStartedData{}),
		evt(t, events.ToolExecutionRequested, 3, events.ToolExecutionRequestedData{ToolName: "x"}),
		evt(t, events.ToolExecutionStarted, 4, events.ToolExecutionStartedData{ToolName: "x"}),
		evt(t, events.SessionCompleted, 5, events.SessionCompletedData{CompletionReason: "success"}),
	}

	baseResult, err := ConversationContext(base)
	require.NoError(t, err)
	noisyResult, err := ConversationContext(withNoise)
	require.NoError(t, err)
	assert.Equal(t, baseResult, noisyResult)
}

// P2: projection purity, calling twice yields the same result.
func TestConversationContext_IsPure(t *testing.T) {
	t.Parallel()

	events_ := []eventlog.Event{
		evt(t, events.UserMessageAdded, 0, events.UserMessageAddedData{Message: "hi"}),
	}
	first, err := ConversationContext(events_)
	require.NoError(t, err)
	second, err := ConversationContext(events_)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNextStep_LastEventRuleTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		last     eventlog.Event
		wantStep StepType
		wantReasonPrefix string
	}{
		{"user message", evt(t, events.UserMessageAdded, 0, events.UserMessageAddedData{Message: "hi"}), StepCallModel, "user_message_added"},
		{"llm with tools", evt(t, events.LLMResponseReceived, 0, events.LLMResponseReceivedData{ModelName: "m", ToolCalls: []events.ToolCallPayload{{ID: "c1", Name: "add"}}}), StepExecuteTools, "llm_requested_tools"},
		{"llm without tools", evt(t, events.LLMResponseReceived, 0, events.LLMResponseReceivedData{ModelName: "m", ResponseText: "hi"}), StepTerminate, "llm_response_complete"},
		{"llm failed", evt(t, events.LLMCallFailed, 0, events.LLMCallFailedData{ErrorMessage: "boom"}), StepTerminate, "llm_call_failed: boom"},
		{"tool completed", evt(t, events.ToolExecutionCompleted, 0, events.ToolExecutionCompletedData{ToolName: "add"}), StepCallModel, "tool_execution_completed"},
		{"tool failed", evt(t, events.ToolExecutionFailed, 0, events.ToolExecutionFailedData{ToolName: "divide", ErrorMessage: "ZeroDivisionError: Division by zero"}), StepTerminate, "tool_execution_failed: divide - ZeroDivisionError: Division by zero"},
		{"termination requested with reason", evt(t, events.SessionTerminationRequested, 0, events.SessionTerminationRequestedData{Reason: "done"}), StepTerminate, "done"},
		{"termination requested no reason", evt(t, events.SessionTerminationRequested, 0, events.SessionTerminationRequestedData{}), StepTerminate, "user_requested"},
		{"session completed", evt(t, events.SessionCompleted, 0, events.SessionCompletedData{CompletionReason: "success"}), StepTerminate, "success"},
		{"unknown event", evt(t, events.Type("SomeFutureEvent"), 0, map[string]any{}), StepCallModel, "unknown_event_type"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			verdict, err := NextStep([]eventlog.Event{c.last})
			require.NoError(t, err)
			assert.Equal(t, c.wantStep, verdict.Step)
			assert.Equal(t, c.wantReasonPrefix, verdict.Reason)
		})
	}
}

// P3: only the tail matters.
func TestNextStep_OnlyTailMatters(t *testing.T) {
	t.Parallel()

	tail := evt(t, events.ToolExecutionCompleted, 2, events.ToolExecutionCompletedData{ToolName: "add"})
	prefix := []eventlog.Event{
		evt(t, events.UserMessageAdded, 0, events.UserMessageAddedData{Message: "hi"}),
		evt(t, events.LLMResponseReceived, 1, events.LLMResponseReceivedData{ModelName: "m", ToolCalls: []events.ToolCallPayload{{ID: "c1", Name: "add"}}}),
		tail,
	}

	full, err := NextStep(prefix)
	require.NoError(t, err)
	tailOnly, err := NextStep([]eventlog.Event{tail})
	require.NoError(t, err)
	assert.Equal(t, full, tailOnly)
}

// B1: empty event list fails next_step and session_state.
func TestNextStep_EmptyFails(t *testing.T) {
	t.Parallel()
	_, err := NextStep(nil)
	assert.Error(t, err)
}

func TestSessionStateOf_EmptyFails(t *testing.T) {
	t.Parallel()
	_, err := SessionStateOf(nil)
	assert.Error(t, err)
}

func TestConversationContext_EmptyReturnsEmptyList(t *testing.T) {
	t.Parallel()
	messages, err := ConversationContext(nil)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSessionStateOf_S1Scenario(t *testing.T) {
	t.Parallel()

	events_ := []eventlog.Event{
		evt(t, events.UserMessageAdded, 0, events.UserMessageAddedData{Message: "What is 2+2? Answer with just the number."}),
		evt(t, events.LLMCallStarted, 1, events.LLMCallStartedData{MessageCount: 1}),
		evt(t, events.LLMResponseReceived, 2, events.LLMResponseReceivedData{ModelName: "m", ResponseText: "4"}),
	}

	state, err := SessionStateOf(events_)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, 1, state.MessageCount)
	assert.Equal(t, 1, state.LLMCallCount)
	assert.Equal(t, 0, state.ToolCallCount)
	assert.Equal(t, 0, state.ErrorCount)
}

func TestDisplayPrefs_DefaultsWhenAbsent(t *testing.T) {
	t.Parallel()
	prefs, err := DisplayPrefs(nil)
	require.NoError(t, err)
	assert.Equal(t, "default", prefs)
}

func TestDisplayPrefs_UsesMostRecent(t *testing.T) {
	t.Parallel()

	events_ := []eventlog.Event{
		evt(t, events.DisplayPreferenceUpdated, 0, events.DisplayPreferenceUpdatedData{MergedPreferences: "verbose"}),
		evt(t, events.DisplayPreferenceUpdated, 1, events.DisplayPreferenceUpdatedData{MergedPreferences: "terse"}),
	}
	prefs, err := DisplayPrefs(events_)
	require.NoError(t, err)
	assert.Equal(t, "terse", prefs)
}

func TestPendingToolCalls_UsesMostRecentResponse(t *testing.T) {
	t.Parallel()

	events_ := []eventlog.Event{
		evt(t, events.LLMResponseReceived, 0, events.LLMResponseReceivedData{ModelName: "m", ToolCalls: []events.ToolCallPayload{{ID: "c1", Name: "add"}}}),
		evt(t, events.ToolExecutionCompleted, 1, events.ToolExecutionCompletedData{ToolName: "add"}),
	}
	calls, err := PendingToolCalls(events_)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "add", calls[0].Name)
}

// Property-based tests for P2/P3/P4 (spec §8), in the teacher's
// gopter/prop style (see goadesign-goa-ai's runtime/registry
// *_property_test.go files).

// noiseKinds enumerates the five event types P4 says conversation_context
// must ignore.
var noiseKinds = []events.Type{
	events.SessionStarted,
	events.LLMCallStarted,
	events.ToolExecutionRequested,
	events.ToolExecutionStarted,
	events.SessionCompleted,
}

func mustMarshalNoErr(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func noiseEvent(kind events.Type, pos int64) eventlog.Event {
	var data any
	switch kind {
	case events.SessionStarted:
		data = events.SessionStartedData{ThreadID: "thread1"}
	case events.LLMCallStarted:
		data = events.LLMCallStartedData{MessageCount: int(pos)}
	case events.ToolExecutionRequested:
		data = events.ToolExecutionRequestedData{ToolName: fmt.Sprintf("tool-%d", pos)}
	case events.ToolExecutionStarted:
		data = events.ToolExecutionStartedData{ToolName: fmt.Sprintf("tool-%d", pos)}
	case events.SessionCompleted:
		data = events.SessionCompletedData{CompletionReason: "success"}
	default:
		panic(fmt.Sprintf("not a noise kind: %s", kind))
	}
	return eventlog.Event{
		StreamName:     "agent:v0-thread1",
		Type:           string(kind),
		StreamPosition: pos,
		GlobalPosition: pos,
		Time:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(pos) * time.Second),
		Data:           mustMarshalNoErr(data),
	}
}

// genNoiseIndices generates 8 indices into noiseKinds, the events P4
// says must not affect conversation_context.
func genNoiseIndices() gopter.Gen {
	return gen.SliceOfN(8, gen.IntRange(0, len(noiseKinds)-1)).Map(func(idxs []int) []int {
		return idxs
	})
}

// TestConversationContext_NoiseInsertionDoesNotChangeResultProperty checks
// P4: inserting any number of SessionStarted / LLMCallStarted /
// ToolExecutionRequested / ToolExecutionStarted / SessionCompleted events,
// anywhere, leaves conversation_context unchanged.
func TestConversationContext_NoiseInsertionDoesNotChangeResultProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	base := []eventlog.Event{
		evt(t, events.UserMessageAdded, 0, events.UserMessageAddedData{Message: "hi"}),
		evt(t, events.LLMResponseReceived, 1, events.LLMResponseReceivedData{ModelName: "m", ResponseText: "hello"}),
	}
	baseResult, err := ConversationContext(base)
	require.NoError(t, err)

	properties.Property("noise events never change conversation_context", prop.ForAll(
		func(noiseIdxs []int) bool {
			withNoise := make([]eventlog.Event, 0, len(base)+len(noiseIdxs))
			pos := int64(0)
			emit := func(e eventlog.Event) {
				e.StreamPosition = pos
				e.GlobalPosition = pos
				withNoise = append(withNoise, e)
				pos++
			}
			// Interleave: one noise event, then one base event, repeating;
			// any leftover noise goes at the end.
			for i, e := range base {
				if i < len(noiseIdxs) {
					emit(noiseEvent(noiseKinds[noiseIdxs[i]], pos))
				}
				emit(e)
			}
			for i := len(base); i < len(noiseIdxs); i++ {
				emit(noiseEvent(noiseKinds[noiseIdxs[i]], pos))
			}

			result, err := ConversationContext(withNoise)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(baseResult, result)
		},
		genNoiseIndices(),
	))

	properties.TestingRun(t)
}

// TestConversationContext_IsPureProperty checks P2: projection purity —
// calling ConversationContext twice on the same events yields the same
// result.
func TestConversationContext_IsPureProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ConversationContext is pure", prop.ForAll(
		func(noiseIdxs []int) bool {
			var seq []eventlog.Event
			for i, idx := range noiseIdxs {
				seq = append(seq, noiseEvent(noiseKinds[idx], int64(i)))
			}
			seq = append(seq, evt(t, events.UserMessageAdded, int64(len(seq)), events.UserMessageAddedData{Message: "hi"}))

			first, err := ConversationContext(seq)
			if err != nil {
				return false
			}
			second, err := ConversationContext(seq)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(first, second)
		},
		genNoiseIndices(),
	))

	properties.TestingRun(t)
}

// genLastEventCase picks one of the NextStep rule-table's (event, verdict)
// pairs by index, mirroring TestNextStep_LastEventRuleTable's cases but as
// a gopter generator so TestNextStep_OnlyTailMattersProperty can draw from
// it directly.
func genLastEventCase() gopter.Gen {
	return gen.IntRange(0, 4).Map(func(choice int) eventlog.Event {
		switch choice {
		case 0:
			return eventFor(0, events.UserMessageAdded, events.UserMessageAddedData{Message: "hi"})
		case 1:
			return eventFor(0, events.LLMResponseReceived, events.LLMResponseReceivedData{ModelName: "m", ToolCalls: []events.ToolCallPayload{{ID: "c1", Name: "add"}}})
		case 2:
			return eventFor(0, events.LLMResponseReceived, events.LLMResponseReceivedData{ModelName: "m", ResponseText: "hi"})
		case 3:
			return eventFor(0, events.ToolExecutionCompleted, events.ToolExecutionCompletedData{ToolName: "add"})
		default:
			return eventFor(0, events.SessionCompleted, events.SessionCompletedData{CompletionReason: "success"})
		}
	})
}

func eventFor(pos int64, typ events.Type, data any) eventlog.Event {
	return eventlog.Event{
		StreamName:     "agent:v0-thread1",
		Type:           string(typ),
		StreamPosition: pos,
		GlobalPosition: pos,
		Time:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Data:           mustMarshalNoErr(data),
	}
}

// TestNextStep_OnlyTailMattersProperty checks P3: next_step(events) ==
// next_step([..., events[-1]]) given a matching prefix — for any random
// noise prefix and any of the rule-table's terminal events.
func TestNextStep_OnlyTailMattersProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("only the last event determines next_step", prop.ForAll(
		func(noiseIdxs []int, last eventlog.Event) bool {
			full := make([]eventlog.Event, 0, len(noiseIdxs)+1)
			for i, idx := range noiseIdxs {
				full = append(full, noiseEvent(noiseKinds[idx], int64(i)))
			}
			last.StreamPosition = int64(len(full))
			last.GlobalPosition = int64(len(full))
			full = append(full, last)

			fullVerdict, err := NextStep(full)
			if err != nil {
				return false
			}
			tailVerdict, err := NextStep([]eventlog.Event{last})
			if err != nil {
				return false
			}
			return reflect.DeepEqual(fullVerdict, tailVerdict)
		},
		genNoiseIndices(),
		genLastEventCase(),
	))

	properties.TestingRun(t)
}
