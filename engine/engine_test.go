package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zcox/eventagent/eventlog"
	"github.com/zcox/eventagent/model"
	"github.com/zcox/eventagent/projection"
	"github.com/zcox/eventagent/tools"
)

// scriptedModel returns one scripted model.Response (or error) per Call,
// advancing through its script in order.
type scriptedModel struct {
	name   string
	script []scriptedStep
	calls  int
}

type scriptedStep struct {
	resp model.Response
	err  error
}

func (m *scriptedModel) ModelName() string { return m.name }

func (m *scriptedModel) Call(_ context.Context, _ model.Request) (model.Response, error) {
	if m.calls >= len(m.script) {
		return model.Response{}, errors.New("scriptedModel: script exhausted")
	}
	step := m.script[m.calls]
	m.calls++
	if step.err != nil {
		return model.Response{}, step.err
	}
	return step.resp, nil
}

func (m *scriptedModel) CallStream(ctx context.Context, req model.Request) (model.Stream, error) {
	resp, err := m.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	return model.NewSyntheticStream(resp), nil
}

var _ model.Client = (*scriptedModel)(nil)

func newEngine(t *testing.T, m model.Client, reg *tools.Registry) (*Engine, eventlog.Client) {
	t.Helper()
	client := eventlog.NewInMemory()
	if reg == nil {
		reg = tools.NewRegistry()
	}
	e, err := New(Config{
		Category: "agent",
		Version:  "v0",
		Client:   client,
		Model:    m,
		Tools:    reg,
	})
	require.NoError(t, err)
	return e, client
}

func TestProcessThread_S1SimpleQA(t *testing.T) {
	m := &scriptedModel{name: "test-model", script: []scriptedStep{
		{resp: model.Response{Text: "4", ModelName: "test-model"}},
	}}
	e, client := newEngine(t, m, nil)

	threadID, err := e.StartSession(context.Background(), "What is 2+2? Answer with just the number.")
	require.NoError(t, err)
	stream := e.StreamName(threadID)

	state, err := e.ProcessThread(context.Background(), stream)
	require.NoError(t, err)

	evts, err := client.ReadStream(context.Background(), stream, 0, 100)
	require.NoError(t, err)
	require.Len(t, evts, 4)
	assert.Equal(t, "SessionStarted", evts[0].Type)
	assert.Equal(t, "UserMessageAdded", evts[1].Type)
	assert.Equal(t, "LLMCallStarted", evts[2].Type)
	assert.Equal(t, "LLMResponseReceived", evts[3].Type)

	assert.Equal(t, projection.StatusActive, state.Status)
	assert.Equal(t, 1, state.MessageCount)
	assert.Equal(t, 1, state.LLMCallCount)
	assert.Equal(t, 0, state.ToolCallCount)
	assert.Equal(t, 0, state.ErrorCount)
}

func TestProcessThread_S2ToolRoundTrip(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Tool{
		Name:        "add",
		Description: "adds two numbers",
		Function: func(_ context.Context, args map[string]any) (any, error) {
			a := args["a"].(float64)
			b := args["b"].(float64)
			return a + b, nil
		},
	}))

	m := &scriptedModel{name: "test-model", script: []scriptedStep{
		{resp: model.Response{ToolCalls: []model.ToolCall{{ID: "c1", Name: "add", Arguments: map[string]any{"a": 15.0, "b": 27.0}}}, ModelName: "test-model"}},
		{resp: model.Response{Text: "42", ModelName: "test-model"}},
	}}
	e, client := newEngine(t, m, reg)

	threadID, err := e.StartSession(context.Background(), "Use add to compute 15+27")
	require.NoError(t, err)
	stream := e.StreamName(threadID)

	state, err := e.ProcessThread(context.Background(), stream)
	require.NoError(t, err)

	evts, err := client.ReadStream(context.Background(), stream, 0, 100)
	require.NoError(t, err)
	types := make([]string, len(evts))
	for i, e := range evts {
		types[i] = e.Type
	}
	assert.Equal(t, []string{
		"SessionStarted", "UserMessageAdded", "LLMCallStarted", "LLMResponseReceived",
		"ToolExecutionRequested", "ToolExecutionStarted", "ToolExecutionCompleted",
		"LLMCallStarted", "LLMResponseReceived",
	}, types)

	assert.Equal(t, 2, state.LLMCallCount)
	assert.Equal(t, 1, state.ToolCallCount)
}

func TestProcessThread_S3ToolFailureTerminates(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Tool{
		Name:        "divide",
		Description: "divides two numbers",
		Function: func(_ context.Context, args map[string]any) (any, error) {
			b := args["b"].(float64)
			if b == 0 {
				return nil, errors.New("Division by zero")
			}
			return args["a"].(float64) / b, nil
		},
	}))

	m := &scriptedModel{name: "test-model", script: []scriptedStep{
		{resp: model.Response{ToolCalls: []model.ToolCall{{ID: "c1", Name: "divide", Arguments: map[string]any{"a": 1.0, "b": 0.0}}}, ModelName: "test-model"}},
	}}
	e, client := newEngine(t, m, reg)

	threadID, err := e.StartSession(context.Background(), "divide 1 by 0")
	require.NoError(t, err)
	stream := e.StreamName(threadID)

	_, err = e.ProcessThread(context.Background(), stream)
	require.NoError(t, err)

	evts, err := client.ReadStream(context.Background(), stream, 0, 100)
	require.NoError(t, err)
	last := evts[len(evts)-1]
	assert.Equal(t, "ToolExecutionFailed", last.Type)

	verdict, err := projection.NextStep(evts)
	require.NoError(t, err)
	assert.Equal(t, projection.StepTerminate, verdict.Step)
	assert.Contains(t, verdict.Reason, "divide")
}

func TestProcessThread_B2SingleIterationBudget(t *testing.T) {
	m := &scriptedModel{name: "test-model", script: []scriptedStep{
		{resp: model.Response{ToolCalls: []model.ToolCall{{ID: "c1", Name: "add", Arguments: map[string]any{}}}, ModelName: "test-model"}},
	}}
	client := eventlog.NewInMemory()
	e, err := New(Config{Category: "agent", Version: "v0", Client: client, Model: m, MaxIterations: 1})
	require.NoError(t, err)

	threadID, err := e.StartSession(context.Background(), "hi")
	require.NoError(t, err)
	stream := e.StreamName(threadID)

	_, err = e.ProcessThread(context.Background(), stream)
	var budgetErr *MaxIterationsExceeded
	require.ErrorAs(t, err, &budgetErr)

	evts, err := client.ReadStream(context.Background(), stream, 0, 100)
	require.NoError(t, err)
	require.Len(t, evts, 4) // SessionStarted, UserMessageAdded, LLMCallStarted, LLMResponseReceived
	assert.Equal(t, "LLMCallStarted", evts[2].Type)
	assert.Equal(t, "LLMResponseReceived", evts[3].Type)
}

func TestProcessThread_R2RerunOnCompletedIsNoOp(t *testing.T) {
	m := &scriptedModel{name: "test-model"}
	e, client := newEngine(t, m, nil)

	threadID, err := e.StartSession(context.Background(), "hi")
	require.NoError(t, err)
	stream := e.StreamName(threadID)

	require.NoError(t, e.TerminateSession(context.Background(), stream, "success"))

	before, err := client.ReadStream(context.Background(), stream, 0, 100)
	require.NoError(t, err)

	state, err := e.ProcessThread(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, projection.StatusCompleted, state.Status)

	after, err := client.ReadStream(context.Background(), stream, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
	assert.Equal(t, 0, m.calls)
}

func TestProcessThread_LLMFailureAfterRetriesRecordedAndTerminates(t *testing.T) {
	m := &scriptedModel{name: "test-model", script: []scriptedStep{
		{err: errors.New("transport error")},
		{err: errors.New("transport error")},
		{err: errors.New("transport error")},
	}}
	client := eventlog.NewInMemory()
	e, err := New(Config{Category: "agent", Version: "v0", Client: client, Model: m})
	require.NoError(t, err)

	threadID, err := e.StartSession(context.Background(), "hi")
	require.NoError(t, err)
	stream := e.StreamName(threadID)

	state, err := e.ProcessThread(context.Background(), stream)
	require.NoError(t, err)
	// No SessionCompleted event is written on an LLM failure (only the
	// engine's caller decides whether/how to record that), so session_state
	// still reports Active even though the stream ends on a failure.
	assert.Equal(t, projection.StatusActive, state.Status)
	assert.Equal(t, 1, state.ErrorCount)
	assert.Equal(t, 3, m.calls) // initial + 2 retries

	evts, err := client.ReadStream(context.Background(), stream, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "LLMCallFailed", evts[len(evts)-1].Type)
}

func TestStartSession_RejectsBlankMessage(t *testing.T) {
	m := &scriptedModel{name: "test-model"}
	e, _ := newEngine(t, m, nil)
	_, err := e.StartSession(context.Background(), "   ")
	assert.Error(t, err)
}
