package openai

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zcox/eventagent/model"
)

type fakeChatClient struct {
	resp *openai.ChatCompletion
	err  error
	got  openai.ChatCompletionNewParams
}

func (f *fakeChatClient) New(_ context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.got = params
	return f.resp, f.err
}

func TestCall_TranslatesTextResponse(t *testing.T) {
	fake := &fakeChatClient{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: "hello there"},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	c, err := New(fake, "gpt-5")
	require.NoError(t, err)

	resp, err := c.Call(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, "gpt-5", resp.ModelName)
	assert.Equal(t, model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, resp.TokenUsage)
}

func TestCall_NoChoicesIsResponseError(t *testing.T) {
	fake := &fakeChatClient{resp: &openai.ChatCompletion{}}
	c, err := New(fake, "gpt-5")
	require.NoError(t, err)

	_, err = c.Call(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}},
	})
	var respErr *model.ResponseError
	assert.ErrorAs(t, err, &respErr)
}

func TestPrepareRequest_AssistantToolCallRoundTrips(t *testing.T) {
	c, err := New(&fakeChatClient{}, "gpt-5")
	require.NoError(t, err)

	params, err := c.prepareRequest(model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Text: "what's 2+2"},
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "call-1", Name: "add", Arguments: map[string]any{"a": 2.0, "b": 2.0}}}},
			{Role: model.RoleTool, Text: "4", ToolCallID: "call-1"},
		},
	})
	require.NoError(t, err)
	require.Len(t, params.Messages, 3)
}
