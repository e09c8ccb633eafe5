// Package openai adapts github.com/openai/openai-go's Chat Completions
// API to the model.Client contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	eventmodel "github.com/zcox/eventagent/model"
)

func init() {
	eventmodel.RegisterAdapter("openai", func(modelName string) (eventmodel.Client, error) {
		return NewFromEnv(modelName)
	})
}

// ChatClient is the subset of the OpenAI SDK used here, satisfied by
// client.Chat.Completions in production and a fake in tests.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client implements model.Client on top of OpenAI Chat Completions.
type Client struct {
	chat      ChatClient
	modelName string
}

// New builds an OpenAI-backed model client.
func New(chat ChatClient, modelName string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if modelName == "" {
		return nil, errors.New("openai: model name is required")
	}
	return &Client{chat: chat, modelName: modelName}, nil
}

// NewFromEnv constructs a client reading OPENAI_API_KEY from the
// environment via the SDK's default option sourcing.
func NewFromEnv(modelName string) (*Client, error) {
	c := openai.NewClient()
	return New(&c.Chat.Completions, modelName)
}

func (c *Client) ModelName() string { return c.modelName }

func (c *Client) Call(ctx context.Context, req eventmodel.Request) (eventmodel.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return eventmodel.Response{}, err
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return eventmodel.Response{}, &eventmodel.TransportError{Provider: "openai", Err: err}
	}
	return translateCompletion(resp, c.modelName)
}

func (c *Client) CallStream(ctx context.Context, req eventmodel.Request) (eventmodel.Stream, error) {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	return eventmodel.NewSyntheticStream(resp), nil
}

func (c *Client) prepareRequest(req eventmodel.Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: at least one message is required")
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case eventmodel.RoleUser:
			messages = append(messages, openai.UserMessage(m.Text))
		case eventmodel.RoleAssistant:
			assistantMsg := openai.ChatCompletionAssistantMessageParam{}
			if m.Text != "" {
				assistantMsg.Content.OfString = openai.String(m.Text)
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: marshal tool call arguments: %w", err)
				}
				assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantMsg})
		case eventmodel.RoleTool:
			messages = append(messages, openai.ToolMessage(m.Text, m.ToolCallID))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.modelName),
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		toolParams := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, decl := range req.Tools {
			toolParams = append(toolParams, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        decl.Name,
					Description: openai.String(decl.Description),
					Parameters:  shared.FunctionParameters(decl.Parameters),
				},
			})
		}
		params.Tools = toolParams
	}
	return params, nil
}

func translateCompletion(resp *openai.ChatCompletion, modelName string) (eventmodel.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return eventmodel.Response{}, &eventmodel.ResponseError{Provider: "openai", Err: errors.New("no choices in response")}
	}
	choice := resp.Choices[0]

	var out eventmodel.Response
	out.ModelName = modelName
	out.Text = choice.Message.Content
	for _, call := range choice.Message.ToolCalls {
		var args map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return eventmodel.Response{}, &eventmodel.ResponseError{Provider: "openai", Err: err}
			}
		}
		out.ToolCalls = append(out.ToolCalls, eventmodel.ToolCall{ID: call.ID, Name: call.Function.Name, Arguments: args})
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return eventmodel.Response{}, &eventmodel.ResponseError{Provider: "openai", Err: errors.New("response has neither text nor tool calls")}
	}

	out.TokenUsage = eventmodel.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out, nil
}

var _ eventmodel.Client = (*Client)(nil)
