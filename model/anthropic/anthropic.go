// Package anthropic adapts github.com/anthropics/anthropic-sdk-go's
// Messages API to the model.Client contract.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/zcox/eventagent/model"
)

func init() {
	model.RegisterAdapter("anthropic", func(modelName string) (model.Client, error) {
		return NewFromEnv(modelName)
	})
}

// MessagesClient is the subset of the Anthropic SDK used here, satisfied
// by *sdk.MessageService in production and a fake in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements model.Client on top of Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	modelName string
	maxTokens int64
}

// New builds an Anthropic-backed model client.
func New(msg MessagesClient, modelName string, maxTokens int64) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if modelName == "" {
		return nil, errors.New("anthropic: model name is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, modelName: modelName, maxTokens: maxTokens}, nil
}

// NewFromEnv constructs a client using the default Anthropic HTTP client,
// reading ANTHROPIC_API_KEY from the environment via option.WithAPIKey's
// default sourcing.
func NewFromEnv(modelName string) (*Client, error) {
	c := sdk.NewClient()
	return New(&c.Messages, modelName, 4096)
}

func (c *Client) ModelName() string { return c.modelName }

func (c *Client) Call(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return model.Response{}, &model.TransportError{Provider: "anthropic", Err: err}
	}
	return translateMessage(msg, c.modelName)
}

func (c *Client) CallStream(ctx context.Context, req model.Request) (model.Stream, error) {
	// The SDK's streaming entry point (NewStreaming) returns an
	// ssestream.Stream; plumbing its event union into model.StreamDelta
	// requires the same SSE decoding machinery as the non-streaming path.
	// Until that adapter is wired, synthesize a stream from one Call so
	// call_stream remains usable end to end.
	resp, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	return model.NewSyntheticStream(resp), nil
}

func (c *Client) prepareRequest(req model.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: at least one message is required")
	}

	var conversation []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		case model.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		case model.RoleTool:
			content, err := toolResultContent(m)
			if err != nil {
				return sdk.MessageNewParams{}, err
			}
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, content, false)))
		default:
			return sdk.MessageNewParams{}, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.modelName),
		MaxTokens: c.maxTokens,
		Messages:  conversation,
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		toolParams := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, decl := range req.Tools {
			schema, err := encodeSchema(decl.Parameters)
			if err != nil {
				return sdk.MessageNewParams{}, fmt.Errorf("anthropic: tool %q schema: %w", decl.Name, err)
			}
			u := sdk.ToolUnionParamOfTool(schema, decl.Name)
			if u.OfTool != nil {
				u.OfTool.Description = sdk.String(decl.Description)
			}
			toolParams = append(toolParams, u)
		}
		params.Tools = toolParams
	}
	return params, nil
}

func toolResultContent(m model.Message) (string, error) {
	return m.Text, nil
}

func encodeSchema(parameters map[string]any) (sdk.ToolInputSchemaParam, error) {
	if parameters == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	return sdk.ToolInputSchemaParam{ExtraFields: parameters}, nil
}

func translateMessage(msg *sdk.Message, modelName string) (model.Response, error) {
	if msg == nil {
		return model.Response{}, &model.ResponseError{Provider: "anthropic", Err: errors.New("nil response")}
	}

	var resp model.Response
	resp.ModelName = modelName
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return model.Response{}, &model.ResponseError{Provider: "anthropic", Err: err}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return model.Response{}, &model.ResponseError{Provider: "anthropic", Err: errors.New("response has neither text nor tool calls")}
	}

	u := msg.Usage
	resp.TokenUsage = model.TokenUsage{
		InputTokens:  int(u.InputTokens),
		OutputTokens: int(u.OutputTokens),
		TotalTokens:  int(u.InputTokens + u.OutputTokens),
	}
	return resp, nil
}

var _ model.Client = (*Client)(nil)
