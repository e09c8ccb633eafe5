// Package bedrock adapts the AWS Bedrock Converse API
// (github.com/aws/aws-sdk-go-v2/service/bedrockruntime) to the model.Client
// contract.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/zcox/eventagent/model"
)

func init() {
	model.RegisterAdapter("bedrock", func(modelName string) (model.Client, error) {
		return NewFromEnv(context.Background(), modelName)
	})
}

// RuntimeClient is the subset of the Bedrock runtime SDK used here,
// satisfied by *bedrockruntime.Client in production and a fake in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime   RuntimeClient
	modelName string
}

// New builds a Bedrock-backed model client.
func New(runtime RuntimeClient, modelName string) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if modelName == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &Client{runtime: runtime, modelName: modelName}, nil
}

// NewFromEnv constructs a client using the default AWS credential chain.
func NewFromEnv(ctx context.Context, modelName string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}
	return New(bedrockruntime.NewFromConfig(cfg), modelName)
}

func (c *Client) ModelName() string { return c.modelName }

func (c *Client) Call(ctx context.Context, req model.Request) (model.Response, error) {
	messages, system, err := encodeMessages(req)
	if err != nil {
		return model.Response{}, err
	}
	toolConfig, err := encodeTools(req.Tools)
	if err != nil {
		return model.Response{}, err
	}
	out, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:    aws.String(c.modelName),
		Messages:   messages,
		System:     system,
		ToolConfig: toolConfig,
	})
	if err != nil {
		return model.Response{}, &model.TransportError{Provider: "bedrock", Err: err}
	}
	return translateOutput(out, c.modelName)
}

func (c *Client) CallStream(ctx context.Context, req model.Request) (model.Stream, error) {
	// ConverseStream's event union (ContentBlockDelta/Start/Stop,
	// MessageStop) needs the same translation ConverseOutput already gets
	// in translateOutput. Until that event loop is wired, synthesize from
	// one Call.
	resp, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	return model.NewSyntheticStream(resp), nil
}

func encodeMessages(req model.Request) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("bedrock: messages are required")
	}
	var system []brtypes.SystemContentBlock
	if req.SystemPrompt != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt})
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleUser:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
			})
		case model.RoleAssistant:
			content := make([]brtypes.ContentBlock, 0, 1+len(m.ToolCalls))
			if m.Text != "" {
				content = append(content, &brtypes.ContentBlockMemberText{Value: m.Text})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(tc.Arguments),
					},
				})
			}
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: content})
		case model.RoleTool:
			messages = append(messages, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(m.ToolCallID),
						Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Text}},
					},
				}},
			})
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
	}
	return messages, system, nil
}

func encodeTools(decls []model.ToolDeclaration) (*brtypes.ToolConfiguration, error) {
	if len(decls) == 0 {
		return nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(decls))
	for _, decl := range decls {
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(decl.Name),
				Description: aws.String(decl.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(decl.Parameters),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func translateOutput(out *bedrockruntime.ConverseOutput, modelName string) (model.Response, error) {
	if out == nil || out.Output == nil {
		return model.Response{}, &model.ResponseError{Provider: "bedrock", Err: errors.New("no output in response")}
	}
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return model.Response{}, &model.ResponseError{Provider: "bedrock", Err: errors.New("unexpected output variant")}
	}

	var resp model.Response
	resp.ModelName = modelName
	for _, block := range msgOutput.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			resp.Text += b.Value
		case *brtypes.ContentBlockMemberToolUse:
			var args map[string]any
			if b.Value.Input != nil {
				raw, err := b.Value.Input.MarshalSmithyDocument()
				if err != nil {
					return model.Response{}, &model.ResponseError{Provider: "bedrock", Err: err}
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return model.Response{}, &model.ResponseError{Provider: "bedrock", Err: err}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: args,
			})
		}
	}
	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return model.Response{}, &model.ResponseError{Provider: "bedrock", Err: errors.New("response has neither text nor tool calls")}
	}

	if out.Usage != nil {
		resp.TokenUsage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return resp, nil
}

var _ model.Client = (*Client)(nil)
