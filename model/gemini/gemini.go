// Package gemini adapts google.golang.org/genai's GenerateContent API to
// the model.Client contract.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/zcox/eventagent/model"
)

func init() {
	model.RegisterAdapter("gemini", func(modelName string) (model.Client, error) {
		return NewFromEnv(context.Background(), modelName)
	})
}

// ContentGenerator is the subset of the genai SDK used here, satisfied by
// client.Models in production and a fake in tests.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements model.Client on top of Gemini's GenerateContent.
type Client struct {
	models    ContentGenerator
	modelName string
}

// New builds a Gemini-backed model client.
func New(models ContentGenerator, modelName string) (*Client, error) {
	if models == nil {
		return nil, errors.New("gemini: models client is required")
	}
	if modelName == "" {
		return nil, errors.New("gemini: model name is required")
	}
	return &Client{models: models, modelName: modelName}, nil
}

// NewFromEnv constructs a client reading GEMINI_API_KEY/GOOGLE_API_KEY from
// the environment via the SDK's default credential sourcing.
func NewFromEnv(ctx context.Context, modelName string) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return New(gc.Models, modelName)
}

func (c *Client) ModelName() string { return c.modelName }

func (c *Client) Call(ctx context.Context, req model.Request) (model.Response, error) {
	contents, err := prepareContents(req)
	if err != nil {
		return model.Response{}, err
	}
	config, err := prepareConfig(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.models.GenerateContent(ctx, c.modelName, contents, config)
	if err != nil {
		return model.Response{}, &model.TransportError{Provider: "gemini", Err: err}
	}
	return translateResponse(resp, c.modelName)
}

func (c *Client) CallStream(ctx context.Context, req model.Request) (model.Stream, error) {
	// GenerateContentStream returns an iter.Seq2 of incremental chunks;
	// wiring that into model.StreamDelta needs the same chunk-to-delta
	// bookkeeping the non-streaming path already does in translateResponse.
	// Until that's built, synthesize from one Call.
	resp, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	return model.NewSyntheticStream(resp), nil
}

func prepareContents(req model.Request) ([]*genai.Content, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("gemini: at least one message is required")
	}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Text}},
			})
		case model.RoleAssistant:
			parts := make([]*genai.Part, 0, 1+len(m.ToolCalls))
			if m.Text != "" {
				parts = append(parts, &genai.Part{Text: m.Text})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments},
				})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case model.RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Text), &response); err != nil {
				response = map[string]any{"output": m.Text}
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{ID: m.ToolCallID, Name: m.ToolName, Response: response},
				}},
			})
		default:
			return nil, fmt.Errorf("gemini: unsupported message role %q", m.Role)
		}
	}
	return contents, nil
}

func prepareConfig(req model.Request) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if len(req.Tools) == 0 {
		return config, nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, decl := range req.Tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 decl.Name,
			Description:          decl.Description,
			ParametersJsonSchema: decl.Parameters,
		})
	}
	config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	return config, nil
}

func translateResponse(resp *genai.GenerateContentResponse, modelName string) (model.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.Response{}, &model.ResponseError{Provider: "gemini", Err: errors.New("no candidates in response")}
	}

	var out model.Response
	out.ModelName = modelName
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.Text != "" && !part.Thought:
			out.Text += part.Text
		case part.FunctionCall != nil:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return model.Response{}, &model.ResponseError{Provider: "gemini", Err: errors.New("response has neither text nor tool calls")}
	}

	if resp.UsageMetadata != nil {
		out.TokenUsage = model.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

var _ model.Client = (*Client)(nil)
