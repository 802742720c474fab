// Package llm is the Gemini-backed facade the dispatcher and decision
// engine call through: a structured, single-shot classification call and
// a conversational call that may return tool invocations.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jg-phare/gshell/pkg/types"
)

// ToolCall is one function-call part the model emitted.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Result is the outcome of a Generate call: plain text, zero or more
// tool calls (mutually exclusive with Text being the final answer), and
// token usage for cost/budget accounting.
type Result struct {
	Text      string
	ToolCalls []ToolCall
	Usage     UsageMetadata
}

// Client is the LLM facade. Implementations must be safe for concurrent
// use; the controller serializes calls per session regardless.
type Client interface {
	// GenerateStructured issues a single low-temperature call constrained
	// to return JSON matching schema, and decodes it into out.
	GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any, temperature float64, out any) error

	// Generate sends the conversation in messages (optionally offering
	// tools) and returns the model's reply.
	Generate(ctx context.Context, systemPrompt string, messages []types.Message, tools []FunctionDeclaration, model string) (Result, error)

	// Model returns the configured default model string.
	Model() string
}

type httpClient struct {
	config ClientConfig
}

// NewClient creates a Gemini-backed Client.
func NewClient(cfg ClientConfig) Client {
	return &httpClient{config: cfg}
}

func (c *httpClient) Model() string { return c.config.Model }

func (c *httpClient) GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any, temperature float64, out any) error {
	req := GenerateRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: userPrompt}}}},
		GenerationConfig: &GenerationConfig{
			Temperature:      &temperature,
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: systemPrompt}}}
	}

	resp, err := c.call(ctx, c.config.Model, req)
	if err != nil {
		return err
	}

	text := firstText(resp)
	if text == "" {
		return types.New(types.KindMalformedDecision, "model returned no text for structured call")
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return types.Wrap(types.KindMalformedDecision, "decode structured response", err)
	}
	return nil
}

func (c *httpClient) Generate(ctx context.Context, systemPrompt string, messages []types.Message, tools []FunctionDeclaration, model string) (Result, error) {
	if model == "" {
		model = c.config.Model
	}

	req := GenerateRequest{Contents: toContents(messages)}
	if systemPrompt != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: systemPrompt}}}
	}
	if len(tools) > 0 {
		req.Tools = []Tool{{FunctionDeclarations: tools}}
	}

	resp, err := c.call(ctx, model, req)
	if err != nil {
		return Result{}, err
	}

	result := Result{}
	if resp.UsageMetadata != nil {
		result.Usage = *resp.UsageMetadata
	}
	if len(resp.Candidates) == 0 {
		return result, types.New(types.KindTransient, "model returned no candidates")
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			result.ToolCalls = append(result.ToolCalls, ToolCall{Name: part.FunctionCall.Name, Args: part.FunctionCall.Args})
		case part.Text != "":
			result.Text += part.Text
		}
	}
	return result, nil
}

func (c *httpClient) call(ctx context.Context, model string, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.Wrap(types.KindBadRequest, "marshal request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.config.BaseURL, model, c.config.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.Wrap(types.KindTransient, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.config.httpClient().Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.Wrap(types.KindCancelled, "request cancelled", ctx.Err())
		}
		return nil, types.Wrap(types.KindTransient, "do request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Wrap(types.KindIOFailure, "read response body", err)
	}

	var out GenerateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, types.Wrap(types.KindTransient, "decode response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || out.Error != nil {
		if out.Error == nil {
			out.Error = &APIError{Code: resp.StatusCode, Message: string(data)}
		}
		return nil, asError(out.Error)
	}
	return &out, nil
}

func firstText(resp *GenerateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text
}

// toContents converts our Message sequence into Gemini's contents array.
// Gemini has no distinct system role at the content level (system text
// goes in SystemInstruction), so any Role=system message is skipped
// here. RoleTool results are sent as plain text parts of a "user" turn;
// no functionResponse part is produced.
func toContents(messages []types.Message) []Content {
	contents := make([]Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			continue
		case types.RoleAssistant:
			contents = append(contents, Content{Role: "model", Parts: []Part{{Text: m.Content}}})
		default:
			contents = append(contents, Content{Role: "user", Parts: []Part{{Text: m.Content}}})
		}
	}
	return contents
}
