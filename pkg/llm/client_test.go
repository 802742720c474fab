package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jg-phare/gshell/pkg/types"
)

func TestClient(t *testing.T) {
	t.Run("generate returns text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1beta/models/gemini-2.5-flash:generateContent" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			json.NewEncoder(w).Encode(GenerateResponse{
				Candidates: []Candidate{{
					Content:      Content{Role: "model", Parts: []Part{{Text: "hello there"}}},
					FinishReason: "STOP",
				}},
				UsageMetadata: &UsageMetadata{TotalTokenCount: 12},
			})
		}))
		defer srv.Close()

		client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "gemini-2.5-flash"})
		res, err := client.Generate(context.Background(), "", []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil, "")
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if res.Text != "hello there" {
			t.Errorf("Text = %q", res.Text)
		}
		if res.Usage.TotalTokenCount != 12 {
			t.Errorf("Usage = %+v", res.Usage)
		}
	})

	t.Run("generate returns tool calls", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(GenerateResponse{
				Candidates: []Candidate{{
					Content: Content{Role: "model", Parts: []Part{{
						FunctionCall: &FunctionCall{Name: "read_file", Args: map[string]any{"file_path": "a.txt"}},
					}}},
				}},
			})
		}))
		defer srv.Close()

		client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", Model: "gemini-2.5-flash"})
		res, err := client.Generate(context.Background(), "", []types.Message{{Role: types.RoleUser, Content: "read a.txt"}}, nil, "")
		if err != nil {
			t.Fatalf("Generate error: %v", err)
		}
		if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != "read_file" {
			t.Fatalf("ToolCalls = %+v", res.ToolCalls)
		}
	})

	t.Run("throttled error classified", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(GenerateResponse{
				Error: &APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "slow down"},
			})
		}))
		defer srv.Close()

		client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", Model: "gemini-2.5-flash"})
		_, err := client.Generate(context.Background(), "", []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil, "")

		var te *types.Error
		if !errors.As(err, &te) || te.Kind != types.KindThrottled {
			t.Fatalf("expected Throttled, got %v", err)
		}
	})

	t.Run("structured call decodes json response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(GenerateResponse{
				Candidates: []Candidate{{Content: Content{Parts: []Part{{Text: `{"requires_tool_call":false,"reasoning":"chat"}`}}}}},
			})
		}))
		defer srv.Close()

		client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", Model: "gemini-2.5-flash"})
		var decision types.ToolDecision
		err := client.GenerateStructured(context.Background(), "classify", "hi", map[string]any{"type": "object"}, 0, &decision)
		if err != nil {
			t.Fatalf("GenerateStructured error: %v", err)
		}
		if decision.RequiresToolCall {
			t.Error("expected RequiresToolCall=false")
		}
	})
}
