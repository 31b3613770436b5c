package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"megagym/internal/domain"
	"megagym/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.Default()
}

func TestOpenAIProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth: %s", r.Header.Get("Authorization"))
		}

		resp := openaiResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o-mini",
			Choices: []openaiChoice{
				{
					Index: 0,
					Message: openaiMessage{
						Role:    "assistant",
						Content: "¡Hola! Soy Sofía de MegaGym.",
					},
					FinishReason: "stop",
				},
			},
			Usage: openaiUsage{
				PromptTokens:     10,
				CompletionTokens: 8,
				TotalTokens:      18,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(config.ProviderConfig{
		Name:    "test",
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	}, newTestLogger())

	req := domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "Hola"},
		},
	}

	resp, err := provider.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != "¡Hola! Soy Sofía de MegaGym." {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 18 {
		t.Errorf("TotalTokens = %d, want 18", resp.Usage.TotalTokens)
	}
}

func TestOpenAIProviderChatWithToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openaiResponse{
			ID:    "chatcmpl-456",
			Model: "gpt-4o-mini",
			Choices: []openaiChoice{
				{
					Index: 0,
					Message: openaiMessage{
						Role: "assistant",
						ToolCalls: []openaiToolCall{
							{
								ID:   "call_1",
								Type: "function",
								Function: openaiToolCallFunction{
									Name:      "check_member_status",
									Arguments: `{"phone":"51999999999"}`,
								},
							},
						},
					},
					FinishReason: "tool_calls",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(config.ProviderConfig{
		Name:    "test",
		BaseURL: server.URL,
		Model:   "gpt-4o-mini",
	}, newTestLogger())

	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "¿Está activa mi membresía?"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "check_member_status" {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestOpenAIProviderSendsToolChoice(t *testing.T) {
	var captured openaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured = openaiRequest{}
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "ok"}}},
		})
	}))
	defer server.Close()

	provider := NewOpenAIProvider(config.ProviderConfig{
		Name: "test", BaseURL: server.URL, Model: "gpt-4o-mini",
	}, newTestLogger())

	schema := json.RawMessage(`{"type":"object","properties":{}}`)

	// First round: tools + auto choice.
	_, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages:   []domain.Message{{Role: domain.RoleUser, Content: "hola"}},
		Tools:      []domain.ToolSchema{{Name: "get_membership_plans", Parameters: schema}},
		ToolChoice: domain.ToolChoiceAuto,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if captured.ToolChoice != "auto" {
		t.Errorf("tool_choice = %q, want auto", captured.ToolChoice)
	}
	if len(captured.Tools) != 1 {
		t.Errorf("tools = %d, want 1", len(captured.Tools))
	}

	// Second round: no tools, so no tool_choice on the wire.
	_, err = provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hola"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if captured.ToolChoice != "" {
		t.Errorf("tool_choice = %q, want empty", captured.ToolChoice)
	}
	if len(captured.Tools) != 0 {
		t.Errorf("tools = %d, want 0", len(captured.Tools))
	}
}

func TestOpenAIRequestToolResultMapping(t *testing.T) {
	req := domain.ChatRequest{
		Messages: []domain.Message{
			{
				Role: domain.RoleAssistant,
				ToolCalls: []domain.ToolCall{
					{ID: "call_1", Name: "book_class", Arguments: json.RawMessage(`{}`)},
				},
			},
			{
				Role:    domain.RoleTool,
				Name:    "book_class",
				Content: `{"booked":true}`,
				ToolCalls: []domain.ToolCall{
					{ID: "call_1", Name: "book_class"},
				},
			},
		},
	}

	oaiReq := toOpenAIRequest(req)

	asst := oaiReq.Messages[0]
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant message tool calls = %+v", asst.ToolCalls)
	}
	if asst.ToolCallID != "" {
		t.Errorf("assistant message should not carry tool_call_id")
	}

	toolMsg := oaiReq.Messages[1]
	if toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message tool_call_id = %q, want call_1", toolMsg.ToolCallID)
	}
	if len(toolMsg.ToolCalls) != 0 {
		t.Errorf("tool message should not serialize tool_calls, got %+v", toolMsg.ToolCalls)
	}
}

func TestOpenAIProviderErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"rate limit", http.StatusTooManyRequests, domain.ErrRateLimit},
		{"unauthorized", http.StatusUnauthorized, domain.ErrAuthInvalid},
		{"forbidden", http.StatusForbidden, domain.ErrAuthInvalid},
		{"too large", http.StatusRequestEntityTooLarge, domain.ErrContextOverflow},
		{"server error", http.StatusBadGateway, domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			provider := NewOpenAIProvider(config.ProviderConfig{
				Name: "test", BaseURL: server.URL, Model: "gpt-4o-mini",
			}, newTestLogger())

			_, err := provider.Chat(context.Background(), domain.ChatRequest{
				Messages: []domain.Message{{Role: domain.RoleUser, Content: "hola"}},
			})
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("err = %v, want %v", err, tt.sentinel)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	p := NewOpenAIProvider(config.ProviderConfig{Name: "openai"}, newTestLogger())

	if err := reg.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(p); err == nil {
		t.Error("duplicate Register should fail")
	}

	got, err := reg.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "openai" {
		t.Errorf("Name = %q", got.Name())
	}

	if _, err := reg.Get("missing"); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("Get missing = %v, want ErrProviderNotFound", err)
	}
}
