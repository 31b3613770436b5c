package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"megagym/internal/domain"
)

func newTestRouter(llm *fakeLLM, history *fakeHistory, channel *fakeChannel) *Router {
	agent := newTestAgent(llm, history, newFakeExecutor())
	return NewRouter(agent, history, channel, slog.Default())
}

func TestRouterHandle(t *testing.T) {
	llm := &fakeLLM{responses: []*domain.ChatResponse{textResponse("¡Hola! 😊")}}
	history := newFakeHistory()
	channel := &fakeChannel{}
	router := newTestRouter(llm, history, channel)

	err := router.Handle(context.Background(), domain.InboundMessage{
		ConversationID: "51999888777",
		Content:        "hola",
		ChannelName:    "whatsapp",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(channel.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(channel.sent))
	}
	out := channel.sent[0]
	if out.ConversationID != "51999888777" || out.Content != "¡Hola! 😊" || out.IsError {
		t.Errorf("outbound = %+v", out)
	}

	if len(history.appendLog) != 2 {
		t.Fatalf("persisted turns = %d, want 2", len(history.appendLog))
	}
	if history.appendLog[0].Direction != domain.DirectionInbound || history.appendLog[0].Content != "hola" {
		t.Errorf("inbound turn = %+v", history.appendLog[0])
	}
	if history.appendLog[1].Direction != domain.DirectionOutbound || history.appendLog[1].Content != "¡Hola! 😊" {
		t.Errorf("outbound turn = %+v", history.appendLog[1])
	}
}

func TestRouterHandleAgentFailure(t *testing.T) {
	llm := &fakeLLM{errs: []error{domain.ErrProviderError}}
	history := newFakeHistory()
	channel := &fakeChannel{}
	router := newTestRouter(llm, history, channel)

	err := router.Handle(context.Background(), domain.InboundMessage{
		ConversationID: "51999888777",
		Content:        "hola",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(channel.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(channel.sent))
	}
	out := channel.sent[0]
	if out.Content != fallbackReply {
		t.Errorf("fallback = %q, want %q", out.Content, fallbackReply)
	}
	if !out.IsError {
		t.Error("IsError = false, want true")
	}

	// The apology is persisted too, so the transcript stays complete.
	if len(history.appendLog) != 2 || history.appendLog[1].Content != fallbackReply {
		t.Errorf("persisted turns = %+v", history.appendLog)
	}
}

func TestRouterHandleEmptyReply(t *testing.T) {
	llm := &fakeLLM{responses: []*domain.ChatResponse{textResponse("")}}
	channel := &fakeChannel{}
	router := newTestRouter(llm, newFakeHistory(), channel)

	if err := router.Handle(context.Background(), domain.InboundMessage{ConversationID: "51999888777", Content: "hola"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if channel.sent[0].Content != fallbackReply {
		t.Errorf("empty reply not substituted: %q", channel.sent[0].Content)
	}
	if channel.sent[0].IsError {
		t.Error("empty reply should not be marked as error")
	}
}

func TestRouterHandlePersistFailureNonFatal(t *testing.T) {
	llm := &fakeLLM{responses: []*domain.ChatResponse{textResponse("¡Hola!")}}
	history := newFakeHistory()
	history.appendErr = fmt.Errorf("disk full")
	channel := &fakeChannel{}
	router := newTestRouter(llm, history, channel)

	if err := router.Handle(context.Background(), domain.InboundMessage{ConversationID: "51999888777", Content: "hola"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(channel.sent) != 1 || channel.sent[0].Content != "¡Hola!" {
		t.Errorf("reply not sent despite persist failure: %+v", channel.sent)
	}
}

func TestRouterHandleSendFailure(t *testing.T) {
	llm := &fakeLLM{responses: []*domain.ChatResponse{textResponse("¡Hola!")}}
	channel := &fakeChannel{sendErr: fmt.Errorf("graph API down")}
	router := newTestRouter(llm, newFakeHistory(), channel)

	err := router.Handle(context.Background(), domain.InboundMessage{ConversationID: "51999888777", Content: "hola"})
	if err == nil {
		t.Fatal("expected error when send fails")
	}
}

func TestRouterHandleLogsErrorCode(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	llm := &fakeLLM{errs: []error{domain.ErrRateLimit}}
	agent := newTestAgent(llm, newFakeHistory(), newFakeExecutor())
	router := NewRouter(agent, newFakeHistory(), &fakeChannel{}, log)

	if err := router.Handle(context.Background(), domain.InboundMessage{ConversationID: "51999888777", Content: "hola"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	logged := buf.String()
	if !strings.Contains(logged, "code=RATE_LIMIT") {
		t.Errorf("log missing error code: %s", logged)
	}
	if !strings.Contains(logged, "retryable=true") {
		t.Errorf("log missing retryable flag: %s", logged)
	}
}
