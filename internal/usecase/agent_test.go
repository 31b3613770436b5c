package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"megagym/internal/domain"
	"megagym/internal/infra/config"
)

// --- fakes ---

type fakeLLM struct {
	responses []*domain.ChatResponse
	errs      []error
	requests  []domain.ChatRequest
}

func (f *fakeLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant}}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func textResponse(content string) *domain.ChatResponse {
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: content},
	}
}

func toolCallResponse(calls ...domain.ToolCall) *domain.ChatResponse {
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, ToolCalls: calls},
	}
}

type fakeHistory struct {
	turns     map[string][]domain.Turn
	lastLimit int
	loadErr   error
	appendErr error
	appendLog []domain.Turn
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{turns: make(map[string][]domain.Turn)}
}

func (f *fakeHistory) LoadRecent(_ context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	f.lastLimit = limit
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	turns := f.turns[conversationID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (f *fakeHistory) Append(_ context.Context, turn domain.Turn) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appendLog = append(f.appendLog, turn)
	f.turns[turn.ConversationID] = append(f.turns[turn.ConversationID], turn)
	return nil
}

type fakeTool struct {
	name   string
	result *domain.ToolResult
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return f.name }
func (f *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: f.name, Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (f *fakeTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	f.calls++
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeExecutor struct {
	tools map[string]domain.Tool
	order []string
}

func newFakeExecutor(tools ...*fakeTool) *fakeExecutor {
	f := &fakeExecutor{tools: make(map[string]domain.Tool)}
	for _, t := range tools {
		f.tools[t.name] = t
		f.order = append(f.order, t.name)
	}
	return f
}

func (f *fakeExecutor) Get(name string) (domain.Tool, error) {
	t, ok := f.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q: %w", name, domain.ErrToolNotFound)
	}
	return t, nil
}

func (f *fakeExecutor) Schemas() []domain.ToolSchema {
	schemas := make([]domain.ToolSchema, 0, len(f.order))
	for _, name := range f.order {
		schemas = append(schemas, f.tools[name].Schema())
	}
	return schemas
}

type fakeChannel struct {
	sent    []domain.OutboundMessage
	sendErr error
}

func (f *fakeChannel) Start(context.Context, domain.MessageHandler) error { return nil }
func (f *fakeChannel) Stop(context.Context) error                         { return nil }
func (f *fakeChannel) Name() string                                       { return "fake" }

func (f *fakeChannel) Send(_ context.Context, msg domain.OutboundMessage) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestAgent(llm *fakeLLM, history *fakeHistory, tools *fakeExecutor) *Agent {
	return NewAgent(AgentDeps{
		LLM:           llm,
		History:       history,
		Tools:         tools,
		Prompt:        NewPromptBuilder(config.Defaults().Gym),
		Logger:        slog.Default(),
		Model:         "gpt-4o-mini",
		MaxTokens:     500,
		Temperature:   0.7,
		HistoryWindow: 10,
	})
}

// --- tests ---

func TestProcessMessageNoToolCalls(t *testing.T) {
	llm := &fakeLLM{responses: []*domain.ChatResponse{
		textResponse("¡Hola! Soy Sofía de MegaGym 💪 ¿En qué te ayudo?"),
	}}
	agent := newTestAgent(llm, newFakeHistory(), newFakeExecutor(&fakeTool{name: "get_membership_plans"}))

	reply, err := agent.ProcessMessage(context.Background(), "51999888777", "hola")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if !strings.Contains(reply, "Sofía") {
		t.Errorf("reply = %q", reply)
	}
	if len(llm.requests) != 1 {
		t.Fatalf("llm requests = %d, want 1", len(llm.requests))
	}

	req := llm.requests[0]
	if req.ToolChoice != domain.ToolChoiceAuto {
		t.Errorf("ToolChoice = %q, want %q", req.ToolChoice, domain.ToolChoiceAuto)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "get_membership_plans" {
		t.Errorf("Tools = %+v", req.Tools)
	}
	if req.Messages[0].Role != domain.RoleSystem || !strings.Contains(req.Messages[0].Content, "51999888777") {
		t.Errorf("system message missing phone: %q", req.Messages[0].Content[:80])
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != domain.RoleUser || last.Content != "hola" {
		t.Errorf("last message = %+v", last)
	}
}

func TestProcessMessageHistoryWindow(t *testing.T) {
	history := newFakeHistory()
	for i := 0; i < 15; i++ {
		dir := domain.DirectionInbound
		if i%2 == 1 {
			dir = domain.DirectionOutbound
		}
		history.turns["51999888777"] = append(history.turns["51999888777"], domain.Turn{
			ConversationID: "51999888777",
			Content:        fmt.Sprintf("turn-%d", i),
			Direction:      dir,
		})
	}
	llm := &fakeLLM{responses: []*domain.ChatResponse{textResponse("ok")}}
	agent := newTestAgent(llm, history, newFakeExecutor())

	if _, err := agent.ProcessMessage(context.Background(), "51999888777", "nuevo mensaje"); err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if history.lastLimit != 10 {
		t.Errorf("LoadRecent limit = %d, want 10", history.lastLimit)
	}

	// system + 10 history turns + current message
	msgs := llm.requests[0].Messages
	if len(msgs) != 12 {
		t.Fatalf("messages = %d, want 12", len(msgs))
	}
	if msgs[1].Content != "turn-5" {
		t.Errorf("oldest kept turn = %q, want turn-5", msgs[1].Content)
	}
	if msgs[2].Role != domain.RoleUser || msgs[3].Role != domain.RoleAssistant {
		t.Errorf("direction mapping wrong: %s then %s", msgs[2].Role, msgs[3].Role)
	}
}

func TestProcessMessageToolRound(t *testing.T) {
	// The first tool is slow so out-of-order completion would be visible
	// if results were not placed back by emission index.
	slow := &fakeTool{
		name:   "check_member_status",
		delay:  50 * time.Millisecond,
		result: &domain.ToolResult{Content: `{"status":"not_found"}`},
	}
	fast := &fakeTool{
		name:   "get_membership_plans",
		result: &domain.ToolResult{Content: `[{"name":"Plan 1 Mes"}]`},
	}
	llm := &fakeLLM{responses: []*domain.ChatResponse{
		toolCallResponse(
			domain.ToolCall{ID: "call_1", Name: "check_member_status", Arguments: json.RawMessage(`{"phone":"51999888777"}`)},
			domain.ToolCall{ID: "call_2", Name: "get_membership_plans", Arguments: json.RawMessage(`{}`)},
		),
		textResponse("No estás registrado aún. Tenemos planes desde S/ 80 💪"),
	}}
	agent := newTestAgent(llm, newFakeHistory(), newFakeExecutor(slow, fast))

	reply, err := agent.ProcessMessage(context.Background(), "51999888777", "estoy inscrito? qué planes hay")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if !strings.Contains(reply, "S/ 80") {
		t.Errorf("reply = %q", reply)
	}
	if slow.calls != 1 || fast.calls != 1 {
		t.Errorf("tool calls = %d/%d, want 1/1", slow.calls, fast.calls)
	}
	if len(llm.requests) != 2 {
		t.Fatalf("llm requests = %d, want 2", len(llm.requests))
	}

	second := llm.requests[1]
	if len(second.Tools) != 0 || second.ToolChoice != "" {
		t.Errorf("second request carries tools: %+v choice=%q", second.Tools, second.ToolChoice)
	}

	msgs := second.Messages
	n := len(msgs)
	assistant, first, secondTool := msgs[n-3], msgs[n-2], msgs[n-1]
	if assistant.Role != domain.RoleAssistant || len(assistant.ToolCalls) != 2 {
		t.Fatalf("assistant message = %+v", assistant)
	}
	if first.Role != domain.RoleTool || first.ToolCalls[0].ID != "call_1" {
		t.Errorf("first tool message = %+v", first)
	}
	if first.Content != `{"status":"not_found"}` {
		t.Errorf("first tool content = %q", first.Content)
	}
	if secondTool.ToolCalls[0].ID != "call_2" || secondTool.Name != "get_membership_plans" {
		t.Errorf("second tool message = %+v", secondTool)
	}
}

func TestProcessMessageToolErrorContained(t *testing.T) {
	failing := &fakeTool{name: "book_class", err: fmt.Errorf("database unavailable")}
	working := &fakeTool{name: "get_available_classes", result: &domain.ToolResult{Content: `[]`}}
	llm := &fakeLLM{responses: []*domain.ChatResponse{
		toolCallResponse(
			domain.ToolCall{ID: "call_a", Name: "book_class", Arguments: json.RawMessage(`{}`)},
			domain.ToolCall{ID: "call_b", Name: "get_available_classes", Arguments: json.RawMessage(`{}`)},
		),
		textResponse("Hubo un problema reservando, pero estas son las clases."),
	}}
	agent := newTestAgent(llm, newFakeHistory(), newFakeExecutor(failing, working))

	_, err := agent.ProcessMessage(context.Background(), "51999888777", "resérvame")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if working.calls != 1 {
		t.Error("failure aborted the remaining tool call")
	}

	msgs := llm.requests[1].Messages
	failMsg := msgs[len(msgs)-2]
	var payload map[string]string
	if err := json.Unmarshal([]byte(failMsg.Content), &payload); err != nil {
		t.Fatalf("tool failure content is not JSON: %q", failMsg.Content)
	}
	if !strings.Contains(payload["error"], "database unavailable") {
		t.Errorf("error payload = %+v", payload)
	}
}

func TestProcessMessageErrorResultWrapped(t *testing.T) {
	guard := &fakeTool{
		name:   "generate_payment_link",
		result: &domain.ToolResult{Content: "Faltan datos obligatorios. Necesito: nombre completo, DNI y email del cliente.", IsError: true},
	}
	llm := &fakeLLM{responses: []*domain.ChatResponse{
		toolCallResponse(domain.ToolCall{ID: "call_1", Name: "generate_payment_link", Arguments: json.RawMessage(`{}`)}),
		textResponse("Primero necesito tu nombre completo 😊 ¿Cuál es?"),
	}}
	agent := newTestAgent(llm, newFakeHistory(), newFakeExecutor(guard))

	reply, err := agent.ProcessMessage(context.Background(), "51999888777", "quiero pagar")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if !strings.Contains(reply, "nombre completo") {
		t.Errorf("reply = %q", reply)
	}

	msgs := llm.requests[1].Messages
	toolMsg := msgs[len(msgs)-1]
	if !strings.Contains(toolMsg.Content, `"error"`) || !strings.Contains(toolMsg.Content, "Faltan datos obligatorios") {
		t.Errorf("guard result not wrapped: %q", toolMsg.Content)
	}
}

func TestProcessMessageUnknownTool(t *testing.T) {
	llm := &fakeLLM{responses: []*domain.ChatResponse{
		toolCallResponse(domain.ToolCall{ID: "call_1", Name: "nonexistent", Arguments: json.RawMessage(`{}`)}),
		textResponse("ok"),
	}}
	agent := newTestAgent(llm, newFakeHistory(), newFakeExecutor())

	if _, err := agent.ProcessMessage(context.Background(), "51999888777", "hola"); err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	msgs := llm.requests[1].Messages
	toolMsg := msgs[len(msgs)-1]
	if !strings.Contains(toolMsg.Content, `"error"`) {
		t.Errorf("unknown tool content = %q", toolMsg.Content)
	}
}

func TestProcessMessagePaymentLinkForced(t *testing.T) {
	link := "https://megagym.pe/pagar?orderId=ord_abc"
	payment := &fakeTool{
		name:   "generate_payment_link",
		result: &domain.ToolResult{Content: fmt.Sprintf(`{"url": %q, "message": "Link de pago generado."}`, link)},
	}
	llm := &fakeLLM{responses: []*domain.ChatResponse{
		toolCallResponse(domain.ToolCall{ID: "call_1", Name: "generate_payment_link", Arguments: json.RawMessage(`{}`)}),
		textResponse("¡Listo! Te generé el link de pago 🚀"),
	}}
	agent := newTestAgent(llm, newFakeHistory(), newFakeExecutor(payment))

	reply, err := agent.ProcessMessage(context.Background(), "51999888777", "dale, pago el de 1 mes")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if !strings.Contains(reply, link) {
		t.Errorf("payment link not appended: %q", reply)
	}
}

func TestProcessMessagePaymentLinkNotDuplicated(t *testing.T) {
	link := "https://megagym.pe/pagar?orderId=ord_abc"
	payment := &fakeTool{
		name:   "generate_payment_link",
		result: &domain.ToolResult{Content: fmt.Sprintf(`{"url": %q}`, link)},
	}
	llm := &fakeLLM{responses: []*domain.ChatResponse{
		toolCallResponse(domain.ToolCall{ID: "call_1", Name: "generate_payment_link", Arguments: json.RawMessage(`{}`)}),
		textResponse("Aquí está tu link: " + link + " 🚀"),
	}}
	agent := newTestAgent(llm, newFakeHistory(), newFakeExecutor(payment))

	reply, err := agent.ProcessMessage(context.Background(), "51999888777", "pago")
	if err != nil {
		t.Fatalf("ProcessMessage() error = %v", err)
	}
	if strings.Count(reply, link) != 1 {
		t.Errorf("link appears %d times: %q", strings.Count(reply, link), reply)
	}
}

func TestProcessMessageProviderFailure(t *testing.T) {
	llm := &fakeLLM{errs: []error{domain.ErrProviderError}}
	agent := newTestAgent(llm, newFakeHistory(), newFakeExecutor())

	_, err := agent.ProcessMessage(context.Background(), "51999888777", "hola")
	if err == nil {
		t.Fatal("expected error for provider failure")
	}
}

func TestProcessMessageSecondCallFailure(t *testing.T) {
	tool := &fakeTool{name: "get_membership_plans", result: &domain.ToolResult{Content: `[]`}}
	llm := &fakeLLM{
		responses: []*domain.ChatResponse{
			toolCallResponse(domain.ToolCall{ID: "call_1", Name: "get_membership_plans", Arguments: json.RawMessage(`{}`)}),
		},
		errs: []error{nil, domain.ErrRateLimit},
	}
	agent := newTestAgent(llm, newFakeHistory(), newFakeExecutor(tool))

	_, err := agent.ProcessMessage(context.Background(), "51999888777", "planes?")
	if err == nil {
		t.Fatal("expected error when final completion fails")
	}
}

// blockingLLM never answers until the context is done.
type blockingLLM struct{}

func (b *blockingLLM) Chat(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingLLM) Name() string { return "blocking" }

func TestProcessMessageTimeout(t *testing.T) {
	agent := NewAgent(AgentDeps{
		LLM:           &blockingLLM{},
		History:       newFakeHistory(),
		Tools:         newFakeExecutor(),
		Prompt:        NewPromptBuilder(config.Defaults().Gym),
		Logger:        slog.Default(),
		Model:         "gpt-4o-mini",
		HistoryWindow: 10,
		Timeout:       20 * time.Millisecond,
	})

	start := time.Now()
	_, err := agent.ProcessMessage(context.Background(), "51999888777", "hola")
	if err == nil {
		t.Fatal("expected error when the provider outlives the timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("ProcessMessage blocked for %v", elapsed)
	}
}
