package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"megagym/internal/domain"
	"megagym/internal/infra/tracer"
)

const paymentLinkToolName = "generate_payment_link"

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM           domain.LLMProvider
	History       domain.HistoryStore
	Tools         domain.ToolExecutor
	Prompt        *PromptBuilder
	Logger        *slog.Logger
	Model         string
	MaxTokens     int
	Temperature   float64
	HistoryWindow int
	Timeout       time.Duration // cap on one full ProcessMessage pass; 0 = none
}

// Agent orchestrates the two-round completion loop: a first call offering
// the tool catalog, dispatch of any requested tools, then a second call
// with the results to produce the final reply.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.HistoryWindow <= 0 {
		deps.HistoryWindow = 10
	}
	return &Agent{deps: deps}
}

// ProcessMessage runs one inbound message through the completion loop and
// returns the assistant's reply. The conversationID is the caller's phone
// number. A provider failure is fatal to the request; a tool failure is
// folded into the conversation and does not abort it.
func (a *Agent) ProcessMessage(ctx context.Context, conversationID, text string) (string, error) {
	if a.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.deps.Timeout)
		defer cancel()
	}

	ctx, span := tracer.StartSpan(ctx, "agent.process_message")
	defer span.End()

	history, err := a.deps.History.LoadRecent(ctx, conversationID, a.deps.HistoryWindow)
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.NewDomainError("Agent.ProcessMessage", err, "load history")
	}

	messages := a.deps.Prompt.Build(conversationID, history, text)

	firstReq := domain.ChatRequest{
		Model:       a.deps.Model,
		Messages:    messages,
		Tools:       a.deps.Tools.Schemas(),
		ToolChoice:  domain.ToolChoiceAuto,
		MaxTokens:   a.deps.MaxTokens,
		Temperature: a.deps.Temperature,
	}

	llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call")
	resp, err := a.deps.LLM.Chat(llmCtx, firstReq)
	llmSpan.End()
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp("Agent.ProcessMessage", err)
	}

	a.deps.Logger.Debug("llm response",
		"conversation", conversationID,
		"tool_calls", len(resp.Message.ToolCalls),
		"tokens", resp.Usage.TotalTokens,
	)

	// No tool calls = final response.
	if len(resp.Message.ToolCalls) == 0 {
		tracer.SetOK(span)
		return resp.Message.Content, nil
	}

	// Execute tool calls in parallel. Results are collected in an indexed
	// array so the tool messages keep the order the model emitted them.
	toolMsgs := make([]domain.Message, len(resp.Message.ToolCalls))
	var wg sync.WaitGroup
	for i, call := range resp.Message.ToolCalls {
		wg.Add(1)
		go func(idx int, c domain.ToolCall) {
			defer wg.Done()
			toolMsgs[idx] = a.executeTool(ctx, c)
		}(i, call)
	}
	wg.Wait()

	// Capture any payment link so it can be forced into the reply below.
	var paymentLink string
	for i, call := range resp.Message.ToolCalls {
		if call.Name != paymentLinkToolName {
			continue
		}
		var result struct {
			URL string `json:"url"`
		}
		if json.Unmarshal([]byte(toolMsgs[i].Content), &result) == nil && result.URL != "" {
			paymentLink = result.URL
		}
	}

	secondMsgs := make([]domain.Message, 0, len(messages)+1+len(toolMsgs))
	secondMsgs = append(secondMsgs, messages...)
	secondMsgs = append(secondMsgs, resp.Message)
	secondMsgs = append(secondMsgs, toolMsgs...)

	// Second call has no tool catalog: the model must answer in text.
	secondReq := domain.ChatRequest{
		Model:       a.deps.Model,
		Messages:    secondMsgs,
		MaxTokens:   a.deps.MaxTokens,
		Temperature: a.deps.Temperature,
	}

	llmCtx, llmSpan = tracer.StartSpan(ctx, "agent.llm_call_final")
	second, err := a.deps.LLM.Chat(llmCtx, secondReq)
	llmSpan.End()
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp("Agent.ProcessMessage", err)
	}

	reply := second.Message.Content
	if paymentLink != "" && !strings.Contains(reply, paymentLink) {
		a.deps.Logger.Warn("payment link missing from reply, appending",
			"conversation", conversationID)
		reply += "\n\n" + paymentLink
	}

	tracer.SetOK(span)
	return reply, nil
}

// executeTool runs a single tool call and returns the result as a Message.
// Failures become an {"error": ...} payload so the model can recover; they
// never abort the remaining calls in the round.
func (a *Agent) executeTool(ctx context.Context, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	msg := domain.Message{
		Role: domain.RoleTool,
		Name: call.Name,
		ToolCalls: []domain.ToolCall{{
			ID:   call.ID,
			Name: call.Name,
		}},
		Timestamp: time.Now(),
	}

	tool, err := a.deps.Tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		msg.Content = errorPayload(err.Error())
		return msg
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		tracer.RecordError(span, err)
		a.deps.Logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		msg.Content = errorPayload(err.Error())
		return msg
	}
	if result.IsError {
		span.AddEvent("tool.error_result")
		msg.Content = errorPayload(result.Content)
		return msg
	}

	tracer.SetOK(span)
	msg.Content = result.Content
	return msg
}

// errorPayload encodes a tool failure the way results are shown to the
// model, as a JSON object with a single error field.
func errorPayload(detail string) string {
	data, err := json.Marshal(map[string]string{"error": detail})
	if err != nil {
		return `{"error": "tool execution failed"}`
	}
	return string(data)
}
