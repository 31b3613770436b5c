package usecase

import (
	"context"
	"log/slog"
	"time"

	"megagym/internal/domain"
)

// fallbackReply is sent when the agent fails or produces an empty reply.
const fallbackReply = "Lo siento, tuve un error."

// Router dispatches inbound messages from the channel through the agent,
// persisting both sides of the conversation and sending the reply back.
type Router struct {
	agent   *Agent
	history domain.HistoryStore
	channel domain.Channel
	logger  *slog.Logger
	now     func() time.Time
}

// NewRouter creates a Router.
func NewRouter(agent *Agent, history domain.HistoryStore, channel domain.Channel, logger *slog.Logger) *Router {
	return &Router{
		agent:   agent,
		history: history,
		channel: channel,
		logger:  logger,
		now:     time.Now,
	}
}

// Handler returns the channel message handler bound to this router.
func (r *Router) Handler() domain.MessageHandler {
	return r.Handle
}

// Handle processes one inbound message end-to-end: persist it, run the
// agent, persist the reply, send it. It is safe to call concurrently for
// different conversations. An agent failure is substituted with a generic
// apology so the user always gets a response.
func (r *Router) Handle(ctx context.Context, msg domain.InboundMessage) error {
	r.logger.Info("inbound message",
		"conversation", msg.ConversationID,
		"channel", msg.ChannelName,
	)

	if err := r.history.Append(ctx, domain.Turn{
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		Direction:      domain.DirectionInbound,
		CreatedAt:      r.now(),
	}); err != nil {
		r.logger.Warn("failed to persist inbound turn", "error", err)
	}

	reply, aerr := r.agent.ProcessMessage(ctx, msg.ConversationID, msg.Content)
	if aerr != nil {
		r.logger.Error("agent failed",
			"error", aerr,
			"code", domain.ErrorCodeOf(aerr),
			"retryable", domain.IsRetryableError(aerr),
			"conversation", msg.ConversationID,
		)
		reply = fallbackReply
	}
	if reply == "" {
		reply = fallbackReply
	}

	if err := r.history.Append(ctx, domain.Turn{
		ConversationID: msg.ConversationID,
		Content:        reply,
		Direction:      domain.DirectionOutbound,
		CreatedAt:      r.now(),
	}); err != nil {
		r.logger.Warn("failed to persist outbound turn", "error", err)
	}

	return r.channel.Send(ctx, domain.OutboundMessage{
		ConversationID: msg.ConversationID,
		Content:        reply,
		IsError:        aerr != nil,
	})
}
