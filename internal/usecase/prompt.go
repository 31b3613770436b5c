package usecase

import (
	"fmt"
	"strings"
	"time"

	"megagym/internal/domain"
	"megagym/internal/infra/config"
)

// PromptBuilder assembles the message array for LLM calls: system prompt
// with gym facts and the caller's phone number, followed by recent
// conversation history.
type PromptBuilder struct {
	gym config.GymConfig
	now func() time.Time
}

// NewPromptBuilder creates a prompt builder for the given gym profile.
func NewPromptBuilder(gym config.GymConfig) *PromptBuilder {
	return &PromptBuilder{
		gym: gym,
		now: time.Now,
	}
}

// Build assembles: system prompt + conversation history + current message.
// The current user message is skipped when it is already the last inbound
// turn in history (the router persists inbound turns before the agent runs).
func (pb *PromptBuilder) Build(phone string, history []domain.Turn, userMsg string) []domain.Message {
	messages := make([]domain.Message, 0, 2+len(history))

	messages = append(messages, domain.Message{
		Role:      domain.RoleSystem,
		Content:   pb.SystemPrompt(phone),
		Timestamp: pb.now(),
	})

	for _, turn := range history {
		role := domain.RoleAssistant
		if turn.Direction == domain.DirectionInbound {
			role = domain.RoleUser
		}
		messages = append(messages, domain.Message{
			Role:      role,
			Content:   turn.Content,
			Timestamp: turn.CreatedAt,
		})
	}

	if n := len(history); n == 0 ||
		history[n-1].Direction != domain.DirectionInbound ||
		history[n-1].Content != userMsg {
		messages = append(messages, domain.Message{
			Role:      domain.RoleUser,
			Content:   userMsg,
			Timestamp: pb.now(),
		})
	}

	return messages
}

// SystemPrompt renders the receptionist persona with gym facts and the
// caller's phone number baked in.
func (pb *PromptBuilder) SystemPrompt(phone string) string {
	g := pb.gym
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, the helpful and energetic AI receptionist at %s (%q 💪).\n",
		g.AssistantName, g.Name, g.Tagline)
	fmt.Fprintf(&sb, "Current time: %s.\n\n", pb.now().Format(time.RFC3339))

	fmt.Fprintf(&sb, "**IMPORTANT:** The user is messaging from WhatsApp. Their phone number is: %s\n", phone)
	sb.WriteString("USE THIS NUMBER for all operations. NEVER ask for their phone number.\n\n")

	sb.WriteString("**GYM INFORMATION (Source of Truth):**\n")
	fmt.Fprintf(&sb, "- **Address:** %s.\n", g.Address)
	fmt.Fprintf(&sb, "- **Hours:** %s.\n", g.Hours)
	if len(g.PaymentMethods) > 0 {
		fmt.Fprintf(&sb, "- **Payment Methods:** %s.\n", strings.Join(g.PaymentMethods, ", "))
	}
	sb.WriteString("- **Prices:** (No enrollment fee)\n")
	for _, line := range g.PriceLines {
		fmt.Fprintf(&sb, "    - %s\n", line)
	}
	sb.WriteString("\n")

	if len(g.AerobicsLines) > 0 {
		sb.WriteString("**AEROBICS / GROUP CLASSES:**\n")
		for _, line := range g.AerobicsLines {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
		sb.WriteString("\n")
	}

	if len(g.Policies) > 0 {
		sb.WriteString("**POLICIES:**\n")
		for _, line := range g.Policies {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("**MANDATORY PAYMENT FLOW - YOU MUST FOLLOW THIS EXACTLY:**\n\n")
	sb.WriteString("When the user wants to pay, register, or get a membership, you MUST collect ALL of the following information BEFORE generating any payment link:\n\n")
	sb.WriteString("STEP 1: Ask \"¿Cuál es tu nombre completo?\" - WAIT for response\n")
	sb.WriteString("STEP 2: Ask \"¿Cuál es tu DNI?\" - WAIT for response\n")
	sb.WriteString("STEP 3: Ask \"¿Cuál es tu correo electrónico?\" - WAIT for response\n\n")
	sb.WriteString("ONLY after you have ALL THREE pieces of information (name, DNI, email), then:\n\n")
	fmt.Fprintf(&sb, "STEP 4: Call register_user with: phone=%q, name, dni, email\n", phone)
	fmt.Fprintf(&sb, "STEP 5: Call generate_payment_link with: phone=%q, planName, customerName, dni, email\n", phone)
	sb.WriteString("STEP 6: Send the payment link to the user\n\n")

	sb.WriteString("**CRITICAL RULES:**\n")
	sb.WriteString("- NEVER generate a payment link without first having: nombre completo, DNI, and email\n")
	sb.WriteString("- NEVER skip asking for ANY of these 3 pieces of information\n")
	sb.WriteString("- NEVER use placeholder data like \"Usuario\", \"Nuevo Miembro\", or \"cliente@whatsapp.com\"\n")
	sb.WriteString("- Ask ONE question at a time and WAIT for the user's response\n")
	sb.WriteString("- If the user tries to skip a question, politely insist that you need the information\n")
	fmt.Fprintf(&sb, "- The phone number is: %s - use this, NEVER ask for it\n", phone)
	sb.WriteString("- ALWAYS respond in Spanish\n\n")

	sb.WriteString("**TONE & PERSONALITY:**\n")
	fmt.Fprintf(&sb, "- **Identify as %q:** You are the friendly, energetic receptionist at %s.\n", g.AssistantName, g.Name)
	sb.WriteString("- **Be Conversational:** DO NOT dump all the information at once. Provide only what is specifically asked.\n")
	sb.WriteString("- **Ask Follow-up Questions:** After answering, ask a relevant question to keep the conversation flowing naturally.\n")
	sb.WriteString("- **Short & Sweet:** WhatsApp messages should be short (1-3 sentences max per bubble).\n")
	sb.WriteString("- **Emojis:** Use them naturally but sparingly (💪, 😊, 🦍).\n")

	return sb.String()
}
