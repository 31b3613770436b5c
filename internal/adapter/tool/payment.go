package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"megagym/internal/domain"
	"megagym/internal/infra/tracer"
)

// missingPaymentData is the error payload returned when the model calls
// generate_payment_link before collecting the customer's full details.
// The guard is structural: prompt rules alone are not trusted.
const missingPaymentData = "Faltan datos obligatorios. Necesito: nombre completo, DNI y email del cliente."

// PaymentLinkTool generates a Culqi checkout link for a membership plan.
type PaymentLinkTool struct {
	linker  domain.PaymentLinker
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewPaymentLinkTool creates the generate_payment_link tool.
// maxPerMinute caps link generation per phone to keep a confused model
// from spamming the payment provider; <=0 disables the cap.
func NewPaymentLinkTool(linker domain.PaymentLinker, maxPerMinute int, logger *slog.Logger) *PaymentLinkTool {
	t := &PaymentLinkTool{linker: linker, logger: logger}
	if maxPerMinute > 0 {
		t.limiter = NewRateLimiter(maxPerMinute, time.Minute)
	}
	return t
}

func (t *PaymentLinkTool) Name() string { return "generate_payment_link" }

func (t *PaymentLinkTool) Description() string {
	return "Generate a payment link (Culqi) for a specific plan. IMPORTANT: You MUST have the user's full name, DNI, and email BEFORE calling this function. If you don't have these, ASK THE USER FIRST."
}

func (t *PaymentLinkTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"phone": {"type": "string", "description": "User's phone number to link the payment"},
				"planName": {"type": "string", "description": "Name of the plan (e.g., '1 Month', '2 Months')"},
				"customerName": {"type": "string", "description": "User's FULL NAME (required - ask if not provided)"},
				"dni": {"type": "string", "description": "User's DNI document number (required - ask if not provided)"},
				"email": {"type": "string", "description": "User's email address (required - ask if not provided)"}
			},
			"required": ["phone", "planName", "customerName", "dni", "email"]
		}`),
	}
}

type paymentLinkParams struct {
	Phone        string `json:"phone"`
	PlanName     string `json:"planName"`
	CustomerName string `json:"customerName"`
	DNI          string `json:"dni"`
	Email        string `json:"email"`
}

func (t *PaymentLinkTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.generate_payment_link", t.logger, params,
		func(ctx context.Context, span trace.Span, p paymentLinkParams) (any, error) {
			if p.CustomerName == "" || p.DNI == "" || p.Email == "" {
				return ErrResult("%s", missingPaymentData)
			}
			if err := ValidateAll(
				RequireFields("phone", p.Phone, "planName", p.PlanName),
				ValidatePhone("phone", p.Phone),
				ValidateDNI("dni", p.DNI),
			); err != nil {
				return nil, err
			}

			if t.limiter != nil && !t.limiter.Allow(p.Phone) {
				return ErrResult("Demasiadas solicitudes de pago. Inténtalo de nuevo en un minuto.")
			}

			span.SetAttributes(tracer.StringAttr("payment.plan", p.PlanName))

			url, err := t.linker.CreateLink(ctx, domain.PaymentLinkRequest{
				Phone:        p.Phone,
				PlanName:     p.PlanName,
				CustomerName: p.CustomerName,
				DNI:          p.DNI,
				Email:        p.Email,
			})
			if err != nil {
				return nil, err
			}

			t.logger.Info("payment link generated", "phone", p.Phone, "plan", p.PlanName)
			return map[string]string{"url": url, "message": "Link de pago generado."}, nil
		})
}

var _ domain.Tool = (*PaymentLinkTool)(nil)
