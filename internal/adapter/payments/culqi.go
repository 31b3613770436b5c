package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"megagym/internal/domain"
	"megagym/internal/infra/config"
	"megagym/internal/infra/tracer"
)

// Plan amounts in centimos. Plan names are matched loosely because the
// model passes free text ("Plan 2 Meses", "plan de dos meses", ...).
const (
	amountDefault    = 8000  // 1 month, S/ 80
	amountTwoMonths  = 12000 // S/ 120
	amountThreeMonth = 15000 // S/ 150
	amountSingleDay  = 600   // one class, S/ 6
)

// CulqiClient implements domain.PaymentLinker against the Culqi orders
// API. An order is created server-side and the customer pays through
// the hosted checkout page referenced by the returned link.
type CulqiClient struct {
	apiKey       string
	baseURL      string
	checkoutBase string
	client       *http.Client
	logger       *slog.Logger
	now          func() time.Time
	randInt      func(int) int
}

// NewCulqiClient creates a Culqi orders client.
func NewCulqiClient(cfg config.PaymentsConfig, logger *slog.Logger) *CulqiClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.culqi.com"
	}
	checkoutBase := strings.TrimRight(cfg.CheckoutBase, "/")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &CulqiClient{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		checkoutBase: checkoutBase,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
		now:          time.Now,
		randInt:      rand.Intn,
	}
}

// --- Culqi wire types ---

type culqiOrder struct {
	Amount         int               `json:"amount"`
	CurrencyCode   string            `json:"currency_code"`
	Description    string            `json:"description"`
	OrderNumber    string            `json:"order_number"`
	ClientDetails  culqiClient       `json:"client_details"`
	ExpirationDate int64             `json:"expiration_date"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type culqiClient struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

type culqiOrderResponse struct {
	ID string `json:"id"`
}

type culqiErrorResponse struct {
	MerchantMessage string `json:"merchant_message"`
	UserMessage     string `json:"user_message"`
}

// CreateLink implements domain.PaymentLinker. It creates a Culqi order
// expiring in 24 hours and returns the checkout URL for it.
func (c *CulqiClient) CreateLink(ctx context.Context, req domain.PaymentLinkRequest) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "payments.create_link",
		trace.WithAttributes(tracer.StringAttr("payment.plan", req.PlanName)),
	)
	defer span.End()

	if c.apiKey == "" {
		err := domain.NewDomainError("culqi.create", domain.ErrPaymentLink, "api key not configured")
		tracer.RecordError(span, err)
		return "", err
	}

	now := c.now()
	first, last := splitName(req.CustomerName)
	order := culqiOrder{
		Amount:       planAmount(req.PlanName),
		CurrencyCode: "PEN",
		Description:  fmt.Sprintf("Plan %s - MegaGym", req.PlanName),
		OrderNumber:  fmt.Sprintf("ord_%d_%d", now.UnixMilli(), c.randInt(1000)),
		ClientDetails: culqiClient{
			FirstName:   first,
			LastName:    last,
			Email:       req.Email,
			PhoneNumber: req.Phone,
		},
		ExpirationDate: now.Add(24 * time.Hour).Unix(),
		Metadata: map[string]string{
			"phone":    req.Phone,
			"planName": req.PlanName,
			"dni":      req.DNI,
			"source":   "whatsapp_ai",
		},
	}

	body, err := json.Marshal(order)
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/orders", bytes.NewReader(body))
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("%w: %v", domain.ErrPaymentLink, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var apiErr culqiErrorResponse
		_ = json.Unmarshal(respBody, &apiErr)
		detail := apiErr.MerchantMessage
		if detail == "" {
			detail = string(respBody)
		}
		err := domain.NewDomainError("culqi.create", domain.ErrPaymentLink,
			fmt.Sprintf("status %d: %s", httpResp.StatusCode, detail))
		tracer.RecordError(span, err)
		return "", err
	}

	var resp culqiOrderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.ID == "" {
		err := domain.NewDomainError("culqi.create", domain.ErrPaymentLink, "no order id in response")
		tracer.RecordError(span, err)
		return "", err
	}

	tracer.SetOK(span)
	c.logger.Info("culqi order created",
		"order_id", resp.ID, "plan", req.PlanName, "amount", order.Amount)

	return fmt.Sprintf("%s/pagar?orderId=%s", c.checkoutBase, resp.ID), nil
}

// planAmount maps a free-text plan name to its price in centimos.
func planAmount(planName string) int {
	normalized := strings.ToLower(planName)
	switch {
	case strings.Contains(normalized, "2") || strings.Contains(normalized, "dos"):
		return amountTwoMonths
	case strings.Contains(normalized, "3") || strings.Contains(normalized, "tres"):
		return amountThreeMonth
	case strings.Contains(normalized, "clase"):
		return amountSingleDay
	default:
		return amountDefault
	}
}

// splitName divides a full name into Culqi's first/last name fields.
func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

var _ domain.PaymentLinker = (*CulqiClient)(nil)
