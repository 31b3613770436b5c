package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"megagym/internal/domain"
)

// ConfirmationHandler receives Culqi payment events and activates the
// member's plan when an order is paid. Culqi retries on non-2xx, so
// events that cannot be processed permanently still get a 200.
type ConfirmationHandler struct {
	members domain.MemberStore
	channel domain.Channel
	logger  *slog.Logger
	now     func() time.Time
}

// NewConfirmationHandler creates the handler for the Culqi event endpoint.
func NewConfirmationHandler(members domain.MemberStore, channel domain.Channel, logger *slog.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		members: members,
		channel: channel,
		logger:  logger,
		now:     time.Now,
	}
}

type culqiEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type culqiPaidOrder struct {
	ID            string            `json:"id"`
	Amount        int               `json:"amount"`
	State         string            `json:"state"`
	Metadata      map[string]string `json:"metadata"`
	ClientDetails culqiClient       `json:"client_details"`
}

func (h *ConfirmationHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "read body", http.StatusBadRequest)
		return
	}

	var event culqiEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("culqi event unmarshal error", "error", err)
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	if event.Type != "order.status.changed" {
		rw.WriteHeader(http.StatusOK)
		return
	}

	var order culqiPaidOrder
	if err := json.Unmarshal(event.Data, &order); err != nil {
		h.logger.Warn("culqi order unmarshal error", "error", err)
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}
	if order.State != "paid" {
		rw.WriteHeader(http.StatusOK)
		return
	}

	if err := h.processPaidOrder(r.Context(), &order); err != nil {
		h.logger.Error("culqi confirmation failed", "error", err, "order_id", order.ID)
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte("OK"))
}

// processPaidOrder activates the membership window for the paying customer
// and sends a payment voucher over the chat channel.
func (h *ConfirmationHandler) processPaidOrder(ctx context.Context, order *culqiPaidOrder) error {
	plan := order.Metadata["planName"]
	if plan == "" {
		plan = "Plan 1 Mes"
	}
	phone := order.Metadata["phone"]
	if phone == "" {
		phone = order.ClientDetails.PhoneNumber
	}
	if phone == "" {
		return fmt.Errorf("paid order %s has no phone", order.ID)
	}

	start := h.now()
	end := start.AddDate(0, planMonths(plan), 0)
	joinDate := start.Format("2006-01-02")
	endDate := end.Format("2006-01-02")

	name := strings.TrimSpace(order.ClientDetails.FirstName + " " + order.ClientDetails.LastName)

	activated := false
	var matched string
	for _, variant := range phoneVariants(phone) {
		err := h.members.Activate(ctx, variant, plan, joinDate, endDate)
		if err == nil {
			activated = true
			matched = variant
			break
		}
		if !errors.Is(err, domain.ErrMemberNotFound) {
			return err
		}
	}

	if !activated {
		// Paid without a prior chat registration. Enroll from the order data.
		matched = phone
		if name == "" {
			name = "Nuevo Miembro"
		}
		member := &domain.Member{
			Phone:    phone,
			Name:     name,
			Email:    order.ClientDetails.Email,
			Plan:     plan,
			Status:   domain.MemberStatusActive,
			JoinDate: start,
			EndDate:  end,
		}
		if err := h.members.Upsert(ctx, member); err != nil {
			return err
		}
	}

	h.logger.Info("membership activated",
		"phone", matched, "plan", plan, "end_date", endDate, "order_id", order.ID)

	voucherName := name
	if voucherName == "" {
		if m, err := h.members.GetByPhone(ctx, matched); err == nil {
			voucherName = m.Name
		}
	}
	voucher := paymentVoucher(voucherName, plan, order.Amount, joinDate, endDate)
	if err := h.channel.Send(ctx, domain.OutboundMessage{ConversationID: matched, Content: voucher}); err != nil {
		// The membership is already active. Losing the voucher is not
		// worth a Culqi retry of the whole event.
		h.logger.Warn("voucher send failed", "error", err, "phone", matched)
	}
	return nil
}

// paymentVoucher formats the confirmation message sent after a payment.
func paymentVoucher(name, plan string, amountCents int, startDate, endDate string) string {
	return fmt.Sprintf(`✅ *PAGO CONFIRMADO - MEGAGYM*

👤 %s
📋 %s
💰 S/ %.2f
📅 Válido: %s al %s

¡Gracias por tu preferencia! 💪`,
		name, plan, float64(amountCents)/100, startDate, endDate)
}

// planMonths maps a free-text plan name to its duration, mirroring the
// loose matching of planAmount.
func planMonths(planName string) int {
	normalized := strings.ToLower(planName)
	switch {
	case strings.Contains(normalized, "2") || strings.Contains(normalized, "dos"):
		return 2
	case strings.Contains(normalized, "3") || strings.Contains(normalized, "tres"):
		return 3
	default:
		return 1
	}
}

// phoneVariants returns the formats a Peruvian number may be stored
// under: as given, bare nine digits, and with the 51 country code.
func phoneVariants(phone string) []string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	bare := digits
	if strings.HasPrefix(bare, "51") && len(bare) > 9 {
		bare = bare[2:]
	}

	variants := []string{phone}
	for _, v := range []string{digits, bare, "51" + bare} {
		if v == "" {
			continue
		}
		seen := false
		for _, existing := range variants {
			if existing == v {
				seen = true
				break
			}
		}
		if !seen {
			variants = append(variants, v)
		}
	}
	return variants
}

var _ http.Handler = (*ConfirmationHandler)(nil)
