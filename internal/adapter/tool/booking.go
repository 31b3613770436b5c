package tool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"megagym/internal/domain"
	"megagym/internal/infra/tracer"
)

// BookingTool books a member into a group class.
type BookingTool struct {
	members domain.MemberStore
	classes domain.ClassStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewBookingTool creates the book_class tool.
func NewBookingTool(members domain.MemberStore, classes domain.ClassStore, logger *slog.Logger) *BookingTool {
	return &BookingTool{members: members, classes: classes, logger: logger, now: time.Now}
}

func (t *BookingTool) Name() string { return "book_class" }

func (t *BookingTool) Description() string {
	return "Book a class for a member"
}

func (t *BookingTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"phone": {"type": "string", "description": "Member's phone number"},
				"classId": {"type": "string", "description": "ID of the class to book"},
				"date": {"type": "string", "description": "Date of the class"}
			},
			"required": ["phone", "classId", "date"]
		}`),
	}
}

type bookingParams struct {
	Phone   string `json:"phone"`
	ClassID string `json:"classId"`
	Date    string `json:"date"`
}

func (t *BookingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.book_class", t.logger, params,
		func(ctx context.Context, span trace.Span, p bookingParams) (any, error) {
			if err := ValidateAll(
				RequireFields("phone", p.Phone, "classId", p.ClassID, "date", p.Date),
				ValidatePhone("phone", p.Phone),
				ValidateDate("date", p.Date),
			); err != nil {
				return nil, err
			}
			span.SetAttributes(
				tracer.StringAttr("booking.class_id", p.ClassID),
				tracer.StringAttr("booking.date", p.Date),
			)

			member, err := t.members.GetByPhone(ctx, p.Phone)
			if errors.Is(err, domain.ErrMemberNotFound) {
				return ErrResult("Member not found")
			}
			if err != nil {
				return nil, err
			}

			if _, err := t.classes.GetClass(ctx, p.ClassID); err != nil {
				if errors.Is(err, domain.ErrClassNotFound) {
					return ErrResult("Class not found: %s", p.ClassID)
				}
				return nil, err
			}

			booking := domain.Booking{
				MemberID:  member.ID,
				ClassID:   p.ClassID,
				Date:      p.Date,
				Status:    domain.BookingStatusConfirmed,
				CreatedAt: t.now(),
			}
			if err := t.classes.AddBooking(ctx, &booking); err != nil {
				return nil, err
			}

			t.logger.Info("class booked",
				"phone", p.Phone, "class_id", p.ClassID, "date", p.Date)
			return map[string]any{"success": true, "message": "Class booked successfully"}, nil
		})
}

var _ domain.Tool = (*BookingTool)(nil)
