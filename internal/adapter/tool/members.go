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

// MemberStatusTool answers whether a phone number belongs to a member.
type MemberStatusTool struct {
	members domain.MemberStore
	logger  *slog.Logger
}

// NewMemberStatusTool creates the check_member_status tool.
func NewMemberStatusTool(members domain.MemberStore, logger *slog.Logger) *MemberStatusTool {
	return &MemberStatusTool{members: members, logger: logger}
}

func (t *MemberStatusTool) Name() string { return "check_member_status" }

func (t *MemberStatusTool) Description() string {
	return "Check if a phone number belongs to an active member and get their details"
}

func (t *MemberStatusTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"phone": {"type": "string", "description": "Phone number to check"}
			},
			"required": ["phone"]
		}`),
	}
}

type memberStatusParams struct {
	Phone string `json:"phone"`
}

type memberView struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Status  string `json:"status"`
	Plan    string `json:"plan,omitempty"`
	EndDate string `json:"endDate,omitempty"`
}

func (t *MemberStatusTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.check_member_status", t.logger, params,
		func(ctx context.Context, span trace.Span, p memberStatusParams) (any, error) {
			if err := ValidateAll(
				RequireField("phone", p.Phone),
				ValidatePhone("phone", p.Phone),
			); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("member.phone", p.Phone))

			m, err := t.members.GetByPhone(ctx, p.Phone)
			if errors.Is(err, domain.ErrMemberNotFound) {
				return map[string]string{"status": "not_found"}, nil
			}
			if err != nil {
				return nil, err
			}

			view := memberView{
				Name:   m.Name,
				Phone:  m.Phone,
				Status: string(m.Status),
				Plan:   m.Plan,
			}
			if !m.EndDate.IsZero() {
				view.EndDate = m.EndDate.Format("2006-01-02")
			}
			return view, nil
		})
}

var _ domain.Tool = (*MemberStatusTool)(nil)

// RegisterTool records a prospect's contact details before payment.
type RegisterTool struct {
	members domain.MemberStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewRegisterTool creates the register_user tool.
func NewRegisterTool(members domain.MemberStore, logger *slog.Logger) *RegisterTool {
	return &RegisterTool{members: members, logger: logger, now: time.Now}
}

func (t *RegisterTool) Name() string { return "register_user" }

func (t *RegisterTool) Description() string {
	return "Register a new user or update an existing user's details before payment"
}

func (t *RegisterTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"phone": {"type": "string", "description": "User's phone number"},
				"name": {"type": "string", "description": "User's full name"},
				"dni": {"type": "string", "description": "User's DNI (documento nacional de identidad)"},
				"email": {"type": "string", "description": "User's email (optional)"}
			},
			"required": ["phone", "name", "dni"]
		}`),
	}
}

type registerParams struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
	DNI   string `json:"dni"`
	Email string `json:"email"`
}

func (t *RegisterTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.register_user", t.logger, params,
		func(ctx context.Context, span trace.Span, p registerParams) (any, error) {
			if err := ValidateAll(
				RequireFields("phone", p.Phone, "name", p.Name, "dni", p.DNI),
				ValidatePhone("phone", p.Phone),
				ValidateDNI("dni", p.DNI),
			); err != nil {
				return nil, err
			}

			existing, err := t.members.GetByPhone(ctx, p.Phone)
			isNew := errors.Is(err, domain.ErrMemberNotFound)
			if err != nil && !isNew {
				return nil, err
			}

			m := domain.Member{
				Phone:  p.Phone,
				Name:   p.Name,
				DNI:    p.DNI,
				Email:  p.Email,
				Status: domain.MemberStatusProspect,
			}
			if !isNew {
				// Keep membership fields, refresh contact details.
				m = *existing
				m.Name = p.Name
				m.DNI = p.DNI
				if p.Email != "" {
					m.Email = p.Email
				}
			}

			if err := t.members.Upsert(ctx, &m); err != nil {
				return nil, err
			}

			msg := "Usuario registrado."
			if !isNew {
				msg = "Información actualizada."
			}
			t.logger.Info("user registered", "phone", p.Phone, "new", isNew)
			return map[string]any{"success": true, "message": msg}, nil
		})
}

var _ domain.Tool = (*RegisterTool)(nil)
