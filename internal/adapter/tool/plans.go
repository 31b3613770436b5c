package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"megagym/internal/domain"
)

// PlansTool exposes the membership plan catalog to the model.
type PlansTool struct {
	plans  domain.PlanStore
	logger *slog.Logger
}

// NewPlansTool creates the get_membership_plans tool.
func NewPlansTool(plans domain.PlanStore, logger *slog.Logger) *PlansTool {
	return &PlansTool{plans: plans, logger: logger}
}

func (t *PlansTool) Name() string { return "get_membership_plans" }

func (t *PlansTool) Description() string {
	return "Get list of available membership plans with prices and benefits"
}

func (t *PlansTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

type planView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Months      int    `json:"months,omitempty"`
	Price       string `json:"price"`
	Description string `json:"description,omitempty"`
}

func (t *PlansTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_membership_plans", t.logger, params,
		func(ctx context.Context, span trace.Span, _ struct{}) (any, error) {
			plans, err := t.plans.ListPlans(ctx)
			if err != nil {
				return nil, err
			}

			views := make([]planView, len(plans))
			for i, p := range plans {
				views[i] = planView{
					ID:          p.ID,
					Name:        p.Name,
					Months:      p.Months,
					Price:       FormatSoles(p.PriceCents),
					Description: p.Description,
				}
			}
			return views, nil
		})
}

// FormatSoles renders an amount in centimos as a Peruvian sol string.
func FormatSoles(cents int) string {
	if cents%100 == 0 {
		return fmt.Sprintf("S/ %d", cents/100)
	}
	return fmt.Sprintf("S/ %d.%02d", cents/100, cents%100)
}

var _ domain.Tool = (*PlansTool)(nil)
