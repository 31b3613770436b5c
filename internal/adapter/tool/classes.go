package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"

	"megagym/internal/domain"
)

// ClassesTool lists group classes, optionally filtered to one date.
type ClassesTool struct {
	classes domain.ClassStore
	logger  *slog.Logger
}

// NewClassesTool creates the get_available_classes tool.
func NewClassesTool(classes domain.ClassStore, logger *slog.Logger) *ClassesTool {
	return &ClassesTool{classes: classes, logger: logger}
}

func (t *ClassesTool) Name() string { return "get_available_classes" }

func (t *ClassesTool) Description() string {
	return "Get available classes for a specific date or upcoming week"
}

func (t *ClassesTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"date": {"type": "string", "description": "Date in YYYY-MM-DD format (optional)"}
			}
		}`),
	}
}

type classesParams struct {
	Date string `json:"date"`
}

type classView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Instructor string   `json:"instructor,omitempty"`
	Days       []string `json:"days"`
	Times      []string `json:"times"`
	Capacity   int      `json:"capacity,omitempty"`
}

func (t *ClassesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_available_classes", t.logger, params,
		func(ctx context.Context, span trace.Span, p classesParams) (any, error) {
			if err := ValidateDate("date", p.Date); err != nil {
				return nil, err
			}

			classes, err := t.classes.ListClasses(ctx)
			if err != nil {
				return nil, err
			}

			if p.Date != "" {
				day, err := time.Parse("2006-01-02", p.Date)
				if err != nil {
					return nil, err
				}
				weekday := SpanishWeekday(day.Weekday())
				filtered := classes[:0:0]
				for _, c := range classes {
					if slices.Contains(c.Days, weekday) {
						filtered = append(filtered, c)
					}
				}
				classes = filtered
			}

			views := make([]classView, len(classes))
			for i, c := range classes {
				views[i] = classView{
					ID:         c.ID,
					Name:       c.Name,
					Instructor: c.Instructor,
					Days:       c.Days,
					Times:      c.Times,
					Capacity:   c.Capacity,
				}
			}
			return views, nil
		})
}

var spanishWeekdays = [...]string{
	"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado",
}

// SpanishWeekday returns the Spanish name of a weekday, as stored in
// class schedules.
func SpanishWeekday(d time.Weekday) string {
	return spanishWeekdays[d]
}

var _ domain.Tool = (*ClassesTool)(nil)
