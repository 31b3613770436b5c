package store

import (
	"context"
	"encoding/json"

	"megagym/internal/domain"
)

var defaultPlans = []domain.MembershipPlan{
	{ID: "plan-1m", Name: "Plan 1 Mes", Months: 1, PriceCents: 8000, Description: "Acceso completo al gimnasio por un mes"},
	{ID: "plan-2m", Name: "Plan 2 Meses", Months: 2, PriceCents: 12000, Description: "Acceso completo al gimnasio por dos meses"},
	{ID: "plan-3m", Name: "Plan 3 Meses", Months: 3, PriceCents: 15000, Description: "Acceso completo al gimnasio por tres meses"},
	{ID: "clase-suelta", Name: "Clase Suelta", Months: 0, PriceCents: 600, Description: "Una clase individual sin membresía"},
}

var weekdays = []string{"Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado"}

var defaultClasses = []domain.GymClass{
	{ID: "aerobicos-am", Name: "Aeróbicos (mañana)", Days: weekdays, Times: []string{"08:00"}, Capacity: 25},
	{ID: "aerobicos-pm", Name: "Aeróbicos (noche)", Days: weekdays, Times: []string{"20:00"}, Capacity: 25},
}

// Seed inserts the default plan and class catalog if missing. Existing
// rows are left untouched so manual edits survive restarts.
func (s *SQLiteStore) Seed(ctx context.Context) error {
	for _, p := range defaultPlans {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO plans (id, name, months, price_cents, description)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			p.ID, p.Name, p.Months, p.PriceCents, p.Description)
		if err != nil {
			return domain.WrapOp("seed.plans", err)
		}
	}

	for _, c := range defaultClasses {
		days, err := json.Marshal(c.Days)
		if err != nil {
			return domain.WrapOp("seed.classes", err)
		}
		times, err := json.Marshal(c.Times)
		if err != nil {
			return domain.WrapOp("seed.classes", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO classes (id, name, instructor, days, times, capacity)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			c.ID, c.Name, c.Instructor, string(days), string(times), c.Capacity)
		if err != nil {
			return domain.WrapOp("seed.classes", err)
		}
	}

	return nil
}
