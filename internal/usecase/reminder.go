package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"megagym/internal/domain"
	"megagym/internal/infra/config"
)

// ReminderScheduler sends renewal reminders to members whose membership is
// about to expire. It runs on a cron schedule (daily by default) and looks
// up members whose end date falls exactly DaysBefore days ahead, so each
// member is reminded once.
type ReminderScheduler struct {
	members    domain.MemberStore
	channel    domain.Channel
	schedule   string
	daysBefore int
	logger     *slog.Logger
	cron       *cron.Cron
	now        func() time.Time
}

// NewReminderScheduler creates a reminder scheduler from config.
func NewReminderScheduler(members domain.MemberStore, channel domain.Channel, cfg config.RemindersConfig, logger *slog.Logger) *ReminderScheduler {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 9 * * *"
	}
	daysBefore := cfg.DaysBefore
	if daysBefore <= 0 {
		daysBefore = 3
	}
	return &ReminderScheduler{
		members:    members,
		channel:    channel,
		schedule:   schedule,
		daysBefore: daysBefore,
		logger:     logger,
		now:        time.Now,
	}
}

// Start registers the cron entry and starts the scheduler.
func (s *ReminderScheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("reminder run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("reminder schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("reminder scheduler started", "schedule", s.schedule, "days_before", s.daysBefore)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *ReminderScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce performs a single reminder pass. A send failure for one member
// is logged and does not stop the rest of the batch.
func (s *ReminderScheduler) RunOnce(ctx context.Context) error {
	targetDate := s.now().AddDate(0, 0, s.daysBefore).Format("2006-01-02")

	members, err := s.members.ListExpiring(ctx, targetDate)
	if err != nil {
		return fmt.Errorf("list expiring members: %w", err)
	}

	sent := 0
	for _, m := range members {
		msg := reminderMessage(m)
		if err := s.channel.Send(ctx, domain.OutboundMessage{
			ConversationID: m.Phone,
			Content:        msg,
		}); err != nil {
			s.logger.Warn("failed to send reminder", "phone", m.Phone, "error", err)
			continue
		}
		sent++
	}

	s.logger.Info("reminder run completed", "target_date", targetDate, "expiring", len(members), "sent", sent)
	return nil
}

func reminderMessage(m *domain.Member) string {
	name := m.Name
	if i := strings.IndexByte(name, ' '); i > 0 {
		name = name[:i]
	}
	if name == "" {
		name = "hola"
	}
	return fmt.Sprintf(
		"¡Hola %s! 💪 Tu membresía de MegaGym vence el %s. ¿Quieres renovarla? Escríbeme y te paso el link de pago al toque. 😊",
		name, m.EndDate.Format("02/01/2006"),
	)
}
