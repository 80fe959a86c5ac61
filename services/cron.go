package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// SessionExpirer deletes sessions idle for longer than the given age.
type SessionExpirer interface {
	Expire(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CronService runs the periodic maintenance jobs.
type CronService struct {
	scheduler *gocron.Scheduler
	sessions  SessionExpirer
	retention time.Duration
	log       *slog.Logger
}

func NewCronService(sessions SessionExpirer, retention time.Duration, log *slog.Logger) *CronService {
	if log == nil {
		log = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &CronService{
		scheduler: s,
		sessions:  sessions,
		retention: retention,
		log:       log.With("component", "cron"),
	}
}

// ScheduleRetention runs the session retention sweep on cronExpr.
func (c *CronService) ScheduleRetention(cronExpr string) error {
	_, err := c.scheduler.Cron(cronExpr).Tag("session-retention").Do(c.SweepSessions)
	if err != nil {
		return fmt.Errorf("schedule session retention %q: %w", cronExpr, err)
	}
	return nil
}

// SweepSessions deletes sessions idle for longer than the retention period.
func (c *CronService) SweepSessions() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := c.sessions.Expire(ctx, c.retention)
	if err != nil {
		c.log.Error("session retention sweep failed", "error", err)
		return err
	}
	c.log.Info("session retention sweep finished", "deleted", n, "retention", c.retention.String())
	return nil
}

func (c *CronService) Start() {
	c.log.Info("starting cron service", "jobs", len(c.scheduler.Jobs()))
	c.scheduler.StartAsync()
}

func (c *CronService) Stop() {
	c.scheduler.Stop()
	c.log.Info("cron service stopped")
}
