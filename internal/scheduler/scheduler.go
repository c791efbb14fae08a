// Package scheduler runs the service's periodic jobs on gocron: expiring
// stale proposals, reminding players to submit, resolving elapsed
// verification windows, and purging old notifications and idempotency keys.
//
// Every job runs in singleton mode; a run that is still going when the next
// one is due makes the scheduler skip ahead instead of overlapping.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/config"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/repo"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
)

// Job names, also used as metric labels.
const (
	JobExpireProposals  = "expire-proposals"
	JobReminders        = "verification-reminders"
	JobResolveElapsed   = "resolve-elapsed"
	JobNotificationGC   = "notification-cleanup"
	JobIdempotencyPurge = "idempotency-purge"
)

// Jobs holds what the periodic jobs operate on.
type Jobs struct {
	Engine *services.Engine
	Queue  *services.NotificationQueue
	DB     *gorm.DB
	Clock  clockwork.Clock
}

// ExpireProposals moves proposals past their expiry to expired.
func (j Jobs) ExpireProposals(ctx context.Context) error {
	n, err := j.Engine.ExpireStaleProposals(ctx)
	logRun(JobExpireProposals, n)
	return err
}

// Reminders queues verification reminders for open windows.
func (j Jobs) Reminders(ctx context.Context) error {
	n, err := j.Engine.SendVerificationReminders(ctx)
	logRun(JobReminders, n)
	return err
}

// ResolveElapsed resolves matches whose verification window closed without
// a device doing it.
func (j Jobs) ResolveElapsed(ctx context.Context) error {
	n, err := j.Engine.ResolveElapsed(ctx)
	logRun(JobResolveElapsed, n)
	return err
}

// NotificationCleanup deletes expired and long-read notifications.
func (j Jobs) NotificationCleanup(ctx context.Context) error {
	n, err := j.Queue.Cleanup(ctx)
	logRun(JobNotificationGC, int(n))
	return err
}

// IdempotencyPurge deletes expired idempotency keys.
func (j Jobs) IdempotencyPurge(ctx context.Context) error {
	n, err := repo.PurgeIdempotency(ctx, j.DB, j.now())
	logRun(JobIdempotencyPurge, int(n))
	return err
}

func (j Jobs) now() time.Time {
	if j.Clock == nil {
		return time.Now().UTC()
	}
	return j.Clock.Now().UTC()
}

func logRun(job string, n int) {
	if n > 0 {
		log.Info().Str("component", "scheduler").Str("job", job).Int("affected", n).Msg("job run")
	}
}

// Scheduler wraps a gocron scheduler configured with the service's jobs.
type Scheduler struct {
	s      gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers every job with its configured interval. Jobs run with a
// context that is cancelled by Shutdown.
func New(j Jobs, cfg config.Config) (*Scheduler, error) {
	opts := []gocron.SchedulerOption{
		gocron.WithLogger(zerologAdapter{}),
		gocron.WithMonitor(monitor{}),
		gocron.WithStopTimeout(10 * time.Second),
	}
	if j.Clock != nil {
		opts = append(opts, gocron.WithClock(j.Clock))
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &Scheduler{s: s, ctx: ctx, cancel: cancel}

	jobs := []struct {
		name  string
		every time.Duration
		run   func(context.Context) error
	}{
		{JobExpireProposals, cfg.Duel.ExpirySweepInterval, j.ExpireProposals},
		{JobReminders, cfg.Duel.ReminderInterval, j.Reminders},
		{JobResolveElapsed, cfg.Duel.ReminderInterval, j.ResolveElapsed},
		{JobNotificationGC, cfg.Notifications.CleanupInterval, j.NotificationCleanup},
		{JobIdempotencyPurge, cfg.Notifications.CleanupInterval, j.IdempotencyPurge},
	}
	for _, job := range jobs {
		run := job.run
		if _, err := s.NewJob(
			gocron.DurationJob(job.every),
			gocron.NewTask(func() error { return run(sc.ctx) }),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
					log.Error().Err(err).Str("component", "scheduler").Str("job", name).Msg("job failed")
				}),
			),
		); err != nil {
			cancel()
			_ = s.Shutdown()
			return nil, fmt.Errorf("register %s: %w", job.name, err)
		}
	}
	return sc, nil
}

// Start begins running jobs. It does not block.
func (sc *Scheduler) Start() { sc.s.Start() }

// Shutdown cancels running jobs and waits for them to stop.
func (sc *Scheduler) Shutdown() error {
	sc.cancel()
	return sc.s.Shutdown()
}

// JobNames returns the names of the registered jobs.
func (sc *Scheduler) JobNames() []string {
	var out []string
	for _, j := range sc.s.Jobs() {
		out = append(out, j.Name())
	}
	return out
}
