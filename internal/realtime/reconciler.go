package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
)

// DuelSource is the slice of the lifecycle engine a device needs. The store
// behind it is the source of truth; local records are only a cache.
type DuelSource interface {
	Get(ctx context.Context, id string) (*domain.Duel, error)
	ListActive(ctx context.Context, userID string) ([]domain.Duel, error)
	Submissions(ctx context.Context, duelID string) (map[string]*domain.Submission, error)
	Deadline(d *domain.Duel) (time.Time, bool)
	Resolve(ctx context.Context, duelID string) (*services.Outcome, error)
}

// ActiveMatchRecord is a device's cached view of one duel in progress.
type ActiveMatchRecord struct {
	DuelID     string
	OpponentID string
	Status     domain.DuelStatus
	Version    int
	EndedAt    *time.Time
	// Deadline is the verification deadline; zero while the match is
	// running or once its result is no longer open.
	Deadline time.Time

	startedNotified bool
	endedNotified   bool
	deadlineTimer   clockwork.Timer
	reminderTimer   clockwork.Timer
}

// Options configures a Reconciler.
type Options struct {
	UserID string
	Duels  DuelSource
	// Queue is the shared notification queue; the reconciler works on its
	// own device view of it.
	Queue            *services.NotificationQueue
	Alerter          services.Alerter
	Clock            clockwork.Clock
	ReminderInterval time.Duration
}

// Reconciler applies change events for one device session. Each instance
// has its own device id, records, timers and notification view; nothing is
// shared between devices except the stores.
//
// Events, timer callbacks and reconciliation passes are serialized by one
// mutex.
type Reconciler struct {
	DeviceID string
	UserID   string

	duels    DuelSource
	notify   *services.NotificationQueue
	clock    clockwork.Clock
	interval time.Duration
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	passes singleflight.Group

	mu       sync.Mutex
	up       bool
	records  map[string]*ActiveMatchRecord
	versions map[string]int
	dropped  int
}

// NewReconciler returns a reconciler for a new device session. It starts
// down; call OnConnect once the subscription is live.
func NewReconciler(opts Options) (*Reconciler, error) {
	if opts.UserID == "" || opts.Duels == nil || opts.Queue == nil {
		return nil, errors.New("realtime: UserID, Duels and Queue are required")
	}
	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := opts.ReminderInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		DeviceID: id,
		UserID:   opts.UserID,
		duels:    opts.Duels,
		notify:   opts.Queue.ForDevice(opts.UserID, opts.Alerter),
		clock:    clock,
		interval: interval,
		log:      log.With().Str("component", "realtime").Str("device_id", id).Str("user_id", opts.UserID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		records:  make(map[string]*ActiveMatchRecord),
		versions: make(map[string]int),
	}, nil
}

// ---------- subscription lifecycle ----------

// OnConnect marks the subscription up and runs a full reconciliation pass.
// Concurrent calls share one pass.
func (r *Reconciler) OnConnect(ctx context.Context) error {
	r.mu.Lock()
	r.up = true
	r.mu.Unlock()

	_, err, _ := r.passes.Do("reconcile", func() (any, error) {
		return nil, r.reconcile(ctx)
	})
	if err != nil {
		reconciliations.WithLabelValues("error").Inc()
		return err
	}
	reconciliations.WithLabelValues("ok").Inc()
	return nil
}

// OnDisconnect marks the subscription down. Events received until the
// next OnConnect are discarded.
func (r *Reconciler) OnDisconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.up {
		r.log.Info().Msg("subscription down")
	}
	r.up = false
}

// OnEvent applies one change event. It does nothing while the subscription
// is down, and ignores events older than what was already applied.
func (r *Reconciler) OnEvent(ctx context.Context, ev Event) error {
	d := ev.Duel()
	if d == nil {
		return nil
	}

	r.mu.Lock()
	if !r.up {
		r.dropped++
		r.mu.Unlock()
		eventsDropped.Inc()
		return nil
	}
	if !d.IsParticipant(r.UserID) {
		r.mu.Unlock()
		return nil
	}
	if d.Version <= r.versions[d.ID] {
		r.mu.Unlock()
		eventsStale.Inc()
		return nil
	}
	switch ev.(type) {
	case InsertEvent:
		eventsReceived.WithLabelValues("insert").Inc()
	case UpdateEvent:
		eventsReceived.WithLabelValues("update").Inc()
	}
	r.versions[d.ID] = d.Version
	err := r.apply(ctx, d)
	r.mu.Unlock()

	r.deliver(ctx)
	return err
}

// reconcile rebuilds the records from the store's active duels, re-arms
// timers, resolves windows that elapsed while offline and raises every
// undelivered notification of the user.
func (r *Reconciler) reconcile(ctx context.Context) error {
	active, err := r.duels.ListActive(ctx, r.UserID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	seen := make(map[string]bool, len(active))
	var errs []error
	for i := range active {
		d := &active[i]
		seen[d.ID] = true
		if d.Version < r.versions[d.ID] {
			continue
		}
		r.versions[d.ID] = d.Version
		if err := r.apply(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	for id := range r.records {
		if !seen[id] {
			r.drop(id)
		}
	}
	now := r.clock.Now().UTC()
	for _, id := range r.recordIDs() {
		rec := r.records[id]
		if rec != nil && !rec.Deadline.IsZero() && !now.Before(rec.Deadline) {
			r.resolve(ctx, id)
		}
	}
	n := len(r.records)
	r.mu.Unlock()

	r.deliver(ctx)
	r.log.Debug().Int("active", n).Msg("reconciled")
	return errors.Join(errs...)
}

// ---------- dispatch ----------

// apply moves the record of d to d's state and runs the side effects of
// entering that state. r.mu must be held.
func (r *Reconciler) apply(ctx context.Context, d *domain.Duel) error {
	if d.Status != domain.StatusInProgress {
		r.drop(d.ID)
		return nil
	}

	rec := r.records[d.ID]
	if rec == nil {
		rec = &ActiveMatchRecord{DuelID: d.ID, OpponentID: d.OtherParticipant(r.UserID)}
		r.records[d.ID] = rec
	}
	rec.Status = d.Status
	rec.Version = d.Version
	rec.EndedAt = d.EndedAt

	switch {
	case d.EndedAt == nil:
		if rec.startedNotified {
			return nil
		}
		rec.startedNotified = true
		req := services.DuelNotification(r.UserID, domain.NotifyMatchStarted, d)
		req.Once = true
		return r.enqueue(ctx, req)

	case d.AwaitingVerification():
		deadline, _ := r.duels.Deadline(d)
		if !deadline.Equal(rec.Deadline) {
			r.stopTimers(rec)
			rec.Deadline = deadline
		}
		r.armTimers(rec)
		if rec.endedNotified {
			return nil
		}
		rec.endedNotified = true
		req := services.DuelNotification(r.UserID, domain.NotifyMatchEnded, d)
		req.Once = true
		return r.enqueue(ctx, req)

	default:
		// Ended with the result taken out of verification (a tie waiting
		// for review). Keep monitoring without timers.
		r.stopTimers(rec)
		rec.Deadline = time.Time{}
		return nil
	}
}

func (r *Reconciler) enqueue(ctx context.Context, req services.EnqueueRequest) error {
	_, _, err := r.notify.Enqueue(ctx, req)
	if err != nil {
		r.log.Error().Err(err).Str("duel_id", req.Data.DuelID).Str("type", string(req.Type)).Msg("enqueue notification")
	}
	return err
}

// deliver raises persisted notifications that are still undelivered.
func (r *Reconciler) deliver(ctx context.Context) {
	if _, err := r.notify.DeliverPending(ctx); err != nil {
		r.log.Warn().Err(err).Msg("deliver pending notifications")
	}
}

// drop stops monitoring a duel. r.mu must be held.
func (r *Reconciler) drop(id string) {
	if rec := r.records[id]; rec != nil {
		r.stopTimers(rec)
		delete(r.records, id)
	}
}

// ---------- timers ----------

// armTimers schedules the deadline and reminder timers unless they are
// already running. r.mu must be held.
func (r *Reconciler) armTimers(rec *ActiveMatchRecord) {
	id := rec.DuelID
	if rec.deadlineTimer == nil {
		wait := rec.Deadline.Sub(r.clock.Now())
		if wait < 0 {
			wait = 0
		}
		rec.deadlineTimer = r.clock.AfterFunc(wait, func() { r.onDeadline(id) })
	}
	if rec.reminderTimer == nil {
		rec.reminderTimer = r.clock.AfterFunc(r.interval, func() { r.onReminder(id) })
	}
}

func (r *Reconciler) stopTimers(rec *ActiveMatchRecord) {
	if rec.deadlineTimer != nil {
		rec.deadlineTimer.Stop()
		rec.deadlineTimer = nil
	}
	if rec.reminderTimer != nil {
		rec.reminderTimer.Stop()
		rec.reminderTimer = nil
	}
}

// onDeadline resolves the duel once its verification window has closed.
func (r *Reconciler) onDeadline(id string) {
	if r.ctx.Err() != nil {
		return
	}
	r.mu.Lock()
	if rec := r.records[id]; rec != nil {
		rec.deadlineTimer = nil
		r.resolve(r.ctx, id)
	}
	r.mu.Unlock()
	r.deliver(r.ctx)
}

// resolve re-reads the duel and resolves it if it is still awaiting
// verification. r.mu must be held.
func (r *Reconciler) resolve(ctx context.Context, id string) {
	d, err := r.duels.Get(ctx, id)
	if err != nil {
		r.log.Warn().Err(err).Str("duel_id", id).Msg("re-check duel at deadline")
		r.retryLater(id)
		return
	}
	if !d.AwaitingVerification() {
		r.observe(ctx, d)
		return
	}

	out, err := r.duels.Resolve(ctx, id)
	switch {
	case errors.Is(err, services.ErrNotReady):
		// The store's clock has not reached the deadline yet.
		r.retryLater(id)
		return
	case err != nil:
		r.log.Error().Err(err).Str("duel_id", id).Msg("resolve at deadline")
		r.retryLater(id)
		return
	}
	r.observe(ctx, out.Duel)
}

// observe applies a row read from the store unless a newer one was seen.
// r.mu must be held.
func (r *Reconciler) observe(ctx context.Context, d *domain.Duel) {
	if d.Version < r.versions[d.ID] {
		return
	}
	r.versions[d.ID] = d.Version
	_ = r.apply(ctx, d)
}

// retryLater re-arms the deadline timer one reminder interval out.
// r.mu must be held.
func (r *Reconciler) retryLater(id string) {
	rec := r.records[id]
	if rec == nil || rec.deadlineTimer != nil {
		return
	}
	rec.deadlineTimer = r.clock.AfterFunc(r.interval, func() { r.onDeadline(id) })
}

// onReminder reminds the user to submit while the window is open and the
// user has no counting submission. It re-arms itself until the deadline.
func (r *Reconciler) onReminder(id string) {
	if r.ctx.Err() != nil {
		return
	}
	ctx := r.ctx

	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[id]
	if rec == nil {
		return
	}
	rec.reminderTimer = nil

	d, err := r.duels.Get(ctx, id)
	if err != nil {
		r.log.Warn().Err(err).Str("duel_id", id).Msg("re-check duel for reminder")
		rec.reminderTimer = r.clock.AfterFunc(r.interval, func() { r.onReminder(id) })
		return
	}
	if !d.AwaitingVerification() {
		r.observe(ctx, d)
		return
	}
	now := r.clock.Now().UTC()
	deadline, _ := r.duels.Deadline(d)
	if !now.Before(deadline) {
		return
	}
	subs, err := r.duels.Submissions(ctx, id)
	if err != nil {
		r.log.Warn().Err(err).Str("duel_id", id).Msg("load submissions for reminder")
	} else if !subs[r.UserID].CountsBy(deadline) {
		req := services.DuelNotification(r.UserID, domain.NotifyVerificationReminder, d)
		req.TTL = deadline.Sub(now)
		_ = r.enqueue(ctx, req)
	}
	if deadline.Sub(now) > r.interval {
		rec.reminderTimer = r.clock.AfterFunc(r.interval, func() { r.onReminder(id) })
	}
}

// ---------- inspection ----------

// Records returns a copy of the current records ordered by duel id.
func (r *Reconciler) Records() []ActiveMatchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActiveMatchRecord, 0, len(r.records))
	for _, id := range r.recordIDs() {
		rec := *r.records[id]
		rec.deadlineTimer, rec.reminderTimer = nil, nil
		out = append(out, rec)
	}
	return out
}

// Up reports whether the subscription is currently marked live.
func (r *Reconciler) Up() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.up
}

// Dropped returns how many events were discarded while down.
func (r *Reconciler) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops every timer. The reconciler must not be used afterwards.
func (r *Reconciler) Close() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		r.stopTimers(rec)
	}
	r.up = false
}

func (r *Reconciler) recordIDs() []string {
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
