// Package services – NotificationQueue
//
// This file implements the Notification Delivery Queue. Every notification is
// persisted first; the persisted row is what other devices and in-app
// surfaces read. A queue may additionally be bound to the user signed in on
// a device (Viewer) together with an Alerter, in which case notifications
// for that user are also raised locally and marked delivered.
//
// Enqueue deduplicates on (user_id, type, duel_id): while a live row with the
// same key is undelivered, or was delivered within DedupWindow, re-enqueuing
// is a no-op. The check and the insert run under one lock so two racing
// callers cannot both pass the check.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/config"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/repo"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Alerter raises an on-device alert. It may fail (for example when the OS
// denied notification permission); the notification then stays queued.
type Alerter interface {
	Alert(ctx context.Context, n *domain.PendingNotification) error
}

// EnqueueRequest describes one notification. Zero Priority and TTL select
// the per-type defaults; a zero ScheduledFor means now.
type EnqueueRequest struct {
	UserID       string
	Type         domain.NotificationType
	Data         domain.NotificationData
	Priority     int
	TTL          time.Duration
	ScheduledFor time.Time

	// Once suppresses the request while any live row with the same key
	// exists, however long ago it was delivered. Used for events that
	// happen once per duel.
	Once bool
}

func (r EnqueueRequest) validate() error {
	if r.UserID == "" {
		return invalidf("user_id", "is required")
	}
	if !r.Type.Valid() {
		return invalidf("type", "%q is not a notification type", r.Type)
	}
	if r.Priority != 0 && (r.Priority < 1 || r.Priority > 10) {
		return invalidf("priority", "must be between 1 and 10")
	}
	if r.TTL < 0 {
		return invalidf("ttl", "must not be negative")
	}
	return nil
}

// DuelNotification builds a request for typ about d, addressed to userID.
func DuelNotification(userID string, typ domain.NotificationType, d *domain.Duel) EnqueueRequest {
	data := domain.NotificationData{
		DuelID:       d.ID,
		ChallengerID: d.ChallengerID,
		OpponentID:   d.OpponentID,
		GameType:     d.GameType,
		GameMode:     d.GameMode,
	}
	if d.WinnerID != nil {
		data.WinnerID = *d.WinnerID
	}
	if typ == domain.NotifyDuelChallenge && d.ChallengeMessage != nil {
		data.Message = *d.ChallengeMessage
	}
	return EnqueueRequest{UserID: userID, Type: typ, Data: data}
}

// NotificationQueue persists, deduplicates and delivers notifications.
type NotificationQueue struct {
	DB    *gorm.DB
	Clock clockwork.Clock

	// DedupWindow is how long a delivered notification keeps suppressing
	// duplicates of its key.
	DedupWindow time.Duration
	// ReadRetention bounds how long read notifications are kept.
	ReadRetention time.Duration

	// Viewer is the user signed in on this device; empty on the server.
	Viewer  string
	Alerter Alerter
}

// NewNotificationQueue returns a server-side queue (no viewer).
func NewNotificationQueue(db *gorm.DB, cfg config.NotificationConfig, clock clockwork.Clock) *NotificationQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &NotificationQueue{
		DB:            db,
		Clock:         clock,
		DedupWindow:   cfg.DedupWindow,
		ReadRetention: cfg.ReadRetention,
	}
}

// ForDevice returns a view of the queue bound to a device's signed-in user.
// Views share storage but never in-memory state.
func (q *NotificationQueue) ForDevice(viewer string, a Alerter) *NotificationQueue {
	v := *q
	v.Viewer = viewer
	v.Alerter = a
	return &v
}

func (q *NotificationQueue) now() time.Time { return q.Clock.Now().UTC() }

// Enqueue persists a notification unless an equivalent one is already
// pending. It returns the stored row (new or existing) and whether it was
// created. Persistence failures are returned to the caller; a failed local
// alert is logged and leaves the row queued.
func (q *NotificationQueue) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.PendingNotification, bool, error) {
	tr := otel.Tracer("services/NotificationQueue")
	ctx, span := tr.Start(ctx, "Enqueue",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID),
			attribute.String("notification.type", string(req.Type)),
			attribute.String("duel.id", req.Data.DuelID),
		),
	)
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, false, err
	}

	now := q.now()
	n := &domain.PendingNotification{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Type:         req.Type,
		Data:         req.Data,
		Priority:     req.Priority,
		ScheduledFor: req.ScheduledFor.UTC(),
	}
	if n.Priority == 0 {
		n.Priority = req.Type.DefaultPriority()
	}
	if n.ScheduledFor.IsZero() {
		n.ScheduledFor = now
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = req.Type.DefaultTTL()
	}
	n.ExpiresAt = n.ScheduledFor.Add(ttl)
	if req.Data.DuelID != "" {
		id := req.Data.DuelID
		n.DuelID = &id
	}

	existing, err := q.insertUnlessDuplicate(ctx, n, now, req.Once)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if existing != nil {
		notificationsDeduplicated.WithLabelValues(string(req.Type)).Inc()
		return existing, false, nil
	}
	notificationsEnqueued.WithLabelValues(string(req.Type)).Inc()

	if q.local(n.UserID) && !n.ScheduledFor.After(now) {
		q.alert(ctx, n)
	}
	return n, true, nil
}

// insertUnlessDuplicate is the atomic check-and-insert. Notifications without
// a duel are never deduplicated.
func (q *NotificationQueue) insertUnlessDuplicate(ctx context.Context, n *domain.PendingNotification, now time.Time, once bool) (*domain.PendingNotification, error) {
	if n.DuelID == nil {
		return nil, repo.CreateNotification(ctx, q.DB, n)
	}
	key := n.UserID + "|" + string(n.Type) + "|" + *n.DuelID
	unlock := dedupLocks.lock(key)
	defer unlock()

	var existing *domain.PendingNotification
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.LockDedupKey(ctx, tx, key); err != nil {
			return err
		}
		since := now.Add(-q.DedupWindow)
		if once {
			since = time.Time{}
		}
		dup, err := repo.FindLiveDuplicate(ctx, tx, n.UserID, n.Type, n.DuelID, now, since)
		if err == nil {
			existing = dup
			return nil
		}
		if !repo.IsNotFound(err) {
			return err
		}
		return repo.CreateNotification(ctx, tx, n)
	})
	return existing, err
}

func (q *NotificationQueue) local(userID string) bool {
	return q.Alerter != nil && q.Viewer != "" && q.Viewer == userID
}

// alert raises n locally and marks it delivered on success.
func (q *NotificationQueue) alert(ctx context.Context, n *domain.PendingNotification) bool {
	if err := q.Alerter.Alert(ctx, n); err != nil {
		notificationAlertFailures.Inc()
		log.Warn().Err(err).
			Str("component", "notifications").
			Str("notification_id", n.ID).
			Str("type", string(n.Type)).
			Msg("local alert failed, notification stays queued")
		return false
	}
	at := q.now()
	if err := repo.MarkNotificationDelivered(ctx, q.DB, n.ID, at); err != nil {
		log.Error().Err(err).Str("component", "notifications").Str("notification_id", n.ID).Msg("mark delivered")
		return false
	}
	n.DeliveredAt = &at
	return true
}

// DeliverPending raises every due, undelivered notification of the viewer
// locally. It returns how many were delivered. Queues without a viewer or
// alerter deliver nothing.
func (q *NotificationQueue) DeliverPending(ctx context.Context) (int, error) {
	if !q.local(q.Viewer) {
		return 0, nil
	}
	tr := otel.Tracer("services/NotificationQueue")
	ctx, span := tr.Start(ctx, "DeliverPending", trace.WithAttributes(attribute.String("user.id", q.Viewer)))
	defer span.End()

	pending, err := repo.ListUndelivered(ctx, q.DB, q.Viewer, q.now())
	if err != nil {
		return 0, err
	}
	delivered := 0
	for i := range pending {
		if q.alert(ctx, &pending[i]) {
			delivered++
		}
	}
	return delivered, nil
}

// MarkDelivered records delivery of a notification. Repeated calls are no-ops.
func (q *NotificationQueue) MarkDelivered(ctx context.Context, id string) error {
	err := repo.MarkNotificationDelivered(ctx, q.DB, id, q.now())
	if repo.IsNotFound(err) {
		return ErrNotificationNotFound
	}
	return err
}

// MarkDeliveredFor is MarkDelivered on behalf of userID, who must own the
// notification.
func (q *NotificationQueue) MarkDeliveredFor(ctx context.Context, userID, id string) error {
	n, err := repo.GetNotification(ctx, q.DB, id)
	if repo.IsNotFound(err) || (err == nil && n.UserID != userID) {
		return ErrNotificationNotFound
	}
	if err != nil {
		return err
	}
	return q.MarkDelivered(ctx, id)
}

// MarkRead marks the given notifications of userID read (all when ids is
// empty) and returns how many changed.
func (q *NotificationQueue) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if userID == "" {
		return 0, invalidf("user_id", "is required")
	}
	return repo.MarkNotificationsRead(ctx, q.DB, userID, ids, q.now())
}

// Summary recomputes the user's counters from the live queue contents.
func (q *NotificationQueue) Summary(ctx context.Context, userID string) (domain.NotificationSummary, error) {
	tr := otel.Tracer("services/NotificationQueue")
	ctx, span := tr.Start(ctx, "Summary", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()
	return repo.SummarizeNotifications(ctx, q.DB, userID, q.now())
}

// ListPage returns a page of the user's live notifications, highest
// priority first, and the live total.
func (q *NotificationQueue) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.PendingNotification, int64, error) {
	tr := otel.Tracer("services/NotificationQueue")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	now := q.now()
	total, err := repo.CountNotifications(ctx, q.DB, userID, now)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.PendingNotification{}, 0, nil
	}
	items, err := repo.ListNotificationsPage(ctx, q.DB, userID, now, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Stats returns the live count and latest update time, for ETags.
func (q *NotificationQueue) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.NotificationsStats(ctx, q.DB, userID, q.now())
}

// Cleanup removes read notifications that expired or outlived the
// retention period. Unread notifications are never removed.
func (q *NotificationQueue) Cleanup(ctx context.Context) (int64, error) {
	now := q.now()
	expired, err := repo.DeleteReadExpired(ctx, q.DB, now)
	if err != nil {
		return 0, err
	}
	if q.ReadRetention <= 0 {
		return expired, nil
	}
	old, err := repo.DeleteReadBefore(ctx, q.DB, now.Add(-q.ReadRetention))
	return expired + old, err
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

var dedupLocks = &keyedMutex{locks: make(map[string]*keyedEntry)}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	e := k.locks[key]
	if e == nil {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
