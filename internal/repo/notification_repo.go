// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// notification queue.
//
// A notification is "live" while expires_at > now. Only live rows are
// delivered, listed or counted; expired rows stay in the table until the
// cleanup sweep removes them, and only once they are also read.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
)

// FindLiveDuplicate returns a live notification with the same dedup key
// that is undelivered or was delivered at or after deliveredSince. A zero
// deliveredSince matches regardless of delivery. duelID nil matches rows
// without a duel.
func FindLiveDuplicate(ctx context.Context, db *gorm.DB, userID string, typ domain.NotificationType, duelID *string, now, deliveredSince time.Time) (*domain.PendingNotification, error) {
	q := db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND expires_at > ?", userID, typ, now)
	if !deliveredSince.IsZero() {
		q = q.Where("(delivered_at IS NULL OR delivered_at >= ?)", deliveredSince)
	}
	if duelID == nil {
		q = q.Where("duel_id IS NULL")
	} else {
		q = q.Where("duel_id = ?", *duelID)
	}
	var n domain.PendingNotification
	if err := q.Order("created_at desc").First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// LockDedupKey serializes enqueues of the same dedup key across processes
// for the rest of the transaction. It is a no-op on SQLite, whose writers
// are already serialized.
func LockDedupKey(ctx context.Context, tx *gorm.DB, key string) error {
	if !isPostgres(tx) {
		return nil
	}
	return tx.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "notify:"+key).Error
}

// CreateNotification inserts a notification row.
func CreateNotification(ctx context.Context, db *gorm.DB, n *domain.PendingNotification) error {
	return db.WithContext(ctx).Create(n).Error
}

// GetNotification fetches a notification by id.
func GetNotification(ctx context.Context, db *gorm.DB, id string) (*domain.PendingNotification, error) {
	var n domain.PendingNotification
	if err := db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkNotificationDelivered sets delivered_at once. Marking an already
// delivered row is a no-op; a missing row yields ErrNotFound.
func MarkNotificationDelivered(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.PendingNotification{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := GetNotification(ctx, db, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkNotificationsRead marks the user's notifications read. An empty ids
// slice marks all of them. Reading implies delivery.
func MarkNotificationsRead(ctx context.Context, db *gorm.DB, userID string, ids []string, at time.Time) (int64, error) {
	q := db.WithContext(ctx).
		Model(&domain.PendingNotification{}).
		Where("user_id = ? AND is_read = ?", userID, false)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]any{
		"is_read":      true,
		"read_at":      at,
		"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", at),
	})
	return res.RowsAffected, res.Error
}

// CountNotifications returns the number of live notifications for the user.
func CountNotifications(ctx context.Context, db *gorm.DB, userID string, now time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.PendingNotification{}).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Count(&total).Error
	return total, err
}

// ListNotificationsPage returns live notifications, highest priority first.
func ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, now time.Time, offset, limit int) ([]domain.PendingNotification, error) {
	var out []domain.PendingNotification
	err := db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Order("priority desc, created_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListUndelivered returns live, due, undelivered notifications for the user.
func ListUndelivered(ctx context.Context, db *gorm.DB, userID string, now time.Time) ([]domain.PendingNotification, error) {
	var out []domain.PendingNotification
	err := db.WithContext(ctx).
		Where("user_id = ? AND delivered_at IS NULL AND expires_at > ? AND scheduled_for <= ?", userID, now, now).
		Order("priority desc, created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// SummarizeNotifications derives the per-user summary from the live rows.
// Pending challenges are unread challenge notifications; pending submissions
// are distinct duels with an unread match-ended or reminder notification.
func SummarizeNotifications(ctx context.Context, db *gorm.DB, userID string, now time.Time) (domain.NotificationSummary, error) {
	var s domain.NotificationSummary
	live := func() *gorm.DB {
		return db.WithContext(ctx).
			Model(&domain.PendingNotification{}).
			Where("user_id = ? AND expires_at > ?", userID, now)
	}
	if err := live().Count(&s.Total).Error; err != nil {
		return s, err
	}
	if err := live().Where("is_read = ?", false).Count(&s.Unread).Error; err != nil {
		return s, err
	}
	if err := live().
		Where("is_read = ? AND type = ?", false, domain.NotifyDuelChallenge).
		Count(&s.PendingChallenges).Error; err != nil {
		return s, err
	}
	if err := live().
		Where("is_read = ? AND type IN ? AND duel_id IS NOT NULL", false,
			[]domain.NotificationType{domain.NotifyMatchEnded, domain.NotifyVerificationReminder}).
		Distinct("duel_id").
		Count(&s.PendingSubmissions).Error; err != nil {
		return s, err
	}
	return s, nil
}

// NotificationsStats returns the live row count and the latest UpdatedAt for
// the user's notifications, used for ETag generation.
func NotificationsStats(ctx context.Context, db *gorm.DB, userID string, now time.Time) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.PendingNotification{}).
		Where("user_id = ? AND expires_at > ?", userID, now)
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// DeleteReadExpired removes notifications that are both read and expired.
// Unread rows are never deleted.
func DeleteReadExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("is_read = ? AND expires_at <= ?", true, now).
		Delete(&domain.PendingNotification{})
	return res.RowsAffected, res.Error
}

// DeleteReadBefore removes read notifications last touched before cutoff.
func DeleteReadBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("is_read = ? AND read_at < ?", true, cutoff).
		Delete(&domain.PendingNotification{})
	return res.RowsAffected, res.Error
}
