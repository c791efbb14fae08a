// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Duel model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - A missing duel yields ErrNotFound.
//   - UpdateDuel is a compare-and-swap on Version. If the row changed since
//     it was read, ErrConflict is returned and nothing is written.
//   - Other DB errors are propagated as-is.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
)

// CreateDuel inserts a new duel row. The caller assigns ID and timestamps.
func CreateDuel(ctx context.Context, db *gorm.DB, d *domain.Duel) error {
	if d.Version == 0 {
		d.Version = 1
	}
	return db.WithContext(ctx).Create(d).Error
}

// GetDuel fetches a duel by id.
func GetDuel(ctx context.Context, db *gorm.DB, id string) (*domain.Duel, error) {
	var d domain.Duel
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDuel writes every column of d if the stored version still equals
// d.Version. On success d.Version is incremented to the stored value.
func UpdateDuel(ctx context.Context, db *gorm.DB, d *domain.Duel) error {
	expected := d.Version
	next := *d
	next.Version = expected + 1
	res := db.WithContext(ctx).
		Model(&domain.Duel{}).
		Where("id = ? AND version = ?", d.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(&next)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := db.WithContext(ctx).Model(&domain.Duel{}).Where("id = ?", d.ID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	d.Version = next.Version
	d.UpdatedAt = next.UpdatedAt
	return nil
}

// DuelFilter narrows ListDuels. Zero values mean "no restriction".
type DuelFilter struct {
	UserID   string
	Statuses []domain.DuelStatus
}

func (f DuelFilter) apply(q *gorm.DB) *gorm.DB {
	if f.UserID != "" {
		q = q.Where("(challenger_id = ? OR opponent_id = ?)", f.UserID, f.UserID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	return q
}

// CountDuels returns the number of duels matching f.
func CountDuels(ctx context.Context, db *gorm.DB, f DuelFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Duel{})).Count(&total).Error
	return total, err
}

// ListDuelsPage returns duels matching f, newest first.
func ListDuelsPage(ctx context.Context, db *gorm.DB, f DuelFilter, offset, limit int) ([]domain.Duel, error) {
	var out []domain.Duel
	q := f.apply(db.WithContext(ctx)).Order("created_at desc, id asc").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListActiveDuels returns the in-progress duels the user takes part in.
// This is the source of truth for a device's reconciliation pass.
func ListActiveDuels(ctx context.Context, db *gorm.DB, userID string) ([]domain.Duel, error) {
	return ListDuelsPage(ctx, db, DuelFilter{UserID: userID, Statuses: domain.ActiveStatuses}, 0, 0)
}

// ListStaleProposals returns proposed duels whose expiry is at or before now.
func ListStaleProposals(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Duel, error) {
	var out []domain.Duel
	q := db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", domain.StatusProposed, now).
		Order("expires_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListAwaitingVerification returns ended, unresolved matches.
func ListAwaitingVerification(ctx context.Context, db *gorm.DB) ([]domain.Duel, error) {
	var out []domain.Duel
	err := db.WithContext(ctx).
		Where("status = ? AND ended_at IS NOT NULL AND verification_status = ?",
			domain.StatusInProgress, domain.VerificationPending).
		Order("ended_at asc").
		Find(&out).Error
	return out, err
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
