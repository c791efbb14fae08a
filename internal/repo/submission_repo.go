// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for screenshot
// submissions.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
)

// UpsertSubmission inserts s or replaces the player's previous submission for
// the same duel. The persisted row (with its original ID) is returned.
func UpsertSubmission(ctx context.Context, db *gorm.DB, s *domain.Submission) (*domain.Submission, error) {
	err := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "duel_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"screenshot_ref", "score", "confidence", "raw_result",
				"submitted_at", "verified_at", "updated_at",
			}),
		}).
		Create(s).Error
	if err != nil {
		return nil, err
	}
	return GetSubmission(ctx, db, s.DuelID, s.UserID)
}

// GetSubmission fetches one player's submission for a duel.
func GetSubmission(ctx context.Context, db *gorm.DB, duelID, userID string) (*domain.Submission, error) {
	var s domain.Submission
	err := db.WithContext(ctx).
		Where("duel_id = ? AND user_id = ?", duelID, userID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSubmissions returns every submission for a duel keyed by user id.
func ListSubmissions(ctx context.Context, db *gorm.DB, duelID string) (map[string]*domain.Submission, error) {
	var rows []domain.Submission
	if err := db.WithContext(ctx).Where("duel_id = ?", duelID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*domain.Submission, len(rows))
	for i := range rows {
		out[rows[i].UserID] = &rows[i]
	}
	return out, nil
}
