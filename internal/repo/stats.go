// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides player statistics: the per-duel
// outcome ledger behind the Stats Aggregator and small aggregate queries
// used for conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
)

// ApplyOutcome applies a completed duel to both players exactly once.
//
// The ledger row keyed by duel_id is inserted in the same transaction as the
// two stats rows, so a repeated call (or a racing one that loses the insert)
// returns the stored outcome without touching the stats again. applied is
// true only for the call that wrote the ledger row.
//
// Stats rows are locked FOR UPDATE in user-id order on Postgres; SQLite
// serializes writers on its own.
func ApplyOutcome(ctx context.Context, db *gorm.DB, in domain.OutcomeInput) (out *domain.StatsOutcome, applied bool, err error) {
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isPostgres(tx) {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "stats:"+in.DuelID).Error; err != nil {
				return err
			}
		}
		if l, err := GetLedger(ctx, tx, in.DuelID); err == nil {
			out = domain.OutcomeFromLedger(l)
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		rows, err := lockStats(ctx, tx, in.WinnerID, in.LoserID)
		if err != nil {
			return err
		}
		winner, loser := rows[in.WinnerID], rows[in.LoserID]

		ledger := &domain.StatsLedger{
			DuelID:       in.DuelID,
			WinnerID:     in.WinnerID,
			LoserID:      in.LoserID,
			WinnerScore:  in.WinnerScore,
			LoserScore:   in.LoserScore,
			GameType:     in.GameType,
			WinnerBefore: winner.Stats,
			WinnerAfter:  winner.Stats.ApplyWin(in.WinnerScore, in.LoserScore),
			LoserBefore:  loser.Stats,
			LoserAfter:   loser.Stats.ApplyLoss(in.LoserScore, in.WinnerScore),
		}
		if err := tx.Create(ledger).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}

		winner.Stats = ledger.WinnerAfter
		loser.Stats = ledger.LoserAfter
		if err := tx.Save(winner).Error; err != nil {
			return err
		}
		if err := tx.Save(loser).Error; err != nil {
			return err
		}
		out = domain.OutcomeFromLedger(ledger)
		applied = true
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		l, gerr := GetLedger(ctx, db, in.DuelID)
		if gerr != nil {
			return nil, false, gerr
		}
		return domain.OutcomeFromLedger(l), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

// lockStats loads (creating if needed) the stats rows of the given users.
func lockStats(ctx context.Context, tx *gorm.DB, userIDs ...string) (map[string]*domain.PlayerStats, error) {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	out := make(map[string]*domain.PlayerStats, len(ids))
	for _, id := range ids {
		seed := &domain.PlayerStats{UserID: id, Stats: domain.StatsSnapshot{Level: 1}}
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return nil, err
		}
		q := tx.WithContext(ctx)
		if isPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var ps domain.PlayerStats
		if err := q.Where("user_id = ?", id).First(&ps).Error; err != nil {
			return nil, err
		}
		out[id] = &ps
	}
	return out, nil
}

// GetLedger fetches the ledger row for a duel.
func GetLedger(ctx context.Context, db *gorm.DB, duelID string) (*domain.StatsLedger, error) {
	var l domain.StatsLedger
	if err := db.WithContext(ctx).Where("duel_id = ?", duelID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// GetPlayerStats returns a player's aggregate, or a level-1 zero value when
// the player has no completed duels yet.
func GetPlayerStats(ctx context.Context, db *gorm.DB, userID string) (*domain.PlayerStats, error) {
	var ps domain.PlayerStats
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&ps).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.PlayerStats{UserID: userID, Stats: domain.StatsSnapshot{Level: 1}}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

// DuelsStats returns aggregate metadata for a user's duels: the total number
// of rows and the maximum UpdatedAt timestamp among those rows. When the
// user has no duels, the returned count is 0 and maxUpdatedAt is nil.
func DuelsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Duel{}).
		Where("(challenger_id = ? OR opponent_id = ?)", userID, userID)

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
