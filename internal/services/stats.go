package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/repo"
)

// StatsAggregator applies one completed duel to both players' statistics.
// ApplyOutcome must be idempotent per duel id: repeat calls return the
// after-state of the first successful call without applying again.
type StatsAggregator interface {
	ApplyOutcome(ctx context.Context, in domain.OutcomeInput) (*domain.StatsOutcome, error)
	// Outcome returns the stored outcome of a duel, or nil if none was applied.
	Outcome(ctx context.Context, duelID string) (*domain.StatsOutcome, error)
}

// LedgerStats is the StatsAggregator backed by the stats ledger table.
type LedgerStats struct {
	DB *gorm.DB
}

// ApplyOutcome implements StatsAggregator.
func (s *LedgerStats) ApplyOutcome(ctx context.Context, in domain.OutcomeInput) (*domain.StatsOutcome, error) {
	out, applied, err := repo.ApplyOutcome(ctx, s.DB, in)
	if err != nil {
		return nil, err
	}
	if applied {
		statsApplied.Inc()
	}
	return out, nil
}

// Outcome implements StatsAggregator.
func (s *LedgerStats) Outcome(ctx context.Context, duelID string) (*domain.StatsOutcome, error) {
	l, err := repo.GetLedger(ctx, s.DB, duelID)
	if repo.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return domain.OutcomeFromLedger(l), nil
}

// PlayerStats returns a player's aggregate statistics.
func (s *LedgerStats) PlayerStats(ctx context.Context, userID string) (*domain.PlayerStats, error) {
	if userID == "" {
		return nil, invalidf("user_id", "is required")
	}
	return repo.GetPlayerStats(ctx, s.DB, userID)
}

// achievementFor names the milestone reached by a winning change, if any.
func achievementFor(c domain.StatsChange) string {
	if c.After.Wins == 1 && c.Before.Wins == 0 {
		return "first_win"
	}
	switch c.After.CurrentStreak {
	case 3:
		return "win_streak_3"
	case 5:
		return "win_streak_5"
	case 10:
		return "win_streak_10"
	}
	return ""
}
