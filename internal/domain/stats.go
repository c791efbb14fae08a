package domain

import "time"

// XP awarded per outcome and the XP width of one level.
const (
	WinXP      = 100
	LossXP     = 25
	XPPerLevel = 500
)

// StatsSnapshot is the statistical state of one player at a point in time.
type StatsSnapshot struct {
	Wins          int `json:"wins"`
	Losses        int `json:"losses"`
	TotalDuels    int `json:"total_duels"`
	CurrentStreak int `json:"current_streak"`
	BestStreak    int `json:"best_streak"`
	PointsFor     int `json:"points_for"`
	PointsAgainst int `json:"points_against"`
	XP            int `json:"xp"`
	Level         int `json:"level"`
}

// LevelForXP maps accumulated XP to a level (1-based).
func LevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return xp/XPPerLevel + 1
}

// PlayerStats is the per-user aggregate row updated by the stats aggregator.
type PlayerStats struct {
	UserID    string        `json:"user_id" gorm:"type:varchar(64);primaryKey"`
	Stats     StatsSnapshot `json:"stats"   gorm:"embedded"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TableName returns the database table name for PlayerStats.
func (PlayerStats) TableName() string { return "player_stats" }

// StatsLedger records that a duel's outcome was applied, keyed by duel_id.
// Its primary key is the exactly-once guard: a second application for the
// same duel finds the row and returns the stored after-state instead of
// applying again.
type StatsLedger struct {
	DuelID       string        `gorm:"type:char(36);primaryKey"`
	WinnerID     string        `gorm:"type:varchar(64);not null"`
	LoserID      string        `gorm:"type:varchar(64);not null"`
	WinnerScore  int           `gorm:"not null"`
	LoserScore   int           `gorm:"not null"`
	GameType     string        `gorm:"type:varchar(64);not null"`
	WinnerBefore StatsSnapshot `gorm:"embedded;embeddedPrefix:winner_before_"`
	WinnerAfter  StatsSnapshot `gorm:"embedded;embeddedPrefix:winner_after_"`
	LoserBefore  StatsSnapshot `gorm:"embedded;embeddedPrefix:loser_before_"`
	LoserAfter   StatsSnapshot `gorm:"embedded;embeddedPrefix:loser_after_"`
	CreatedAt    time.Time     `gorm:"not null;autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (StatsLedger) TableName() string { return "stats_ledger" }

// OutcomeInput is the request to apply one completed duel to both players.
type OutcomeInput struct {
	DuelID      string
	WinnerID    string
	LoserID     string
	WinnerScore int
	LoserScore  int
	GameType    string
}

// StatsChange is a before/after pair for one player.
type StatsChange struct {
	UserID string        `json:"user_id"`
	Before StatsSnapshot `json:"before"`
	After  StatsSnapshot `json:"after"`
}

// LeveledUp reports whether the change crossed a level boundary.
func (c StatsChange) LeveledUp() bool { return c.After.Level > c.Before.Level }

// StatsOutcome is the aggregator's result for one duel.
type StatsOutcome struct {
	DuelID string      `json:"duel_id"`
	Winner StatsChange `json:"winner"`
	Loser  StatsChange `json:"loser"`
}

// OutcomeFromLedger rebuilds the aggregator result from a ledger row.
func OutcomeFromLedger(l *StatsLedger) *StatsOutcome {
	return &StatsOutcome{
		DuelID: l.DuelID,
		Winner: StatsChange{UserID: l.WinnerID, Before: l.WinnerBefore, After: l.WinnerAfter},
		Loser:  StatsChange{UserID: l.LoserID, Before: l.LoserBefore, After: l.LoserAfter},
	}
}

// ApplyWin returns s after a win scored for-against.
func (s StatsSnapshot) ApplyWin(pointsFor, pointsAgainst int) StatsSnapshot {
	s.Wins++
	s.TotalDuels++
	s.CurrentStreak++
	if s.CurrentStreak > s.BestStreak {
		s.BestStreak = s.CurrentStreak
	}
	s.PointsFor += pointsFor
	s.PointsAgainst += pointsAgainst
	s.XP += WinXP
	s.Level = LevelForXP(s.XP)
	return s
}

// ApplyLoss returns s after a loss scored for-against.
func (s StatsSnapshot) ApplyLoss(pointsFor, pointsAgainst int) StatsSnapshot {
	s.Losses++
	s.TotalDuels++
	s.CurrentStreak = 0
	s.PointsFor += pointsFor
	s.PointsAgainst += pointsAgainst
	s.XP += LossXP
	s.Level = LevelForXP(s.XP)
	return s
}
