// Package domain defines the persistence models for duels, screenshot
// submissions, notifications and player statistics. These types are mapped
// with GORM and carry the invariants every layer above relies on.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// DuelStatus is the lifecycle state of a duel.
type DuelStatus string

const (
	StatusProposed   DuelStatus = "proposed"
	StatusAccepted   DuelStatus = "accepted"
	StatusDeclined   DuelStatus = "declined"
	StatusInProgress DuelStatus = "in_progress"
	StatusCompleted  DuelStatus = "completed"
	StatusCancelled  DuelStatus = "cancelled"
	StatusExpired    DuelStatus = "expired"
	StatusDisputed   DuelStatus = "disputed"
)

// IsTerminal reports whether s only admits a post-hoc dispute.
func (s DuelStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s DuelStatus) Valid() bool {
	switch s {
	case StatusProposed, StatusAccepted, StatusDeclined, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusExpired, StatusDisputed:
		return true
	}
	return false
}

// VerificationStatus tracks the screenshot verification of a match result.
type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationVerified  VerificationStatus = "verified"
	VerificationDisputed  VerificationStatus = "disputed"
	VerificationForfeited VerificationStatus = "forfeited"
	VerificationFailed    VerificationStatus = "failed"
)

// VerificationMethod records how the final result was established.
type VerificationMethod string

const (
	MethodOCR       VerificationMethod = "ocr"
	MethodMutual    VerificationMethod = "mutual"
	MethodModerator VerificationMethod = "moderator"
)

// DisputeStatus tracks a contested result.
type DisputeStatus string

const (
	DisputeNone     DisputeStatus = "none"
	DisputePending  DisputeStatus = "pending"
	DisputeResolved DisputeStatus = "resolved"
)

// Duel is a single 1-vs-1 challenge from proposal to completion. The store
// row is the source of truth; Version is bumped on every write and used as a
// compare-and-swap token so concurrent writers never overwrite each other.
type Duel struct {
	ID                 string              `json:"id"                            gorm:"type:char(36);primaryKey"`
	ChallengerID       string              `json:"challenger_id"                 gorm:"type:varchar(64);not null;index:idx_duel_challenger"`
	OpponentID         string              `json:"opponent_id"                   gorm:"type:varchar(64);not null;index:idx_duel_opponent"`
	GameType           string              `json:"game_type"                     gorm:"type:varchar(64);not null"`
	GameMode           string              `json:"game_mode"                     gorm:"type:varchar(64);not null"`
	Status             DuelStatus          `json:"status"                        gorm:"type:varchar(16);not null;index"`
	CreatedAt          time.Time           `json:"created_at"`
	AcceptedAt         *time.Time          `json:"accepted_at,omitempty"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	EndedAt            *time.Time          `json:"ended_at,omitempty"`
	WinnerID           *string             `json:"winner_id,omitempty"           gorm:"type:varchar(64)"`
	LoserID            *string             `json:"loser_id,omitempty"            gorm:"type:varchar(64)"`
	ChallengerScore    *int                `json:"challenger_score,omitempty"`
	OpponentScore      *int                `json:"opponent_score,omitempty"`
	VerificationStatus VerificationStatus  `json:"verification_status"           gorm:"type:varchar(16);not null;default:'pending'"`
	VerificationMethod *VerificationMethod `json:"verification_method,omitempty" gorm:"type:varchar(16)"`
	DisputeStatus      DisputeStatus       `json:"dispute_status"                gorm:"type:varchar(16);not null;default:'none'"`
	DisputeReason      *string             `json:"dispute_reason,omitempty"      gorm:"type:text"`
	ExpiresAt          time.Time           `json:"expires_at"                    gorm:"not null;index"`
	ChallengeMessage   *string             `json:"challenge_message,omitempty"   gorm:"type:text"`
	Version            int                 `json:"version"                       gorm:"not null;default:1"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// TableName returns the database table name for Duel.
func (Duel) TableName() string { return "duels" }

// IsParticipant reports whether userID is the challenger or the opponent.
func (d *Duel) IsParticipant(userID string) bool {
	return userID != "" && (userID == d.ChallengerID || userID == d.OpponentID)
}

// OtherParticipant returns the participant that is not userID.
func (d *Duel) OtherParticipant(userID string) string {
	if userID == d.ChallengerID {
		return d.OpponentID
	}
	return d.ChallengerID
}

// AwaitingVerification reports whether the match has ended and the result
// is still open (no winner, no tie dispute).
func (d *Duel) AwaitingVerification() bool {
	return d.Status == StatusInProgress && d.EndedAt != nil &&
		d.VerificationStatus == VerificationPending
}

// VerificationDeadline returns endedAt + window. The store's endedAt is
// authoritative, so deadlines never depend on the local clock at delivery.
func (d *Duel) VerificationDeadline(window time.Duration) (time.Time, bool) {
	if d.EndedAt == nil {
		return time.Time{}, false
	}
	return d.EndedAt.Add(window), true
}

// Clone returns a deep copy so callers can diff old and new snapshots.
func (d *Duel) Clone() *Duel {
	if d == nil {
		return nil
	}
	c := *d
	c.AcceptedAt = cloneTime(d.AcceptedAt)
	c.StartedAt = cloneTime(d.StartedAt)
	c.EndedAt = cloneTime(d.EndedAt)
	c.WinnerID = cloneString(d.WinnerID)
	c.LoserID = cloneString(d.LoserID)
	c.ChallengerScore = cloneInt(d.ChallengerScore)
	c.OpponentScore = cloneInt(d.OpponentScore)
	c.DisputeReason = cloneString(d.DisputeReason)
	c.ChallengeMessage = cloneString(d.ChallengeMessage)
	if d.VerificationMethod != nil {
		m := *d.VerificationMethod
		c.VerificationMethod = &m
	}
	return &c
}

// ErrInvariant is wrapped by every error returned from Duel.Validate.
var ErrInvariant = errors.New("duel invariant violated")

// Validate checks the row-level invariants of a duel. It mirrors the
// constraints the store enforces server-side.
func (d *Duel) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
	}
	if d.ChallengerID == "" || d.OpponentID == "" {
		return fail("participants must be set")
	}
	if d.ChallengerID == d.OpponentID {
		return fail("challenger and opponent must differ")
	}
	if !d.Status.Valid() {
		return fail("unknown status %q", d.Status)
	}
	if (d.ChallengerScore == nil) != (d.OpponentScore == nil) {
		return fail("scores must be both set or both null")
	}
	if d.ChallengerScore != nil && (*d.ChallengerScore < 0 || *d.OpponentScore < 0) {
		return fail("scores must be non-negative")
	}
	if (d.WinnerID == nil) != (d.LoserID == nil) {
		return fail("winner and loser must be both set or both null")
	}
	if d.WinnerID != nil {
		if *d.WinnerID == *d.LoserID {
			return fail("winner and loser must differ")
		}
		if !d.IsParticipant(*d.WinnerID) || !d.IsParticipant(*d.LoserID) {
			return fail("winner and loser must be participants")
		}
	}
	prev := d.CreatedAt
	for _, step := range []struct {
		name string
		at   *time.Time
	}{
		{"accepted_at", d.AcceptedAt},
		{"started_at", d.StartedAt},
		{"ended_at", d.EndedAt},
	} {
		if step.at == nil {
			continue
		}
		if step.at.Before(prev) {
			return fail("%s precedes an earlier lifecycle timestamp", step.name)
		}
		prev = *step.at
	}
	return nil
}

// ScoreOf returns the recorded score for a participant.
func (d *Duel) ScoreOf(userID string) *int {
	switch userID {
	case d.ChallengerID:
		return d.ChallengerScore
	case d.OpponentID:
		return d.OpponentScore
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
