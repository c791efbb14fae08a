package domain

import "time"

// Submission is one player's verification screenshot for a duel. A player
// has at most one submission per duel (enforced by unique index); a
// resubmission replaces the previous row.
//
// Fields:
//   - ScreenshotRef: object-storage key of the uploaded image.
//   - Score / Confidence / RawResult: the oracle's reading of the screenshot.
//   - VerifiedAt: set only when the oracle's confidence met the threshold.
type Submission struct {
	ID            string     `json:"id"                   gorm:"type:char(36);primaryKey"`
	DuelID        string     `json:"duel_id"              gorm:"type:char(36);not null;uniqueIndex:ux_submission_duel_user,priority:1"`
	UserID        string     `json:"user_id"              gorm:"type:varchar(64);not null;uniqueIndex:ux_submission_duel_user,priority:2"`
	ScreenshotRef string     `json:"screenshot_ref"       gorm:"type:text;not null"`
	Score         *int       `json:"score,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	RawResult     string     `json:"raw_result,omitempty" gorm:"type:text"`
	SubmittedAt   time.Time  `json:"submitted_at"         gorm:"not null"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Duel Duel `json:"-" gorm:"foreignKey:DuelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Submission.
func (Submission) TableName() string { return "submissions" }

// CountsBy reports whether the submission is a verified score received no
// later than deadline.
func (s *Submission) CountsBy(deadline time.Time) bool {
	return s != nil && s.VerifiedAt != nil && s.Score != nil && *s.Score >= 0 &&
		!s.SubmittedAt.After(deadline)
}
