package domain

import "time"

// NotificationType identifies the user-facing event a notification reports.
type NotificationType string

const (
	NotifyDuelChallenge        NotificationType = "duel_challenge"
	NotifyDuelAccepted         NotificationType = "duel_accepted"
	NotifyDuelDeclined         NotificationType = "duel_declined"
	NotifyMatchStarted         NotificationType = "match_started"
	NotifyMatchEnded           NotificationType = "match_ended"
	NotifyVerificationReminder NotificationType = "verification_reminder"
	NotifyVerificationSuccess  NotificationType = "verification_success"
	NotifyVerificationFailed   NotificationType = "verification_failed"
	NotifyDuelForfeited        NotificationType = "duel_forfeited"
	NotifyDuelExpired          NotificationType = "duel_expired"
	NotifyDispute              NotificationType = "dispute"
	NotifyLevelUp              NotificationType = "level_up"
	NotifyAchievement          NotificationType = "achievement"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	_, ok := notificationDefaults[t]
	return ok
}

type notificationDefault struct {
	priority int
	ttl      time.Duration
}

var notificationDefaults = map[NotificationType]notificationDefault{
	NotifyDuelChallenge:        {priority: 8, ttl: 24 * time.Hour},
	NotifyDuelAccepted:         {priority: 7, ttl: 24 * time.Hour},
	NotifyDuelDeclined:         {priority: 5, ttl: 24 * time.Hour},
	NotifyMatchStarted:         {priority: 7, ttl: time.Hour},
	NotifyMatchEnded:           {priority: 9, ttl: 10 * time.Minute},
	NotifyVerificationReminder: {priority: 10, ttl: 3 * time.Minute},
	NotifyVerificationSuccess:  {priority: 6, ttl: 7 * 24 * time.Hour},
	NotifyVerificationFailed:   {priority: 8, ttl: 7 * 24 * time.Hour},
	NotifyDuelForfeited:        {priority: 7, ttl: 7 * 24 * time.Hour},
	NotifyDuelExpired:          {priority: 3, ttl: 24 * time.Hour},
	NotifyDispute:              {priority: 8, ttl: 7 * 24 * time.Hour},
	NotifyLevelUp:              {priority: 4, ttl: 7 * 24 * time.Hour},
	NotifyAchievement:          {priority: 4, ttl: 7 * 24 * time.Hour},
}

// DefaultPriority returns the priority used when the caller passes none.
func (t NotificationType) DefaultPriority() int {
	if d, ok := notificationDefaults[t]; ok {
		return d.priority
	}
	return 5
}

// DefaultTTL returns the lifetime used when the caller passes none.
func (t NotificationType) DefaultTTL() time.Duration {
	if d, ok := notificationDefaults[t]; ok {
		return d.ttl
	}
	return 24 * time.Hour
}

// NotificationData is the structured payload of a notification. Only the
// fields relevant to the notification type are set.
type NotificationData struct {
	DuelID       string `json:"duel_id,omitempty"`
	ChallengerID string `json:"challenger_id,omitempty"`
	OpponentID   string `json:"opponent_id,omitempty"`
	GameType     string `json:"game_type,omitempty"`
	GameMode     string `json:"game_mode,omitempty"`
	WinnerID     string `json:"winner_id,omitempty"`
	Message      string `json:"message,omitempty"`
	Level        int    `json:"level,omitempty"`
	Achievement  string `json:"achievement,omitempty"`
}

// PendingNotification is a notification queued for a user. Rows are kept
// until read and expired; a row is never deleted while unread.
//
// DuelID duplicates Data.DuelID in an indexed column so the
// (user_id, type, duel_id) dedup lookup is a single index probe.
type PendingNotification struct {
	ID           string           `json:"id"                     gorm:"type:char(36);primaryKey"`
	UserID       string           `json:"user_id"                gorm:"type:varchar(64);not null;index:idx_notif_dedup,priority:1"`
	Type         NotificationType `json:"type"                   gorm:"type:varchar(32);not null;index:idx_notif_dedup,priority:2"`
	DuelID       *string          `json:"duel_id,omitempty"      gorm:"type:char(36);index:idx_notif_dedup,priority:3"`
	Data         NotificationData `json:"data"                   gorm:"type:text;serializer:json"`
	Priority     int              `json:"priority"               gorm:"not null;check:priority BETWEEN 1 AND 10"`
	ScheduledFor time.Time        `json:"scheduled_for"          gorm:"not null"`
	ExpiresAt    time.Time        `json:"expires_at"             gorm:"not null;index"`
	IsRead       bool             `json:"is_read"                gorm:"not null;default:false"`
	DeliveredAt  *time.Time       `json:"delivered_at,omitempty"`
	ReadAt       *time.Time       `json:"read_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TableName returns the database table name for PendingNotification.
func (PendingNotification) TableName() string { return "pending_notifications" }

// Expired reports whether the notification is past its expiry at now.
func (n *PendingNotification) Expired(now time.Time) bool {
	return !now.Before(n.ExpiresAt)
}

// NotificationSummary is derived from the queue on every call; no counters
// are maintained separately.
type NotificationSummary struct {
	Total              int64 `json:"total"`
	Unread             int64 `json:"unread"`
	PendingChallenges  int64 `json:"pending_challenges"`
	PendingSubmissions int64 `json:"pending_submissions"`
}
