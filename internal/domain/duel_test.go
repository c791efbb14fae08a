package domain

import (
	"errors"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func baseDuel() *Duel {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Duel{
		ID:                 "d1",
		ChallengerID:       "alice",
		OpponentID:         "bob",
		GameType:           "Rocket League",
		GameMode:           "1v1",
		Status:             StatusProposed,
		CreatedAt:          now,
		ExpiresAt:          now.Add(24 * time.Hour),
		VerificationStatus: VerificationPending,
		DisputeStatus:      DisputeNone,
		Version:            1,
	}
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Duel{}).TableName():                "duels",
		(Submission{}).TableName():          "submissions",
		(PendingNotification{}).TableName(): "pending_notifications",
		(PlayerStats{}).TableName():         "player_stats",
		(StatsLedger{}).TableName():         "stats_ledger",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestCanTransition_Table(t *testing.T) {
	all := []DuelStatus{StatusProposed, StatusAccepted, StatusDeclined, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusExpired, StatusDisputed}

	legal := map[[2]DuelStatus]bool{
		{StatusProposed, StatusAccepted}:    true,
		{StatusProposed, StatusDeclined}:    true,
		{StatusProposed, StatusCancelled}:   true,
		{StatusProposed, StatusExpired}:     true,
		{StatusAccepted, StatusInProgress}:  true,
		{StatusAccepted, StatusCancelled}:   true,
		{StatusInProgress, StatusCompleted}: true,
		{StatusInProgress, StatusCancelled}: true,
		{StatusInProgress, StatusDisputed}:  true,
		{StatusCompleted, StatusDisputed}:   true,
		{StatusDeclined, StatusDisputed}:    true,
		{StatusCancelled, StatusDisputed}:   true,
		{StatusExpired, StatusDisputed}:     true,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]DuelStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v; want %v", from, to, got, want)
			}
		}
	}
}

func TestDuelStatus_IsTerminal(t *testing.T) {
	for _, s := range []DuelStatus{StatusCompleted, StatusDeclined, StatusCancelled, StatusExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []DuelStatus{StatusProposed, StatusAccepted, StatusInProgress, StatusDisputed} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestDuel_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(d *Duel)
		ok     bool
	}{
		{"valid proposal", func(d *Duel) {}, true},
		{"same participants", func(d *Duel) { d.OpponentID = d.ChallengerID }, false},
		{"missing opponent", func(d *Duel) { d.OpponentID = "" }, false},
		{"unknown status", func(d *Duel) { d.Status = "paused" }, false},
		{"one score only", func(d *Duel) { d.ChallengerScore = ptr(3) }, false},
		{"negative score", func(d *Duel) { d.ChallengerScore, d.OpponentScore = ptr(-1), ptr(2) }, false},
		{"both scores", func(d *Duel) { d.ChallengerScore, d.OpponentScore = ptr(1), ptr(2) }, true},
		{"winner without loser", func(d *Duel) { d.WinnerID = ptr("alice") }, false},
		{"winner equals loser", func(d *Duel) { d.WinnerID, d.LoserID = ptr("alice"), ptr("alice") }, false},
		{"outsider winner", func(d *Duel) { d.WinnerID, d.LoserID = ptr("carol"), ptr("bob") }, false},
		{"winner and loser", func(d *Duel) { d.WinnerID, d.LoserID = ptr("bob"), ptr("alice") }, true},
		{"accepted before created", func(d *Duel) { d.AcceptedAt = ptr(d.CreatedAt.Add(-time.Second)) }, false},
		{"ended before started", func(d *Duel) {
			d.StartedAt = ptr(d.CreatedAt.Add(time.Minute))
			d.EndedAt = ptr(d.CreatedAt.Add(30 * time.Second))
		}, false},
		{"monotonic timestamps", func(d *Duel) {
			d.AcceptedAt = ptr(d.CreatedAt.Add(time.Minute))
			d.StartedAt = ptr(d.CreatedAt.Add(2 * time.Minute))
			d.EndedAt = ptr(d.CreatedAt.Add(3 * time.Minute))
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := baseDuel()
			tc.mutate(d)
			err := d.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvariant) {
				t.Fatalf("expected ErrInvariant, got %v", err)
			}
		})
	}
}

func TestDuel_VerificationDeadline_UsesEndedAt(t *testing.T) {
	d := baseDuel()
	if _, ok := d.VerificationDeadline(180 * time.Second); ok {
		t.Fatalf("no deadline expected before the match ends")
	}
	ended := d.CreatedAt.Add(10 * time.Minute)
	d.EndedAt = &ended
	got, ok := d.VerificationDeadline(180 * time.Second)
	if !ok || !got.Equal(ended.Add(180*time.Second)) {
		t.Fatalf("deadline = %v,%v; want %v", got, ok, ended.Add(180*time.Second))
	}
}

func TestDuel_CloneIsDeep(t *testing.T) {
	d := baseDuel()
	d.ChallengerScore, d.OpponentScore = ptr(3), ptr(4)
	c := d.Clone()
	*c.ChallengerScore = 99
	if *d.ChallengerScore != 3 {
		t.Fatalf("clone shares score pointer with original")
	}
	if (*Duel)(nil).Clone() != nil {
		t.Fatalf("nil clone should be nil")
	}
}

func TestDuel_ParticipantHelpers(t *testing.T) {
	d := baseDuel()
	if !d.IsParticipant("alice") || !d.IsParticipant("bob") || d.IsParticipant("carol") || d.IsParticipant("") {
		t.Fatalf("IsParticipant mismatch")
	}
	if d.OtherParticipant("alice") != "bob" || d.OtherParticipant("bob") != "alice" {
		t.Fatalf("OtherParticipant mismatch")
	}
	d.ChallengerScore, d.OpponentScore = ptr(10), ptr(5)
	if *d.ScoreOf("alice") != 10 || *d.ScoreOf("bob") != 5 || d.ScoreOf("carol") != nil {
		t.Fatalf("ScoreOf mismatch")
	}
}

func TestSubmission_CountsBy(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 12, 3, 0, 0, time.UTC)
	verified := deadline.Add(-time.Minute)
	s := &Submission{Score: ptr(7), SubmittedAt: deadline.Add(-time.Minute), VerifiedAt: &verified}
	if !s.CountsBy(deadline) {
		t.Fatalf("verified in-window submission should count")
	}
	late := *s
	late.SubmittedAt = deadline.Add(time.Second)
	if late.CountsBy(deadline) {
		t.Fatalf("late submission must not count")
	}
	unverified := *s
	unverified.VerifiedAt = nil
	if unverified.CountsBy(deadline) {
		t.Fatalf("unverified submission must not count")
	}
	var none *Submission
	if none.CountsBy(deadline) {
		t.Fatalf("nil submission must not count")
	}
}

func TestMigrations_SubmissionUniqueAndCascade(t *testing.T) {
	db := newTestDB(t)
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&Duel{}, &Submission{}, &PendingNotification{}, &PlayerStats{}, &StatsLedger{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&Submission{}, "ux_submission_duel_user") {
		t.Fatalf("expected unique index ux_submission_duel_user")
	}
	if !m.HasIndex(&PendingNotification{}, "idx_notif_dedup") {
		t.Fatalf("expected index idx_notif_dedup")
	}

	d := baseDuel()
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("insert duel: %v", err)
	}
	now := d.CreatedAt
	s1 := &Submission{ID: "s1", DuelID: d.ID, UserID: "alice", ScreenshotRef: "k1", SubmittedAt: now}
	if err := db.Create(s1).Error; err != nil {
		t.Fatalf("insert submission: %v", err)
	}
	dup := &Submission{ID: "s2", DuelID: d.ID, UserID: "alice", ScreenshotRef: "k2", SubmittedAt: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation for second (duel,user) submission")
	}

	if err := db.Delete(&Duel{}, "id = ?", d.ID).Error; err != nil {
		t.Fatalf("delete duel: %v", err)
	}
	var cnt int64
	db.Model(&Submission{}).Where("duel_id = ?", d.ID).Count(&cnt)
	if cnt != 0 {
		t.Fatalf("expected submissions to cascade-delete, got %d", cnt)
	}
}
