package repo

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
)

func TestOpenSQLite_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "duels.db")
	db, err := OpenSQLite(path)
	if db != nil || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("db=%v err=%v, want fs.ErrNotExist", db, err)
	}
}

func TestOpen_SQLiteFileIsTunedAndMigrates(t *testing.T) {
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "duels.db"), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if isPostgres(db) {
		t.Fatalf("dialector = %s", db.Dialector.Name())
	}
	if n := sqlDB.Stats().MaxOpenConnections; n != 10 {
		t.Fatalf("MaxOpenConnections = %d", n)
	}

	pragma := func(name string) string {
		var v string
		if err := db.Raw("PRAGMA " + name).Row().Scan(&v); err != nil {
			t.Fatalf("PRAGMA %s: %v", name, err)
		}
		return strings.ToLower(v)
	}
	want := map[string]string{"journal_mode": "wal", "synchronous": "1", "foreign_keys": "1", "busy_timeout": "5000"}
	for name, v := range want {
		if got := pragma(name); got != v {
			t.Errorf("%s = %q, want %q", name, got, v)
		}
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, table := range []string{"duels", "submissions", "pending_notifications", "player_stats", "stats_ledger", "idempotency"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("table %s missing", table)
		}
	}

	// Migrating twice is a no-op.
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()
	d := &domain.Duel{
		ID: "d1", ChallengerID: "alice", OpponentID: "bob", GameType: "Chess", GameMode: "Blitz",
		Status: domain.StatusProposed, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		VerificationStatus: domain.VerificationPending, DisputeStatus: domain.DisputeNone,
	}
	if err := CreateDuel(ctx, db, d); err != nil {
		t.Fatalf("CreateDuel: %v", err)
	}
	got, err := GetDuel(ctx, db, "d1")
	if err != nil || got.OpponentID != "bob" || got.Version != 1 {
		t.Fatalf("GetDuel = %+v, %v", got, err)
	}
}
