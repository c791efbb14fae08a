package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/config"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/oracle"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/repo"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/storage"
)

// ---------- test helpers ----------

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:duelsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	// One connection keeps the shared in-memory database from reporting
	// table locks under concurrent tests.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeOracle reads images of the form "<score>/<confidence>". The images
// "reject" and "down" map to the matching oracle errors, and the first
// failFirst calls report the oracle unavailable.
type fakeOracle struct {
	mu        sync.Mutex
	calls     int
	failFirst int
}

func (f *fakeOracle) Verify(_ context.Context, req oracle.Request) (*oracle.Result, error) {
	f.mu.Lock()
	f.calls++
	failing := f.calls <= f.failFirst
	f.mu.Unlock()

	img := string(req.Image)
	switch {
	case img == "reject":
		return nil, oracle.ErrRejected
	case img == "down", failing:
		return nil, oracle.ErrUnavailable
	}
	var score int
	var conf float64
	if _, err := fmt.Sscanf(img, "%d/%f", &score, &conf); err != nil {
		return nil, oracle.ErrRejected
	}
	return &oracle.Result{Score: score, Confidence: conf, Raw: img}, nil
}

func (f *fakeOracle) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []domain.DuelChange
}

func (p *recordingPublisher) Publish(c domain.DuelChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
}

func (p *recordingPublisher) All() []domain.DuelChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.DuelChange(nil), p.changes...)
}

// countingStats counts ApplyOutcome calls on top of the ledger aggregator.
// failNext, when set, is returned by the next call instead of applying.
type countingStats struct {
	*LedgerStats
	mu       sync.Mutex
	calls    int
	failNext error
}

func (c *countingStats) ApplyOutcome(ctx context.Context, in domain.OutcomeInput) (*domain.StatsOutcome, error) {
	c.mu.Lock()
	c.calls++
	err := c.failNext
	c.failNext = nil
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.LedgerStats.ApplyOutcome(ctx, in)
}

func (c *countingStats) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type engineFixture struct {
	*Engine
	db     *gorm.DB
	clock  *clockwork.FakeClock
	oracle *fakeOracle
	feed   *recordingPublisher
	stats  *countingStats
	shots  *storage.Memory
}

func newEngine(t *testing.T) *engineFixture {
	t.Helper()
	db := newSvcDB(t)
	clock := clockwork.NewFakeClockAt(t0)

	e := NewEngine(db, config.DuelConfig{
		VerificationWindow: 180 * time.Second,
		ChallengeTTL:       24 * time.Hour,
		MinConfidence:      0.8,
		OracleMaxTries:     3,
		WriteMaxTries:      5,
	})
	f := &engineFixture{
		Engine: e,
		db:     db,
		clock:  clock,
		oracle: &fakeOracle{},
		feed:   &recordingPublisher{},
		stats:  &countingStats{LedgerStats: &LedgerStats{DB: db}},
		shots:  storage.NewMemory(),
	}
	e.Clock = clock
	e.Oracle = f.oracle
	e.Feed = f.feed
	e.Stats = f.stats
	e.Screenshots = f.shots
	e.Notify = NewNotificationQueue(db, config.NotificationConfig{
		DedupWindow:   5 * time.Minute,
		ReadRetention: 7 * 24 * time.Hour,
	}, clock)
	e.RetryBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return f
}

func (f *engineFixture) propose(t *testing.T) *domain.Duel {
	t.Helper()
	d, err := f.Propose(context.Background(), ProposeInput{
		ChallengerID: "alice", OpponentID: "bob", GameType: "Chess", GameMode: "Blitz",
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	return d
}

// ended returns a duel whose match has just ended.
func (f *engineFixture) ended(t *testing.T) *domain.Duel {
	t.Helper()
	ctx := context.Background()
	d := f.propose(t)
	f.clock.Advance(time.Minute)
	if _, err := f.Respond(ctx, d.ID, "bob", true); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	f.clock.Advance(time.Minute)
	if _, err := f.StartMatch(ctx, d.ID, "alice"); err != nil {
		t.Fatalf("StartMatch: %v", err)
	}
	f.clock.Advance(10 * time.Minute)
	d, err := f.EndMatch(ctx, d.ID, "bob")
	if err != nil {
		t.Fatalf("EndMatch: %v", err)
	}
	return d
}

func (f *engineFixture) submit(t *testing.T, duelID, userID, image string) (*domain.Submission, error) {
	t.Helper()
	return f.SubmitScreenshot(context.Background(), SubmitInput{
		DuelID: duelID, UserID: userID, Image: []byte(image), ContentType: "image/png",
	})
}

func notificationsOf(t *testing.T, db *gorm.DB, userID string, typ domain.NotificationType) []domain.PendingNotification {
	t.Helper()
	var out []domain.PendingNotification
	if err := db.Where("user_id = ? AND type = ?", userID, typ).Find(&out).Error; err != nil {
		t.Fatalf("load notifications: %v", err)
	}
	return out
}
