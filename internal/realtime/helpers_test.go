package realtime

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
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const window = 180 * time.Second

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:realtime_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// scoreOracle reads images of the form "<score>/<confidence>".
type scoreOracle struct{}

func (scoreOracle) Verify(_ context.Context, req oracle.Request) (*oracle.Result, error) {
	var score int
	var conf float64
	if _, err := fmt.Sscanf(string(req.Image), "%d/%f", &score, &conf); err != nil {
		return nil, oracle.ErrRejected
	}
	return &oracle.Result{Score: score, Confidence: conf}, nil
}

// capture records published changes until taken.
type capture struct {
	mu      sync.Mutex
	changes []domain.DuelChange
}

func (c *capture) Publish(ch domain.DuelChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *capture) take() []domain.DuelChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.changes
	c.changes = nil
	return out
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.PendingNotification
}

func (a *recordingAlerter) Alert(_ context.Context, n *domain.PendingNotification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, *n)
	return nil
}

func (a *recordingAlerter) Types() []domain.NotificationType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.NotificationType, 0, len(a.alerts))
	for _, n := range a.alerts {
		out = append(out, n.Type)
	}
	return out
}

type fixture struct {
	db     *gorm.DB
	clock  *clockwork.FakeClock
	engine *services.Engine
	queue  *services.NotificationQueue
	pub    *capture
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(t0)
	e := services.NewEngine(db, config.DuelConfig{
		VerificationWindow: window,
		ChallengeTTL:       24 * time.Hour,
		MinConfidence:      0.8,
		OracleMaxTries:     1,
		WriteMaxTries:      3,
	})
	q := services.NewNotificationQueue(db, config.NotificationConfig{
		DedupWindow:   5 * time.Minute,
		ReadRetention: time.Hour,
	}, clock)
	pub := &capture{}
	e.Clock = clock
	e.Oracle = scoreOracle{}
	e.Notify = q
	e.Feed = pub
	e.RetryBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return &fixture{db: db, clock: clock, engine: e, queue: q, pub: pub}
}

func (f *fixture) device(t *testing.T, userID string) (*Reconciler, *recordingAlerter) {
	t.Helper()
	a := &recordingAlerter{}
	r, err := NewReconciler(Options{
		UserID:           userID,
		Duels:            f.engine,
		Queue:            f.queue,
		Alerter:          a,
		Clock:            f.clock,
		ReminderInterval: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}
	t.Cleanup(r.Close)
	return r, a
}

// started returns a duel between alice and bob whose match is running.
func (f *fixture) started(t *testing.T) *domain.Duel {
	t.Helper()
	ctx := context.Background()
	d, err := f.engine.Propose(ctx, services.ProposeInput{
		ChallengerID: "alice", OpponentID: "bob", GameType: "Chess", GameMode: "Blitz",
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := f.engine.Respond(ctx, d.ID, "bob", true); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	d, err = f.engine.StartMatch(ctx, d.ID, "alice")
	if err != nil {
		t.Fatalf("StartMatch: %v", err)
	}
	return d
}

// deliver feeds the captured changes to every reconciler in order.
func deliver(t *testing.T, changes []domain.DuelChange, rs ...*Reconciler) {
	t.Helper()
	for _, c := range changes {
		ev, err := FromChange(c)
		if err != nil {
			t.Fatalf("FromChange: %v", err)
		}
		for _, r := range rs {
			if err := r.OnEvent(context.Background(), ev); err != nil {
				t.Fatalf("OnEvent: %v", err)
			}
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countNotifications(t *testing.T, db *gorm.DB, userID string, typ domain.NotificationType) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.PendingNotification{}).
		Where("user_id = ? AND type = ?", userID, typ).Count(&n).Error; err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	return n
}

func contains(types []domain.NotificationType, want domain.NotificationType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
