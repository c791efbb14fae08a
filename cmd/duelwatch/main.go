// Command duelwatch runs one device session against a duel service: it
// subscribes to the realtime feed as WATCH_USER_ID, keeps the active match
// records reconciled against the shared duel store, and logs every alert
// the device would raise.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/config"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/realtime"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/repo"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/sysutil"
)

var version = "dev"

type watchConfig struct {
	UserID string `env:"WATCH_USER_ID,required"`
	URL    string `env:"WATCH_REALTIME_URL" envDefault:"ws://localhost:8080/api/v1/realtime"`
}

// logAlerter stands in for the OS notification center.
type logAlerter struct{}

func (logAlerter) Alert(_ context.Context, n *domain.PendingNotification) error {
	log.Info().
		Str("component", "alert").
		Str("type", string(n.Type)).
		Str("notification_id", n.ID).
		Int("priority", n.Priority).
		Str("duel_id", n.Data.DuelID).
		Msg("notification")
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := sysutil.LoadDotEnv(); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	wc, err := env.ParseAs[watchConfig]()
	if err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	sysutil.SetupLogging(nil, cfg.LogLevel, cfg.LogPretty, "duelwatch", version)

	db, err := repo.Open(cfg.DB.Driver, cfg.DB.Path, cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	queue := services.NewNotificationQueue(db, cfg.Notifications, nil)
	engine := services.NewEngine(db, cfg.Duel)
	engine.Notify = queue

	rec, err := realtime.NewReconciler(realtime.Options{
		UserID:           wc.UserID,
		Duels:            engine,
		Queue:            queue,
		Alerter:          logAlerter{},
		ReminderInterval: cfg.Duel.ReminderInterval,
	})
	if err != nil {
		return err
	}
	defer rec.Close()

	log.Info().Str("user_id", wc.UserID).Str("device_id", rec.DeviceID).Str("url", wc.URL).Msg("watching")
	return realtime.NewSession(realtime.WebSocketFeed{URL: wc.URL}, rec, cfg.Realtime).Run(ctx)
}
