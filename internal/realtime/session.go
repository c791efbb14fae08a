package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/config"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
)

// Session keeps one device subscribed to its user's duel changes. When the
// stream fails it marks the reconciler down, waits according to the
// backoff policy and subscribes again; every successful subscription is
// followed by a full reconciliation pass. Missed events are never replayed.
type Session struct {
	Feed       Feed
	Reconciler *Reconciler
	Clock      clockwork.Clock
	// BackOff builds the wait policy between resubscribe attempts. It is
	// reset after each subscription that delivered at least the initial
	// reconciliation.
	BackOff func() backoff.BackOff
}

// NewSession wires a session with the configured exponential backoff.
func NewSession(f Feed, r *Reconciler, cfg config.RealtimeConfig) *Session {
	return &Session{
		Feed:       f,
		Reconciler: r,
		Clock:      clockwork.NewRealClock(),
		BackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.BackoffInitial
			b.MaxInterval = cfg.BackoffMax
			return b
		},
	}
}

// Run subscribes and processes events until ctx is done. It returns
// ctx.Err().
func (s *Session) Run(ctx context.Context) error {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	b := s.BackOff()
	logger := log.With().Str("component", "realtime").Str("device_id", s.Reconciler.DeviceID).Logger()

	for {
		connected, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = time.Second
		}
		reconnects.Inc()
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("realtime subscription lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(wait):
		}
	}
}

// runOnce holds one subscription. connected reports whether the
// subscription was established and reconciled.
func (s *Session) runOnce(ctx context.Context) (connected bool, err error) {
	stream, err := s.Feed.Subscribe(ctx, s.Reconciler.UserID)
	if err != nil {
		return false, fmt.Errorf("%w: %w", services.ErrTransportDown, err)
	}
	defer stream.Close()
	defer s.Reconciler.OnDisconnect()

	activeSessions.Inc()
	defer activeSessions.Dec()

	if err := s.Reconciler.OnConnect(ctx); err != nil {
		// Keep the subscription; the store may be briefly unavailable and
		// the next event or reconnect reconciles again.
		log.Warn().Err(err).Str("component", "realtime").Msg("reconciliation pass failed")
	} else {
		connected = true
	}

	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return connected, err
			}
			return connected, fmt.Errorf("%w: %w", services.ErrTransportDown, err)
		}
		if err := s.Reconciler.OnEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("component", "realtime").Str("duel_id", ev.Duel().ID).Msg("apply event")
		}
	}
}
