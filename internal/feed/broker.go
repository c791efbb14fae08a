// Package feed is the Duel Store's change feed: every committed duel write
// is fanned out to subscriptions keyed by participant user id.
//
// Delivery is best effort. A subscriber that cannot keep up is cut off (its
// channel is closed with ErrOverflow) instead of stalling publishers; the
// subscriber is expected to resubscribe and re-read current state.
package feed

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
)

// ErrOverflow is reported by Subscription.Err after a slow subscriber was
// cut off. ErrClosed is reported after Close.
var (
	ErrOverflow = errors.New("subscriber too slow, dropped")
	ErrClosed   = errors.New("subscription closed")
)

var (
	feedSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duel_feed_subscribers",
		Help: "Current number of change feed subscriptions.",
	})
	feedPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_feed_published_total",
		Help: "Duel changes published to the feed, by kind.",
	}, []string{"kind"})
	feedOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duel_feed_overflows_total",
		Help: "Subscriptions cut off because their buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(feedSubscribers, feedPublished, feedOverflows)
}

// Broker fans duel changes out to subscribers. The zero value is not usable;
// call NewBroker.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// NewBroker returns a broker whose subscriptions buffer up to buffer changes.
func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscription receives the changes of duels the user participates in.
type Subscription struct {
	UserID string

	b    *Broker
	ch   chan domain.DuelChange
	once sync.Once
	err  error
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan domain.DuelChange { return s.ch }

// Err reports why the channel was closed. It is nil while open.
func (s *Subscription) Err() error {
	s.b.mu.RLock()
	defer s.b.mu.RUnlock()
	return s.err
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.end(ErrClosed) }

func (s *Subscription) end(reason error) {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		if set := s.b.subs[s.UserID]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(s.b.subs, s.UserID)
			}
		}
		s.err = reason
		close(s.ch)
		feedSubscribers.Dec()
	})
}

// Subscribe registers a subscription for userID.
func (b *Broker) Subscribe(userID string) *Subscription {
	s := &Subscription{UserID: userID, b: b, ch: make(chan domain.DuelChange, b.buffer)}
	b.mu.Lock()
	set := b.subs[userID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.subs[userID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()
	feedSubscribers.Inc()
	return s
}

// Publish delivers c to every subscription of both participants. Each
// subscriber gets its own copy of the rows. It never blocks.
func (b *Broker) Publish(c domain.DuelChange) {
	feedPublished.WithLabelValues(string(c.Kind)).Inc()

	var slow []*Subscription
	b.mu.RLock()
	seen := make(map[string]bool, 2)
	for _, uid := range c.Participants() {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		for s := range b.subs[uid] {
			msg := domain.DuelChange{Kind: c.Kind, Old: c.Old.Clone(), New: c.New.Clone()}
			select {
			case s.ch <- msg:
			default:
				slow = append(slow, s)
			}
		}
	}
	b.mu.RUnlock()

	for _, s := range slow {
		feedOverflows.Inc()
		log.Warn().Str("component", "feed").Str("user_id", s.UserID).Msg("subscriber overflow, closing")
		s.end(ErrOverflow)
	}
}

// Subscribers returns the number of live subscriptions for userID.
func (b *Broker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
