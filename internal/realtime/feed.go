package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/feed"
)

// ErrStreamClosed is returned by Stream.Recv once the stream has ended
// without a more specific cause.
var ErrStreamClosed = errors.New("realtime stream closed")

// Feed opens change subscriptions for a user.
type Feed interface {
	Subscribe(ctx context.Context, userID string) (Stream, error)
}

// Stream yields events until it fails or is closed. Any Recv error means
// the subscription is gone and events may have been missed.
type Stream interface {
	Recv(ctx context.Context) (Event, error)
	Close() error
}

// ---------- in-process ----------

// BrokerFeed subscribes directly to an in-process change broker.
type BrokerFeed struct {
	Broker *feed.Broker
}

func (f BrokerFeed) Subscribe(_ context.Context, userID string) (Stream, error) {
	return &brokerStream{sub: f.Broker.Subscribe(userID)}, nil
}

type brokerStream struct {
	sub *feed.Subscription
}

func (s *brokerStream) Recv(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c, ok := <-s.sub.C():
		if !ok {
			if err := s.sub.Err(); err != nil && !errors.Is(err, feed.ErrClosed) {
				return nil, err
			}
			return nil, ErrStreamClosed
		}
		return FromChange(c)
	}
}

func (s *brokerStream) Close() error {
	s.sub.Close()
	return nil
}

// ---------- websocket ----------

// WebSocketFeed subscribes to the service's realtime endpoint, identifying
// as userID through the X-User-ID header.
type WebSocketFeed struct {
	// URL is the ws:// or wss:// address of the realtime endpoint.
	URL        string
	HTTPClient *http.Client
	Header     http.Header
}

func (f WebSocketFeed) Subscribe(ctx context.Context, userID string) (Stream, error) {
	h := http.Header{}
	for k, v := range f.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set("X-User-ID", userID)

	conn, _, err := websocket.Dial(ctx, f.URL, &websocket.DialOptions{
		HTTPClient: f.HTTPClient,
		HTTPHeader: h,
	})
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

// Recv skips payloads that fail to decode; a malformed frame is not a
// reason to drop the subscription.
func (s *wsStream) Recv(ctx context.Context) (Event, error) {
	for {
		typ, b, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil, ErrStreamClosed
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, err := Decode(b)
		if err != nil {
			log.Warn().Err(err).Str("component", "realtime").Msg("skipping payload")
			continue
		}
		return ev, nil
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
