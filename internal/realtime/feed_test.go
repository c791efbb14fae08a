package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/feed"
)

func sampleDuel(version int, status domain.DuelStatus) *domain.Duel {
	return &domain.Duel{
		ID: "d-1", ChallengerID: "alice", OpponentID: "bob",
		GameType: "Chess", GameMode: "Blitz", Status: status,
		CreatedAt: t0, ExpiresAt: t0.Add(time.Hour), Version: version,
		VerificationStatus: domain.VerificationPending, DisputeStatus: domain.DisputeNone,
	}
}

func TestDecode_WireFormat(t *testing.T) {
	b, err := Encode(domain.DuelChange{
		Kind: domain.ChangeUpdate,
		Old:  sampleDuel(2, domain.StatusAccepted),
		New:  sampleDuel(3, domain.StatusInProgress),
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, key := range []string{`"type":"UPDATE"`, `"record":`, `"old_record":`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("payload %s lacks %s", b, key)
		}
	}

	ev, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	up, ok := ev.(UpdateEvent)
	if !ok {
		t.Fatalf("event = %T, want UpdateEvent", ev)
	}
	if up.Record.Status != domain.StatusInProgress || up.Old == nil || up.Old.Status != domain.StatusAccepted {
		t.Errorf("decoded %+v", up)
	}

	ins, err := Encode(domain.DuelChange{Kind: domain.ChangeInsert, New: sampleDuel(1, domain.StatusProposed)})
	if err != nil {
		t.Fatalf("Encode insert: %v", err)
	}
	if strings.Contains(string(ins), "old_record") {
		t.Errorf("insert payload carries old_record: %s", ins)
	}
	if ev, err := Decode(ins); err != nil {
		t.Fatalf("Decode insert: %v", err)
	} else if _, ok := ev.(InsertEvent); !ok {
		t.Fatalf("event = %T, want InsertEvent", ev)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"missing record": `{"type":"UPDATE"}`,
		"unknown type":   `{"type":"DELETE","record":{"id":"d-1"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(payload)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("Decode(%s) err = %v, want ErrMalformed", payload, err)
			}
		})
	}
}

func TestBrokerFeed_EndsOnOverflow(t *testing.T) {
	b := feed.NewBroker(1)
	s, err := BrokerFeed{Broker: b}.Subscribe(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Close()

	c := domain.DuelChange{Kind: domain.ChangeInsert, New: sampleDuel(1, domain.StatusProposed)}
	b.Publish(c)
	b.Publish(c) // buffer full: subscriber is cut off

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := s.Recv(ctx); err != nil {
		t.Fatalf("first Recv: %v", err)
	}
	if _, err := s.Recv(ctx); !errors.Is(err, feed.ErrOverflow) {
		t.Fatalf("second Recv err = %v, want ErrOverflow", err)
	}
}

func TestWebSocketFeed_ReceivesEvents(t *testing.T) {
	gotUser := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser <- r.Header.Get("X-User-ID")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"BOGUS"}`))
		b, _ := Encode(domain.DuelChange{
			Kind: domain.ChangeUpdate,
			Old:  sampleDuel(2, domain.StatusAccepted),
			New:  sampleDuel(3, domain.StatusInProgress),
		})
		_ = conn.Write(ctx, websocket.MessageText, b)
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):]
	s, err := WebSocketFeed{URL: wsURL}.Subscribe(ctx, "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer s.Close()

	if u := <-gotUser; u != "alice" {
		t.Errorf("X-User-ID = %q, want alice", u)
	}
	ev, err := s.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Duel().Version != 3 || ev.Duel().Status != domain.StatusInProgress {
		t.Errorf("event duel = %+v", ev.Duel())
	}
	if _, err := s.Recv(ctx); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Recv after close err = %v, want ErrStreamClosed", err)
	}
}
