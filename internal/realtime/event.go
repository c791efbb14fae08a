// Package realtime keeps a device's view of its duels in step with the
// Duel Store's change feed.
//
// Feed payloads are decoded once, at the transport boundary, into the typed
// Event union. A Reconciler consumes events for one device session and a
// Session keeps the subscription alive, resubscribing with backoff and
// running a full reconciliation pass after every (re)connect.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
)

// ErrMalformed is returned by Decode for payloads that are not a duel change.
var ErrMalformed = errors.New("malformed realtime payload")

// Event is a decoded change feed entry: InsertEvent or UpdateEvent.
type Event interface {
	// Duel returns the row as it is after the change.
	Duel() *domain.Duel
	isEvent()
}

// InsertEvent carries a newly created duel.
type InsertEvent struct {
	Record *domain.Duel
}

// UpdateEvent carries a changed duel. Old may be nil when the producer did
// not include the previous row.
type UpdateEvent struct {
	Record *domain.Duel
	Old    *domain.Duel
}

func (e InsertEvent) Duel() *domain.Duel { return e.Record }
func (e UpdateEvent) Duel() *domain.Duel { return e.Record }

func (InsertEvent) isEvent() {}
func (UpdateEvent) isEvent() {}

// FromChange converts a broker change into an Event.
func FromChange(c domain.DuelChange) (Event, error) {
	if c.New == nil {
		return nil, fmt.Errorf("%w: missing record", ErrMalformed)
	}
	switch c.Kind {
	case domain.ChangeInsert:
		return InsertEvent{Record: c.New}, nil
	case domain.ChangeUpdate:
		return UpdateEvent{Record: c.New, Old: c.Old}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, c.Kind)
}

// envelope is the wire form of a change.
type envelope struct {
	Type      domain.ChangeKind `json:"type"`
	Record    *domain.Duel      `json:"record"`
	OldRecord *domain.Duel      `json:"old_record,omitempty"`
}

// Encode renders c in the wire format
// {"type":"INSERT"|"UPDATE","record":{...},"old_record":{...}}.
func Encode(c domain.DuelChange) ([]byte, error) {
	return json.Marshal(envelope{Type: c.Kind, Record: c.New, OldRecord: c.Old})
}

// Decode parses a wire payload into an Event.
func Decode(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Record == nil || env.Record.ID == "" {
		return nil, fmt.Errorf("%w: missing record", ErrMalformed)
	}
	return FromChange(domain.DuelChange{Kind: env.Type, Old: env.OldRecord, New: env.Record})
}
