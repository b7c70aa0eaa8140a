// Package eventstore implements the append-only event log and its paired
// outbox insert, both written inside the caller's database transaction so
// a state change, its event, and its outbox entries are atomic. Callers
// invoke Append from inside storage.Storage.WithTx.
package eventstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusid/authgateway/storage"
)

// AppendParams describes one fact to record against an aggregate.
type AppendParams struct {
	// EventID is the caller-supplied idempotency key. If empty, a new
	// UUID is generated; callers that need idempotent retries (e.g. an
	// HTTP handler retried by a client) should supply their own.
	EventID          string
	AggregateType    string
	AggregateID      string
	EventType        string
	EventTypeVersion int
	Payload          any // marshaled to JSON
	Metadata         storage.EventMetadata
	OccurredAt       time.Time

	// Destinations lists the outbox rows to create alongside the event,
	// one per external projection target. Most callers pass a single
	// destination ("users_store.auth_events").
	Destinations []string
}

// Append computes the next version for AggregateID, checks the
// event_id idempotency key, and inserts the event plus one outbox row per
// destination. If an event with the same (aggregate_id, event_id) already
// exists, Append is a no-op and returns the existing row with created=false,
// so two concurrent writers attempting the same logical change converge on
// one event instead of racing to create two.
//
// Append must be called from inside storage.Storage.WithTx; the unique
// (aggregate_id, version) constraint is enforced by the Tx implementation
// and surfaces as storage.ErrSequenceConflict, which WithTx retries.
func Append(tx storage.Tx, p AppendParams) (event storage.Event, created bool, err error) {
	eventID := p.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	if existing, ok, err := tx.GetEventByIdempotencyKey(p.AggregateID, eventID); err != nil {
		return storage.Event{}, false, err
	} else if ok {
		return existing, false, nil
	}

	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return storage.Event{}, false, err
	}

	maxVersion, err := tx.MaxAggregateVersion(p.AggregateID)
	if err != nil {
		return storage.Event{}, false, err
	}

	occurredAt := p.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	e := storage.Event{
		EventID:          eventID,
		AggregateType:    p.AggregateType,
		AggregateID:      p.AggregateID,
		Version:          maxVersion + 1,
		EventType:        p.EventType,
		EventTypeVersion: p.EventTypeVersion,
		Payload:          payload,
		Metadata:         p.Metadata,
		OccurredAt:       occurredAt,
	}
	if e.EventTypeVersion == 0 {
		e.EventTypeVersion = 1
	}

	if err := tx.InsertEvent(e); err != nil {
		return storage.Event{}, false, err
	}

	destinations := p.Destinations
	if len(destinations) == 0 {
		destinations = []string{"users_store.auth_events"}
	}
	for _, dest := range destinations {
		o := storage.OutboxEntry{
			OutboxID:      storage.NewID(),
			EventID:       e.EventID,
			AggregateID:   e.AggregateID,
			Version:       e.Version,
			Destination:   dest,
			Attempts:      0,
			NextAttemptAt: occurredAt,
			Status:        storage.OutboxPending,
		}
		if err := tx.InsertOutboxEntry(o); err != nil {
			return storage.Event{}, false, err
		}
	}

	return e, true, nil
}
