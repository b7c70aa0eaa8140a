package outbox_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/nimbusid/authgateway/eventstore"
	"github.com/nimbusid/authgateway/outbox"
	"github.com/nimbusid/authgateway/pkg/log"
	"github.com/nimbusid/authgateway/storage"
	"github.com/nimbusid/authgateway/storage/memory"
)

func testLogger() log.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return log.NewLogrusLogger(l)
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []storage.Event
	failNext  int
}

func (f *fakeDeliverer) Deliver(ctx context.Context, destination string, e storage.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("destination unreachable")
	}
	f.delivered = append(f.delivered, e)
	return nil
}

func appendEvent(t *testing.T, store storage.Storage, aggregateID string) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx storage.Tx) error {
		_, _, err := eventstore.Append(tx, eventstore.AppendParams{
			EventID:        storage.NewID(),
			AggregateType:  "refresh_token",
			AggregateID:    aggregateID,
			EventType:      "token.issued",
			Payload:        map[string]string{"hello": "world"},
			Destinations:   []string{"users_store.auth_events"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
}

func TestForwarderDeliversPendingEntries(t *testing.T) {
	store := memory.New()
	appendEvent(t, store, "agg-1")

	fake := &fakeDeliverer{}
	f := outbox.New(store, map[string]outbox.Deliverer{"users_store.auth_events": fake}, testLogger())

	if err := f.PollOnce(context.Background()); err != nil {
		t.Fatalf("poll once: %v", err)
	}

	fake.mu.Lock()
	delivered := len(fake.delivered)
	fake.mu.Unlock()
	if delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}

	remaining, err := store.CountOutbox(context.Background(), storage.OutboxPending)
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected no pending entries after delivery, got %d", remaining)
	}
}

func TestPreflightRejectsUnknownDestination(t *testing.T) {
	store := memory.New()
	f := outbox.New(store, map[string]outbox.Deliverer{}, testLogger())
	if err := f.Preflight([]string{"users_store.auth_events"}); err == nil {
		t.Fatal("expected preflight to fail for an unregistered destination")
	}
}

func TestRetryBacksOffAndEventuallyFails(t *testing.T) {
	store := memory.New()
	appendEvent(t, store, "agg-2")

	fake := &fakeDeliverer{failNext: storage.MaxOutboxAttempts}
	// The appended entry is first due at the wall-clock time of the append,
	// so the fake clock starts from now rather than from clockwork's default.
	clock := clockwork.NewFakeClockAt(time.Now())
	f := outbox.New(store, map[string]outbox.Deliverer{"users_store.auth_events": fake}, testLogger(), outbox.WithClock(clock))

	// Advance the fake clock by OutboxBackoffCap after each poll so the
	// exponential backoff NextBackoff schedules after a failed delivery
	// never hides the entry from the next claim.
	for i := 0; i < storage.MaxOutboxAttempts; i++ {
		pending, err := store.CountOutbox(context.Background(), storage.OutboxPending)
		if err != nil {
			t.Fatalf("count pending: %v", err)
		}
		if pending == 0 {
			t.Fatalf("entry disappeared before exhausting retries (attempt %d)", i)
		}
		if err := f.PollOnce(context.Background()); err != nil {
			t.Fatalf("poll once: %v", err)
		}
		clock.Advance(storage.OutboxBackoffCap)
	}

	pending, err := store.CountOutbox(context.Background(), storage.OutboxPending)
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected entry to leave the pending set once max attempts exhausted, got %d still pending", pending)
	}
	failed, err := store.CountOutbox(context.Background(), storage.OutboxFailed)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if failed != 1 {
		t.Fatalf("expected exactly one terminally failed entry, got %d", failed)
	}
}
