// Package outbox implements the forwarder worker: it polls pending outbox
// entries, projects each to its destination, and settles success or
// failure with exponential backoff, giving the event log at-least-once
// delivery to external read models.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimbusid/authgateway/pkg/log"
	"github.com/nimbusid/authgateway/storage"
	"github.com/nimbusid/authgateway/storage/usersclient"
)

// Deliverer projects one outbox entry's event to its destination. The
// concrete implementation for "users_store.auth_events" wraps
// usersclient.Client; tests supply a fake.
type Deliverer interface {
	Deliver(ctx context.Context, destination string, e storage.Event) error
}

// usersStoreDeliverer is the only Deliverer the gateway ships today: every
// outbox entry currently targets the Users store's auth_events projection.
type usersStoreDeliverer struct {
	client *usersclient.Client
}

func NewUsersStoreDeliverer(client *usersclient.Client) Deliverer {
	return &usersStoreDeliverer{client: client}
}

func (d *usersStoreDeliverer) Deliver(ctx context.Context, destination string, e storage.Event) error {
	return d.client.UpsertAuthEvent(ctx, usersclient.AuthEvent{
		EventID:     e.EventID,
		AggregateID: e.AggregateID,
		Version:     e.Version,
		EventType:   e.EventType,
		Payload:     json.RawMessage(e.Payload),
		OccurredAt:  e.OccurredAt,
	})
}

var (
	deliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authgateway_outbox_delivered_total",
		Help: "Outbox entries successfully delivered, by destination.",
	}, []string{"destination"})
	failedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authgateway_outbox_failed_total",
		Help: "Outbox entries that exhausted their retry budget, by destination.",
	}, []string{"destination"})
	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authgateway_outbox_pending",
		Help: "Outbox entries currently pending delivery.",
	})
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(deliveredTotal, failedTotal, pendingGauge)
}

// Forwarder polls storage for pending outbox entries and drains them
// through a Deliverer, one poll loop per process.
type Forwarder struct {
	store      storage.Storage
	deliverers map[string]Deliverer
	logger     log.Logger
	clock      clockwork.Clock

	pollInterval time.Duration
	batchSize    int
}

// Option configures a Forwarder at construction time.
type Option func(*Forwarder)

func WithPollInterval(d time.Duration) Option {
	return func(f *Forwarder) { f.pollInterval = d }
}

func WithBatchSize(n int) Option {
	return func(f *Forwarder) { f.batchSize = n }
}

// WithClock overrides the clock used to pick "now" for claim visibility and
// backoff scheduling. Tests use a clockwork.FakeClock to make retries land
// without sleeping in wall-clock time.
func WithClock(c clockwork.Clock) Option {
	return func(f *Forwarder) { f.clock = c }
}

func New(store storage.Storage, deliverers map[string]Deliverer, logger log.Logger, opts ...Option) *Forwarder {
	f := &Forwarder{
		store:        store,
		deliverers:   deliverers,
		logger:       logger,
		clock:        clockwork.NewRealClock(),
		pollInterval: 2 * time.Second,
		batchSize:    50,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Preflight fails fast at startup if a destination named in config has no
// registered Deliverer, rather than discovering the gap only once the
// first event for that destination is stuck pending.
func (f *Forwarder) Preflight(destinations []string) error {
	for _, d := range destinations {
		if _, ok := f.deliverers[d]; !ok {
			return errors.New("outbox: no deliverer registered for destination " + d)
		}
	}
	return nil
}

// Run polls until ctx is cancelled, draining in-flight work before
// returning so a shutdown never abandons a claimed batch mid-delivery.
func (f *Forwarder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// The batch runs on a context that is not cancelled with ctx,
			// so a shutdown lets the claimed entries finish and settle.
			if err := f.runOnce(context.WithoutCancel(ctx)); err != nil {
				f.logger.WithField("error", err.Error()).Error("outbox poll failed")
			}
		}
	}
}

// PollOnce runs a single poll-and-deliver cycle, exported so callers (and
// tests) can drive the forwarder deterministically instead of waiting on
// the ticker inside Run.
func (f *Forwarder) PollOnce(ctx context.Context) error {
	return f.runOnce(ctx)
}

func (f *Forwarder) runOnce(ctx context.Context) error {
	now := f.clock.Now().UTC()
	entries, err := f.store.ClaimPendingOutbox(ctx, f.batchSize, now)
	if err != nil {
		return err
	}
	if n, err := f.store.CountOutbox(ctx, storage.OutboxPending); err == nil {
		pendingGauge.Set(float64(n))
	}

	for _, entry := range entries {
		f.deliverOne(ctx, entry)
	}
	return nil
}

func (f *Forwarder) deliverOne(ctx context.Context, entry storage.OutboxEntry) {
	deliverer, ok := f.deliverers[entry.Destination]
	if !ok {
		f.settleFailure(ctx, entry, errors.New("no deliverer for destination"))
		return
	}

	event, err := f.store.GetEvent(ctx, entry.EventID)
	if err != nil {
		f.settleFailure(ctx, entry, err)
		return
	}

	if err := deliverer.Deliver(ctx, entry.Destination, event); err != nil {
		f.settleRetry(ctx, entry, err)
		return
	}

	if err := f.store.MarkOutboxSent(ctx, entry.OutboxID); err != nil {
		f.logger.WithField("error", err.Error()).Error("failed to mark outbox entry sent")
		return
	}
	deliveredTotal.WithLabelValues(entry.Destination).Inc()
}

func (f *Forwarder) settleRetry(ctx context.Context, entry storage.OutboxEntry, deliverErr error) {
	attempts := entry.Attempts + 1
	if attempts >= storage.MaxOutboxAttempts {
		f.settleFailure(ctx, entry, deliverErr)
		return
	}
	next := storage.NextBackoff(f.clock.Now().UTC(), attempts)
	if err := f.store.MarkOutboxRetry(ctx, entry.OutboxID, next, deliverErr.Error(), attempts); err != nil {
		f.logger.WithField("error", err.Error()).Error("failed to mark outbox entry for retry")
	}
}

func (f *Forwarder) settleFailure(ctx context.Context, entry storage.OutboxEntry, deliverErr error) {
	if err := f.store.MarkOutboxFailed(ctx, entry.OutboxID, deliverErr.Error(), entry.Attempts+1); err != nil {
		f.logger.WithField("error", err.Error()).Error("failed to mark outbox entry failed")
	}
	failedTotal.WithLabelValues(entry.Destination).Inc()
}
