// Package memory provides an in-memory storage.Storage implementation used
// by tests, without a Postgres instance: a single
// mutex guarding plain Go maps, with no persistence across restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nimbusid/authgateway/storage"
)

// New returns an empty in-memory Storage.
func New() storage.Storage {
	return &memStorage{
		clients:       map[string]storage.Client{},
		authCodes:     map[string]storage.AuthorizationCode{},
		refreshTokens: map[string]storage.RefreshToken{},
		revokedFamily: map[string]bool{},
		sessions:      map[string]storage.Session{},
		apiKeys:       map[string]storage.APIKey{},
		events:        map[string][]storage.Event{},
		eventsByID:    map[string]storage.Event{},
		outbox:        map[string]storage.OutboxEntry{},
	}
}

type memStorage struct {
	mu sync.Mutex

	clients       map[string]storage.Client
	authCodes     map[string]storage.AuthorizationCode
	refreshTokens map[string]storage.RefreshToken
	revokedFamily map[string]bool
	sessions      map[string]storage.Session
	apiKeys       map[string]storage.APIKey

	// events are keyed by aggregate id, in ascending version order.
	events map[string][]storage.Event
	// eventsByID is keyed by aggregate_id+"/"+event_id for idempotency lookups.
	eventsByID map[string]storage.Event

	outbox map[string]storage.OutboxEntry
}

func (m *memStorage) Close() error { return nil }

func (m *memStorage) HealthCheck(ctx context.Context) error { return nil }

func (m *memStorage) CreateClient(ctx context.Context, c storage.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.ID]; ok {
		return storage.ErrAlreadyExists
	}
	m.clients[c.ID] = c
	return nil
}

func (m *memStorage) GetClient(ctx context.Context, id string) (storage.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return storage.Client{}, storage.ErrNotFound
	}
	return c, nil
}

func (m *memStorage) ListClients(ctx context.Context) ([]storage.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStorage) UpdateClient(ctx context.Context, id string, updater func(old storage.Client) (storage.Client, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.clients[id]
	if !ok {
		return storage.ErrNotFound
	}
	next, err := updater(old)
	if err != nil {
		return err
	}
	m.clients[id] = next
	return nil
}

func (m *memStorage) DeleteClient(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.clients, id)
	return nil
}

func (m *memStorage) CreateAuthCode(ctx context.Context, c storage.AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.authCodes[c.CodeHash]; ok {
		return storage.ErrAlreadyExists
	}
	m.authCodes[c.CodeHash] = c
	return nil
}

func (m *memStorage) GetAuthCode(ctx context.Context, codeHash string) (storage.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.authCodes[codeHash]
	if !ok {
		return storage.AuthorizationCode{}, storage.ErrNotFound
	}
	return c, nil
}

// ConsumeAuthCode atomically marks the code consumed and returns its prior
// state, failing if it was already consumed — the exactly-once guarantee
// behind P3.
func (m *memStorage) ConsumeAuthCode(ctx context.Context, codeHash string) (storage.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.authCodes[codeHash]
	if !ok {
		return storage.AuthorizationCode{}, storage.ErrNotFound
	}
	if c.Consumed {
		return storage.AuthorizationCode{}, storage.ErrAlreadyExists
	}
	c.Consumed = true
	m.authCodes[codeHash] = c
	// Return the pre-consumption view for the caller to validate against.
	c.Consumed = false
	return c, nil
}

func (m *memStorage) DeleteExpiredAuthCodes(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, c := range m.authCodes {
		if now.After(c.ExpiresAt) {
			delete(m.authCodes, k)
			n++
		}
	}
	return n, nil
}

func (m *memStorage) CreateRefreshToken(ctx context.Context, r storage.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refreshTokens[r.TokenHash]; ok {
		return storage.ErrAlreadyExists
	}
	m.refreshTokens[r.TokenHash] = r
	return nil
}

func (m *memStorage) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (storage.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refreshTokens[tokenHash]
	if !ok {
		return storage.RefreshToken{}, storage.ErrNotFound
	}
	if m.revokedFamily[r.FamilyID] {
		r.Revoked = true
	}
	return r, nil
}

func (m *memStorage) RotateRefreshToken(ctx context.Context, oldTokenHash string, next storage.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.refreshTokens[oldTokenHash]
	if !ok {
		return storage.ErrNotFound
	}
	old.Superseded = true
	m.refreshTokens[oldTokenHash] = old
	m.refreshTokens[next.TokenHash] = next
	return nil
}

func (m *memStorage) RevokeRefreshFamily(ctx context.Context, familyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedFamily[familyID] = true
	return nil
}

func (m *memStorage) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokedFamily[familyID], nil
}

func (m *memStorage) CreateSession(ctx context.Context, s storage.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return storage.ErrAlreadyExists
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memStorage) GetSession(ctx context.Context, id string) (storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return s, nil
}

func (m *memStorage) RotateSession(ctx context.Context, oldID string, next storage.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.sessions[oldID]
	if !ok {
		return storage.ErrNotFound
	}
	old.Revoked = true
	m.sessions[oldID] = old
	m.sessions[next.ID] = next
	return nil
}

func (m *memStorage) RevokeSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Revoked = true
	m.sessions[id] = s
	return nil
}

func (m *memStorage) CreateAPIKey(ctx context.Context, k storage.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apiKeys[k.ID]; ok {
		return storage.ErrAlreadyExists
	}
	m.apiKeys[k.ID] = k
	return nil
}

func (m *memStorage) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]storage.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.APIKey
	for _, k := range m.apiKeys {
		if k.Prefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStorage) GetAPIKey(ctx context.Context, id string) (storage.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return storage.APIKey{}, storage.ErrNotFound
	}
	return k, nil
}

func (m *memStorage) ListAPIKeysByOwner(ctx context.Context, owner string) ([]storage.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.APIKey
	for _, k := range m.apiKeys {
		if k.Owner == owner {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStorage) TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.LastUsedAt = &at
	m.apiKeys[id] = k
	return nil
}

func (m *memStorage) RevokeAPIKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.Active = false
	m.apiKeys[id] = k
	return nil
}

func (m *memStorage) RotateAPIKeyCredential(ctx context.Context, id, prefix, hash string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return rotateAPIKeyCredential(m.apiKeys, id, prefix, hash, expiresAt)
}

func rotateAPIKeyCredential(keys map[string]storage.APIKey, id, prefix, hash string, expiresAt *time.Time) error {
	k, ok := keys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.Prefix = prefix
	k.Hash = hash
	k.ExpiresAt = expiresAt
	k.LastUsedAt = nil
	k.Active = true
	keys[id] = k
	return nil
}

func eventKey(aggregateID, eventID string) string { return aggregateID + "/" + eventID }

func (m *memStorage) GetEventByIdempotencyKey(ctx context.Context, aggregateID, eventID string) (storage.Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.eventsByID[eventKey(aggregateID, eventID)]
	return e, ok, nil
}

func (m *memStorage) GetEvent(ctx context.Context, eventID string) (storage.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.eventsByID {
		if e.EventID == eventID {
			return e, nil
		}
	}
	return storage.Event{}, storage.ErrNotFound
}

func (m *memStorage) MaxAggregateVersion(ctx context.Context, aggregateID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events[aggregateID]
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Version, nil
}

// ClaimPendingOutbox holds m.mu for its entire read-and-mark-claimed
// sequence, so the whole operation is as atomic with respect to a second
// concurrent caller as Postgres's FOR UPDATE SKIP LOCKED transaction is:
// no second caller can observe an entry between it being selected here and
// its status flipping to OutboxClaimed.
func (m *memStorage) ClaimPendingOutbox(ctx context.Context, limit int, now time.Time) ([]storage.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.OutboxEntry
	for _, o := range m.outbox {
		if o.Status == storage.OutboxPending && !o.NextAttemptAt.After(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AggregateID != out[j].AggregateID {
			return out[i].AggregateID < out[j].AggregateID
		}
		return out[i].Version < out[j].Version
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, o := range out {
		o.Status = storage.OutboxClaimed
		m.outbox[o.OutboxID] = o
		out[i] = o
	}
	return out, nil
}

func (m *memStorage) MarkOutboxSent(ctx context.Context, outboxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outbox[outboxID]
	if !ok {
		return storage.ErrNotFound
	}
	o.Status = storage.OutboxSent
	m.outbox[outboxID] = o
	return nil
}

func (m *memStorage) MarkOutboxRetry(ctx context.Context, outboxID string, nextAttempt time.Time, lastErr string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outbox[outboxID]
	if !ok {
		return storage.ErrNotFound
	}
	o.Status = storage.OutboxPending
	o.Attempts = attempts
	o.NextAttemptAt = nextAttempt
	o.LastError = lastErr
	m.outbox[outboxID] = o
	return nil
}

func (m *memStorage) MarkOutboxFailed(ctx context.Context, outboxID string, lastErr string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outbox[outboxID]
	if !ok {
		return storage.ErrNotFound
	}
	o.Status = storage.OutboxFailed
	o.Attempts = attempts
	o.LastError = lastErr
	m.outbox[outboxID] = o
	return nil
}

func (m *memStorage) CountOutbox(ctx context.Context, status storage.OutboxStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.outbox {
		if o.Status == status {
			n++
		}
	}
	return n, nil
}

// WithTx runs fn against a transaction view backed by the same maps,
// protected by the single storage-wide mutex so the whole callback is
// serialized like a real database transaction would serialize via row
// locks. There is no partial-rollback support: fn returning an error
// simply discards any buffered event/outbox rows before they are merged.
func (m *memStorage) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx buffers event and outbox rows and merges them only once fn returns
// successfully; every other write goes straight to the shared maps and
// stays in place even when fn later returns an error.
type memTx struct {
	m *memStorage

	pendingEvents []storage.Event
	pendingOutbox []storage.OutboxEntry
}

func (t *memTx) CreateClient(c storage.Client) error {
	if _, ok := t.m.clients[c.ID]; ok {
		return storage.ErrAlreadyExists
	}
	t.m.clients[c.ID] = c
	return nil
}

func (t *memTx) UpdateClient(id string, updater func(old storage.Client) (storage.Client, error)) error {
	old, ok := t.m.clients[id]
	if !ok {
		return storage.ErrNotFound
	}
	next, err := updater(old)
	if err != nil {
		return err
	}
	t.m.clients[id] = next
	return nil
}

func (t *memTx) DeleteClient(id string) error {
	if _, ok := t.m.clients[id]; !ok {
		return storage.ErrNotFound
	}
	delete(t.m.clients, id)
	return nil
}

func (t *memTx) CreateAuthCode(c storage.AuthorizationCode) error {
	if _, ok := t.m.authCodes[c.CodeHash]; ok {
		return storage.ErrAlreadyExists
	}
	t.m.authCodes[c.CodeHash] = c
	return nil
}

func (t *memTx) ConsumeAuthCode(codeHash string) (storage.AuthorizationCode, error) {
	c, ok := t.m.authCodes[codeHash]
	if !ok {
		return storage.AuthorizationCode{}, storage.ErrNotFound
	}
	if c.Consumed {
		return storage.AuthorizationCode{}, storage.ErrAlreadyExists
	}
	result := c
	c.Consumed = true
	t.m.authCodes[codeHash] = c
	return result, nil
}

func (t *memTx) CreateRefreshToken(r storage.RefreshToken) error {
	if _, ok := t.m.refreshTokens[r.TokenHash]; ok {
		return storage.ErrAlreadyExists
	}
	t.m.refreshTokens[r.TokenHash] = r
	return nil
}

func (t *memTx) GetRefreshTokenByHash(tokenHash string) (storage.RefreshToken, error) {
	r, ok := t.m.refreshTokens[tokenHash]
	if !ok {
		return storage.RefreshToken{}, storage.ErrNotFound
	}
	if t.m.revokedFamily[r.FamilyID] {
		r.Revoked = true
	}
	return r, nil
}

func (t *memTx) RotateRefreshToken(oldTokenHash string, next storage.RefreshToken) error {
	old, ok := t.m.refreshTokens[oldTokenHash]
	if !ok {
		return storage.ErrNotFound
	}
	old.Superseded = true
	t.m.refreshTokens[oldTokenHash] = old
	t.m.refreshTokens[next.TokenHash] = next
	return nil
}

func (t *memTx) RevokeRefreshFamily(familyID string) error {
	t.m.revokedFamily[familyID] = true
	return nil
}

func (t *memTx) CreateSession(s storage.Session) error {
	if _, ok := t.m.sessions[s.ID]; ok {
		return storage.ErrAlreadyExists
	}
	t.m.sessions[s.ID] = s
	return nil
}

func (t *memTx) GetSession(id string) (storage.Session, error) {
	s, ok := t.m.sessions[id]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return s, nil
}

func (t *memTx) RotateSession(oldID string, next storage.Session) error {
	old, ok := t.m.sessions[oldID]
	if !ok {
		return storage.ErrNotFound
	}
	old.Revoked = true
	t.m.sessions[oldID] = old
	t.m.sessions[next.ID] = next
	return nil
}

func (t *memTx) RevokeSession(id string) error {
	s, ok := t.m.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Revoked = true
	t.m.sessions[id] = s
	return nil
}

func (t *memTx) CreateAPIKey(k storage.APIKey) error {
	if _, ok := t.m.apiKeys[k.ID]; ok {
		return storage.ErrAlreadyExists
	}
	t.m.apiKeys[k.ID] = k
	return nil
}

func (t *memTx) RevokeAPIKey(id string) error {
	k, ok := t.m.apiKeys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.Active = false
	t.m.apiKeys[id] = k
	return nil
}

func (t *memTx) RotateAPIKeyCredential(id, prefix, hash string, expiresAt *time.Time) error {
	return rotateAPIKeyCredential(t.m.apiKeys, id, prefix, hash, expiresAt)
}

func (t *memTx) MaxAggregateVersion(aggregateID string) (int64, error) {
	events := t.m.events[aggregateID]
	var max int64
	if len(events) > 0 {
		max = events[len(events)-1].Version
	}
	for _, e := range t.pendingEvents {
		if e.AggregateID == aggregateID && e.Version > max {
			max = e.Version
		}
	}
	return max, nil
}

func (t *memTx) GetEventByIdempotencyKey(aggregateID, eventID string) (storage.Event, bool, error) {
	if e, ok := t.m.eventsByID[eventKey(aggregateID, eventID)]; ok {
		return e, true, nil
	}
	for _, e := range t.pendingEvents {
		if e.AggregateID == aggregateID && e.EventID == eventID {
			return e, true, nil
		}
	}
	return storage.Event{}, false, nil
}

func (t *memTx) InsertEvent(e storage.Event) error {
	t.pendingEvents = append(t.pendingEvents, e)
	return nil
}

func (t *memTx) InsertOutboxEntry(o storage.OutboxEntry) error {
	t.pendingOutbox = append(t.pendingOutbox, o)
	return nil
}

func (t *memTx) commit() {
	for _, e := range t.pendingEvents {
		t.m.events[e.AggregateID] = append(t.m.events[e.AggregateID], e)
		t.m.eventsByID[eventKey(e.AggregateID, e.EventID)] = e
	}
	for _, o := range t.pendingOutbox {
		t.m.outbox[o.OutboxID] = o
	}
}
