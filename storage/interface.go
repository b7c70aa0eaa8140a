package storage

import (
	"context"
	"time"
)

// Storage is the Gateway store's persistence contract. Implementations
// must support atomic compare-and-swap updates and store all timestamps
// as UTC. All methods outside WithTx open and commit their own
// transaction; every write that must be paired with an event/outbox
// append goes through WithTx instead.
type Storage interface {
	Close() error
	HealthCheck(ctx context.Context) error

	// Clients.
	CreateClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id string) (Client, error)
	ListClients(ctx context.Context) ([]Client, error)
	UpdateClient(ctx context.Context, id string, updater func(old Client) (Client, error)) error
	DeleteClient(ctx context.Context, id string) error

	// Authorization codes.
	CreateAuthCode(ctx context.Context, c AuthorizationCode) error
	GetAuthCode(ctx context.Context, codeHash string) (AuthorizationCode, error)
	ConsumeAuthCode(ctx context.Context, codeHash string) (AuthorizationCode, error)
	DeleteExpiredAuthCodes(ctx context.Context, now time.Time) (int64, error)

	// Refresh tokens, grouped by rotation family.
	CreateRefreshToken(ctx context.Context, r RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldTokenHash string, next RefreshToken) error
	RevokeRefreshFamily(ctx context.Context, familyID string) error
	IsFamilyRevoked(ctx context.Context, familyID string) (bool, error)

	// Sessions.
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	RotateSession(ctx context.Context, oldID string, next Session) error
	RevokeSession(ctx context.Context, id string) error

	// API keys.
	CreateAPIKey(ctx context.Context, k APIKey) error
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKey, error)
	GetAPIKey(ctx context.Context, id string) (APIKey, error)
	ListAPIKeysByOwner(ctx context.Context, owner string) ([]APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error
	RevokeAPIKey(ctx context.Context, id string) error
	// RotateAPIKeyCredential replaces a key's credential material (lookup
	// prefix, hash, expiry) in place, preserving ID, Name, Owner, and
	// Scopes, and reactivates it if it had been revoked.
	RotateAPIKeyCredential(ctx context.Context, id, prefix, hash string, expiresAt *time.Time) error

	// Events + outbox reads used outside of a write transaction.
	GetEventByIdempotencyKey(ctx context.Context, aggregateID, eventID string) (Event, bool, error)
	MaxAggregateVersion(ctx context.Context, aggregateID string) (int64, error)

	// ClaimPendingOutbox atomically moves up to limit pending, due entries
	// to OutboxClaimed and returns them, so that two forwarder instances
	// polling concurrently never deliver the same entry: the row lock
	// held while claiming makes the second poller skip rows the first
	// one already took. Every claimed entry must be settled by exactly
	// one of MarkOutboxSent, MarkOutboxRetry (which re-publishes it as
	// pending), or MarkOutboxFailed; a process that crashes between
	// claiming and settling leaves the entry claimed until an operator
	// intervenes.
	ClaimPendingOutbox(ctx context.Context, limit int, now time.Time) ([]OutboxEntry, error)
	MarkOutboxSent(ctx context.Context, outboxID string) error
	MarkOutboxRetry(ctx context.Context, outboxID string, nextAttempt time.Time, lastErr string, attempts int) error
	MarkOutboxFailed(ctx context.Context, outboxID string, lastErr string, attempts int) error
	CountOutbox(ctx context.Context, status OutboxStatus) (int64, error)
	GetEvent(ctx context.Context, eventID string) (Event, error)

	// WithTx runs fn inside a single database transaction. Implementations
	// retry automatically on ErrSequenceConflict up to
	// MaxSerializationRetries times before giving up.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the subset of write operations usable inside WithTx, plus the
// event/outbox append primitives that must share the caller's
// transaction so a state change and its event/outbox row commit or
// roll back together.
type Tx interface {
	CreateClient(c Client) error
	UpdateClient(id string, updater func(old Client) (Client, error)) error
	DeleteClient(id string) error

	CreateAuthCode(c AuthorizationCode) error
	ConsumeAuthCode(codeHash string) (AuthorizationCode, error)

	CreateRefreshToken(r RefreshToken) error
	GetRefreshTokenByHash(tokenHash string) (RefreshToken, error)
	RotateRefreshToken(oldTokenHash string, next RefreshToken) error
	RevokeRefreshFamily(familyID string) error

	CreateSession(s Session) error
	GetSession(id string) (Session, error)
	RotateSession(oldID string, next Session) error
	RevokeSession(id string) error

	CreateAPIKey(k APIKey) error
	RevokeAPIKey(id string) error
	RotateAPIKeyCredential(id, prefix, hash string, expiresAt *time.Time) error

	MaxAggregateVersion(aggregateID string) (int64, error)
	GetEventByIdempotencyKey(aggregateID, eventID string) (Event, bool, error)
	InsertEvent(e Event) error
	InsertOutboxEntry(o OutboxEntry) error
}
