package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nimbusid/authgateway/pkg/log"
	"github.com/nimbusid/authgateway/storage"
)

// querier abstracts over *sql.DB and *sql.Tx so CRUD helpers can run either
// auto-committed or inside a caller-managed transaction.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

// Conn is the production storage.Storage, one per process.
type Conn struct {
	db     *sql.DB
	logger log.Logger
}

var _ storage.Storage = (*Conn)(nil)

func (c *Conn) Close() error { return c.db.Close() }

func (c *Conn) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Conn) CreateClient(ctx context.Context, cl storage.Client) error {
	return createClient(c.db, cl)
}

func (c *Conn) GetClient(ctx context.Context, id string) (storage.Client, error) {
	return getClient(c.db, id)
}

func (c *Conn) ListClients(ctx context.Context) ([]storage.Client, error) {
	return listClients(c.db)
}

func (c *Conn) UpdateClient(ctx context.Context, id string, updater func(old storage.Client) (storage.Client, error)) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	old, err := getClient(tx, id)
	if err != nil {
		return err
	}
	next, err := updater(old)
	if err != nil {
		return err
	}
	if err := updateClient(tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Conn) DeleteClient(ctx context.Context, id string) error {
	res, err := c.db.Exec(`delete from clients where id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return checkAffected(res)
}

func (c *Conn) CreateAuthCode(ctx context.Context, ac storage.AuthorizationCode) error {
	return createAuthCode(c.db, ac)
}

func (c *Conn) GetAuthCode(ctx context.Context, codeHash string) (storage.AuthorizationCode, error) {
	return getAuthCode(c.db, codeHash)
}

func (c *Conn) ConsumeAuthCode(ctx context.Context, codeHash string) (storage.AuthorizationCode, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.AuthorizationCode{}, err
	}
	defer tx.Rollback()

	ac, err := consumeAuthCode(tx, codeHash)
	if err != nil {
		return storage.AuthorizationCode{}, err
	}
	return ac, tx.Commit()
}

func (c *Conn) DeleteExpiredAuthCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := c.db.Exec(`delete from authorization_codes where expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *Conn) CreateRefreshToken(ctx context.Context, r storage.RefreshToken) error {
	return createRefreshToken(c.db, r)
}

func (c *Conn) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (storage.RefreshToken, error) {
	return getRefreshTokenByHash(c.db, tokenHash)
}

func (c *Conn) RotateRefreshToken(ctx context.Context, oldTokenHash string, next storage.RefreshToken) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := rotateRefreshToken(tx, oldTokenHash, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Conn) RevokeRefreshFamily(ctx context.Context, familyID string) error {
	_, err := c.db.Exec(`insert into revoked_families (family_id) values ($1) on conflict do nothing`, familyID)
	return err
}

func (c *Conn) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	var exists bool
	err := c.db.QueryRow(`select exists(select 1 from revoked_families where family_id = $1)`, familyID).Scan(&exists)
	return exists, err
}

func (c *Conn) CreateSession(ctx context.Context, s storage.Session) error {
	return createSession(c.db, s)
}

func (c *Conn) GetSession(ctx context.Context, id string) (storage.Session, error) {
	return getSession(c.db, id)
}

func (c *Conn) RotateSession(ctx context.Context, oldID string, next storage.Session) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := rotateSession(tx, oldID, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Conn) RevokeSession(ctx context.Context, id string) error {
	res, err := c.db.Exec(`update sessions set revoked = true where id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (c *Conn) CreateAPIKey(ctx context.Context, k storage.APIKey) error {
	return createAPIKey(c.db, k)
}

func (c *Conn) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]storage.APIKey, error) {
	return getAPIKeysByPrefix(c.db, prefix)
}

func (c *Conn) GetAPIKey(ctx context.Context, id string) (storage.APIKey, error) {
	return getAPIKey(c.db, id)
}

func (c *Conn) ListAPIKeysByOwner(ctx context.Context, owner string) ([]storage.APIKey, error) {
	return listAPIKeysByOwner(c.db, owner)
}

func (c *Conn) TouchAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	res, err := c.db.Exec(`update api_keys set last_used_at = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (c *Conn) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := c.db.Exec(`update api_keys set active = false where id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (c *Conn) RotateAPIKeyCredential(ctx context.Context, id, prefix, hash string, expiresAt *time.Time) error {
	return rotateAPIKeyCredential(c.db, id, prefix, hash, expiresAt)
}

func (c *Conn) GetEventByIdempotencyKey(ctx context.Context, aggregateID, eventID string) (storage.Event, bool, error) {
	return getEventByIdempotencyKey(c.db, aggregateID, eventID)
}

func (c *Conn) GetEvent(ctx context.Context, eventID string) (storage.Event, error) {
	return getEvent(c.db, eventID)
}

func (c *Conn) MaxAggregateVersion(ctx context.Context, aggregateID string) (int64, error) {
	return maxAggregateVersion(c.db, aggregateID)
}

func (c *Conn) ClaimPendingOutbox(ctx context.Context, limit int, now time.Time) ([]storage.OutboxEntry, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out, err := claimPendingOutbox(tx, limit, now)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func (c *Conn) MarkOutboxSent(ctx context.Context, outboxID string) error {
	res, err := c.db.Exec(`update outbox set status = 'sent' where outbox_id = $1`, outboxID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (c *Conn) MarkOutboxRetry(ctx context.Context, outboxID string, nextAttempt time.Time, lastErr string, attempts int) error {
	res, err := c.db.Exec(`update outbox set status = 'pending', attempts = $2, next_attempt_at = $3, last_error = $4 where outbox_id = $1`,
		outboxID, attempts, nextAttempt.UTC(), lastErr)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (c *Conn) MarkOutboxFailed(ctx context.Context, outboxID string, lastErr string, attempts int) error {
	res, err := c.db.Exec(`update outbox set status = 'failed', attempts = $2, last_error = $3 where outbox_id = $1`,
		outboxID, attempts, lastErr)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (c *Conn) CountOutbox(ctx context.Context, status storage.OutboxStatus) (int64, error) {
	var n int64
	err := c.db.QueryRow(`select count(*) from outbox where status = $1`, string(status)).Scan(&n)
	return n, err
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// WithTx runs fn inside a serializable transaction, retrying automatically
// when Postgres reports a serialization failure or the (aggregate_id,
// version) unique index is violated by a concurrent writer — the signal
// that two callers raced to append the next event for the same aggregate.
func (c *Conn) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}

	var lastErr error
	for attempt := 0; attempt < storage.MaxSerializationRetries; attempt++ {
		sqlTx, err := c.db.BeginTx(ctx, opts)
		if err != nil {
			return err
		}

		txErr := fn(&pgTx{tx: sqlTx})
		if txErr != nil {
			sqlTx.Rollback()
			if isSerializationConflict(txErr) {
				lastErr = storage.ErrSequenceConflict
				continue
			}
			return txErr
		}

		if err := sqlTx.Commit(); err != nil {
			if isSerializationConflict(err) {
				lastErr = storage.ErrSequenceConflict
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("postgres: gave up after %d serialization conflicts: %w", storage.MaxSerializationRetries, lastErr)
}
