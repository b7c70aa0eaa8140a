package postgres

import (
	"database/sql"
	"time"

	"github.com/nimbusid/authgateway/storage"
)

// pgTx implements storage.Tx over a single *sql.Tx, reusing the same
// scan/exec helpers the auto-committing Conn methods use.
type pgTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*pgTx)(nil)

func (t *pgTx) CreateClient(c storage.Client) error { return createClient(t.tx, c) }

func (t *pgTx) UpdateClient(id string, updater func(old storage.Client) (storage.Client, error)) error {
	old, err := getClient(t.tx, id)
	if err != nil {
		return err
	}
	next, err := updater(old)
	if err != nil {
		return err
	}
	return updateClient(t.tx, next)
}

func (t *pgTx) DeleteClient(id string) error {
	res, err := t.tx.Exec(`delete from clients where id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return checkAffected(res)
}

func (t *pgTx) CreateAuthCode(c storage.AuthorizationCode) error { return createAuthCode(t.tx, c) }

func (t *pgTx) ConsumeAuthCode(codeHash string) (storage.AuthorizationCode, error) {
	return consumeAuthCode(t.tx, codeHash)
}

func (t *pgTx) CreateRefreshToken(r storage.RefreshToken) error { return createRefreshToken(t.tx, r) }

func (t *pgTx) GetRefreshTokenByHash(tokenHash string) (storage.RefreshToken, error) {
	return getRefreshTokenByHash(t.tx, tokenHash)
}

func (t *pgTx) RotateRefreshToken(oldTokenHash string, next storage.RefreshToken) error {
	return rotateRefreshToken(t.tx, oldTokenHash, next)
}

func (t *pgTx) RevokeRefreshFamily(familyID string) error {
	_, err := t.tx.Exec(`insert into revoked_families (family_id) values ($1) on conflict do nothing`, familyID)
	return err
}

func (t *pgTx) CreateSession(s storage.Session) error { return createSession(t.tx, s) }

func (t *pgTx) GetSession(id string) (storage.Session, error) { return getSession(t.tx, id) }

func (t *pgTx) RotateSession(oldID string, next storage.Session) error {
	return rotateSession(t.tx, oldID, next)
}

func (t *pgTx) RevokeSession(id string) error {
	res, err := t.tx.Exec(`update sessions set revoked = true where id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (t *pgTx) CreateAPIKey(k storage.APIKey) error { return createAPIKey(t.tx, k) }

func (t *pgTx) RevokeAPIKey(id string) error {
	res, err := t.tx.Exec(`update api_keys set active = false where id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (t *pgTx) RotateAPIKeyCredential(id, prefix, hash string, expiresAt *time.Time) error {
	return rotateAPIKeyCredential(t.tx, id, prefix, hash, expiresAt)
}

func (t *pgTx) MaxAggregateVersion(aggregateID string) (int64, error) {
	return maxAggregateVersion(t.tx, aggregateID)
}

func (t *pgTx) GetEventByIdempotencyKey(aggregateID, eventID string) (storage.Event, bool, error) {
	return getEventByIdempotencyKey(t.tx, aggregateID, eventID)
}

func (t *pgTx) InsertEvent(e storage.Event) error { return insertEvent(t.tx, e) }

func (t *pgTx) InsertOutboxEntry(o storage.OutboxEntry) error { return insertOutboxEntry(t.tx, o) }
