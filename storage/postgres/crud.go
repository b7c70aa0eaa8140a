package postgres

import (
	"database/sql"
	"errors"
	"time"

	"github.com/nimbusid/authgateway/storage"
)

func createClient(q querier, c storage.Client) error {
	_, err := q.Exec(`insert into clients
		(id, name, public, secret_hash, redirect_uris, grant_types, scopes, project_scope,
		 require_pkce, allow_plain_pkce, machine_scopes, logo_url, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.Name, c.Public, c.SecretHash, jsonCol(&c.RedirectURIs), jsonCol(&c.GrantTypes),
		jsonCol(&c.Scopes), c.ProjectScope, c.RequirePKCE, c.AllowPlainPKCE, jsonCol(&c.MachineScopes),
		c.LogoURL, c.CreatedAt.UTC())
	return translate(err)
}

func scanClient(row *sql.Row) (storage.Client, error) {
	var c storage.Client
	err := row.Scan(&c.ID, &c.Name, &c.Public, &c.SecretHash, jsonCol(&c.RedirectURIs), jsonCol(&c.GrantTypes),
		jsonCol(&c.Scopes), &c.ProjectScope, &c.RequirePKCE, &c.AllowPlainPKCE, jsonCol(&c.MachineScopes),
		&c.LogoURL, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Client{}, storage.ErrNotFound
	}
	return c, err
}

const selectClientCols = `id, name, public, secret_hash, redirect_uris, grant_types, scopes, project_scope,
	require_pkce, allow_plain_pkce, machine_scopes, logo_url, created_at`

func getClient(q querier, id string) (storage.Client, error) {
	row := q.QueryRow(`select `+selectClientCols+` from clients where id = $1`, id)
	return scanClient(row)
}

func listClients(q querier) ([]storage.Client, error) {
	rows, err := q.Query(`select ` + selectClientCols + ` from clients order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Client
	for rows.Next() {
		var c storage.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Public, &c.SecretHash, jsonCol(&c.RedirectURIs), jsonCol(&c.GrantTypes),
			jsonCol(&c.Scopes), &c.ProjectScope, &c.RequirePKCE, &c.AllowPlainPKCE, jsonCol(&c.MachineScopes),
			&c.LogoURL, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func updateClient(q querier, c storage.Client) error {
	res, err := q.Exec(`update clients set
		name = $2, public = $3, secret_hash = $4, redirect_uris = $5, grant_types = $6, scopes = $7,
		project_scope = $8, require_pkce = $9, allow_plain_pkce = $10, machine_scopes = $11, logo_url = $12
		where id = $1`,
		c.ID, c.Name, c.Public, c.SecretHash, jsonCol(&c.RedirectURIs), jsonCol(&c.GrantTypes),
		jsonCol(&c.Scopes), c.ProjectScope, c.RequirePKCE, c.AllowPlainPKCE, jsonCol(&c.MachineScopes), c.LogoURL)
	if err != nil {
		return translate(err)
	}
	return checkAffected(res)
}

func createAuthCode(q querier, ac storage.AuthorizationCode) error {
	_, err := q.Exec(`insert into authorization_codes
		(code_hash, client_id, redirect_uri, scopes, project_scope, challenge, challenge_method,
		 subject, issued_at, expires_at, consumed)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false)`,
		ac.CodeHash, ac.ClientID, ac.RedirectURI, jsonCol(&ac.Scopes), ac.ProjectScope,
		ac.PKCE.CodeChallenge, ac.PKCE.CodeChallengeMethod, ac.Subject, ac.IssuedAt.UTC(), ac.ExpiresAt.UTC())
	return translate(err)
}

const selectAuthCodeCols = `code_hash, client_id, redirect_uri, scopes, project_scope, challenge,
	challenge_method, subject, issued_at, expires_at, consumed`

func scanAuthCode(row *sql.Row) (storage.AuthorizationCode, error) {
	var ac storage.AuthorizationCode
	err := row.Scan(&ac.CodeHash, &ac.ClientID, &ac.RedirectURI, jsonCol(&ac.Scopes), &ac.ProjectScope,
		&ac.PKCE.CodeChallenge, &ac.PKCE.CodeChallengeMethod, &ac.Subject, &ac.IssuedAt, &ac.ExpiresAt, &ac.Consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.AuthorizationCode{}, storage.ErrNotFound
	}
	return ac, err
}

func getAuthCode(q querier, codeHash string) (storage.AuthorizationCode, error) {
	row := q.QueryRow(`select `+selectAuthCodeCols+` from authorization_codes where code_hash = $1`, codeHash)
	return scanAuthCode(row)
}

// consumeAuthCode must run inside a transaction: it selects the row with a
// row lock, refuses a second consumption, and flips the flag before
// returning the pre-consumption view the caller validates against.
func consumeAuthCode(tx *sql.Tx, codeHash string) (storage.AuthorizationCode, error) {
	row := tx.QueryRow(`select `+selectAuthCodeCols+` from authorization_codes where code_hash = $1 for update`, codeHash)
	ac, err := scanAuthCode(row)
	if err != nil {
		return storage.AuthorizationCode{}, err
	}
	if ac.Consumed {
		return storage.AuthorizationCode{}, storage.ErrAlreadyExists
	}
	if _, err := tx.Exec(`update authorization_codes set consumed = true where code_hash = $1`, codeHash); err != nil {
		return storage.AuthorizationCode{}, err
	}
	return ac, nil
}

func createRefreshToken(q querier, r storage.RefreshToken) error {
	_, err := q.Exec(`insert into refresh_tokens
		(token_hash, family_id, client_id, subject, scopes, project_scope, parent_jti, rotation,
		 issued_at, revoked, superseded)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,false)`,
		r.TokenHash, r.FamilyID, r.ClientID, r.Subject, jsonCol(&r.Scopes), r.ProjectScope,
		r.ParentJTI, r.Rotation, r.IssuedAt.UTC())
	return translate(err)
}

const selectRefreshCols = `token_hash, family_id, client_id, subject, scopes, project_scope, parent_jti,
	rotation, issued_at, revoked, superseded`

func scanRefreshToken(row *sql.Row) (storage.RefreshToken, error) {
	var r storage.RefreshToken
	err := row.Scan(&r.TokenHash, &r.FamilyID, &r.ClientID, &r.Subject, jsonCol(&r.Scopes), &r.ProjectScope,
		&r.ParentJTI, &r.Rotation, &r.IssuedAt, &r.Revoked, &r.Superseded)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.RefreshToken{}, storage.ErrNotFound
	}
	return r, err
}

func getRefreshTokenByHash(q querier, tokenHash string) (storage.RefreshToken, error) {
	row := q.QueryRow(`select `+selectRefreshCols+` from refresh_tokens where token_hash = $1`, tokenHash)
	r, err := scanRefreshToken(row)
	if err != nil {
		return storage.RefreshToken{}, err
	}
	var revokedFamily bool
	if err := q.QueryRow(`select exists(select 1 from revoked_families where family_id = $1)`, r.FamilyID).Scan(&revokedFamily); err != nil {
		return storage.RefreshToken{}, err
	}
	if revokedFamily {
		r.Revoked = true
	}
	return r, nil
}

func rotateRefreshToken(tx *sql.Tx, oldTokenHash string, next storage.RefreshToken) error {
	res, err := tx.Exec(`update refresh_tokens set superseded = true where token_hash = $1`, oldTokenHash)
	if err != nil {
		return translate(err)
	}
	if err := checkAffected(res); err != nil {
		return err
	}
	return createRefreshToken(tx, next)
}

func createSession(q querier, s storage.Session) error {
	_, err := q.Exec(`insert into sessions (id, subject, issued_at, last_seen_at, device_fingerprint, revoked)
		values ($1,$2,$3,$4,$5,false)`,
		s.ID, s.Subject, s.IssuedAt.UTC(), s.LastSeenAt.UTC(), s.DeviceFingerprint)
	return translate(err)
}

func scanSession(row *sql.Row) (storage.Session, error) {
	var s storage.Session
	err := row.Scan(&s.ID, &s.Subject, &s.IssuedAt, &s.LastSeenAt, &s.DeviceFingerprint, &s.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Session{}, storage.ErrNotFound
	}
	return s, err
}

func getSession(q querier, id string) (storage.Session, error) {
	row := q.QueryRow(`select id, subject, issued_at, last_seen_at, device_fingerprint, revoked from sessions where id = $1`, id)
	return scanSession(row)
}

func rotateSession(tx *sql.Tx, oldID string, next storage.Session) error {
	res, err := tx.Exec(`update sessions set revoked = true where id = $1`, oldID)
	if err != nil {
		return err
	}
	if err := checkAffected(res); err != nil {
		return err
	}
	return createSession(tx, next)
}

func rotateAPIKeyCredential(q querier, id, prefix, hash string, expiresAt *time.Time) error {
	res, err := q.Exec(`update api_keys set prefix = $2, hash = $3, expires_at = $4, active = true, last_used_at = null where id = $1`,
		id, prefix, hash, nullableTime(expiresAt))
	if err != nil {
		return translate(err)
	}
	return checkAffected(res)
}

func createAPIKey(q querier, k storage.APIKey) error {
	_, err := q.Exec(`insert into api_keys
		(id, name, owner, prefix, hash, scopes, created_at, expires_at, last_used_at, active)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,true)`,
		k.ID, k.Name, k.Owner, k.Prefix, k.Hash, jsonCol(&k.Scopes), k.CreatedAt.UTC(),
		nullableTime(k.ExpiresAt), nullableTime(k.LastUsedAt))
	return translate(err)
}

const selectAPIKeyCols = `id, name, owner, prefix, hash, scopes, created_at, expires_at, last_used_at, active`

func scanAPIKey(row *sql.Row) (storage.APIKey, error) {
	var k storage.APIKey
	var expiresAt, lastUsedAt sql.NullTime
	err := row.Scan(&k.ID, &k.Name, &k.Owner, &k.Prefix, &k.Hash, jsonCol(&k.Scopes), &k.CreatedAt, &expiresAt, &lastUsedAt, &k.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.APIKey{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.APIKey{}, err
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Time
	}
	return k, nil
}

func getAPIKey(q querier, id string) (storage.APIKey, error) {
	row := q.QueryRow(`select `+selectAPIKeyCols+` from api_keys where id = $1`, id)
	return scanAPIKey(row)
}

func getAPIKeysByPrefix(q querier, prefix string) ([]storage.APIKey, error) {
	rows, err := q.Query(`select `+selectAPIKeyCols+` from api_keys where prefix = $1`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAPIKeyRows(rows)
}

func listAPIKeysByOwner(q querier, owner string) ([]storage.APIKey, error) {
	rows, err := q.Query(`select `+selectAPIKeyCols+` from api_keys where owner = $1 order by created_at`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAPIKeyRows(rows)
}

func scanAPIKeyRows(rows *sql.Rows) ([]storage.APIKey, error) {
	var out []storage.APIKey
	for rows.Next() {
		var k storage.APIKey
		var expiresAt, lastUsedAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &k.Owner, &k.Prefix, &k.Hash, jsonCol(&k.Scopes), &k.CreatedAt, &expiresAt, &lastUsedAt, &k.Active); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Time
		}
		if lastUsedAt.Valid {
			k.LastUsedAt = &lastUsedAt.Time
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
