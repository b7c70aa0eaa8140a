package postgres

import (
	"database/sql"
	"fmt"
)

type migration struct {
	stmt string
}

// migrations is append-only: once a statement ships, it is never edited,
// only followed by a new entry.
var migrations = []migration{
	{stmt: `
		create table if not exists clients (
			id              text primary key,
			name            text not null,
			public          boolean not null,
			secret_hash     text not null default '',
			redirect_uris   jsonb not null default '[]',
			grant_types     jsonb not null default '[]',
			scopes          jsonb not null default '[]',
			project_scope   text not null default '',
			require_pkce    boolean not null default true,
			allow_plain_pkce boolean not null default false,
			machine_scopes  jsonb not null default '[]',
			logo_url        text not null default '',
			created_at      timestamptz not null
		);
	`},
	{stmt: `
		create table if not exists authorization_codes (
			code_hash     text primary key,
			client_id     text not null references clients(id),
			redirect_uri  text not null,
			scopes        jsonb not null default '[]',
			project_scope text not null default '',
			challenge     text not null default '',
			challenge_method text not null default '',
			subject       text not null,
			issued_at     timestamptz not null,
			expires_at    timestamptz not null,
			consumed      boolean not null default false
		);
		create index if not exists authorization_codes_expires_at_idx on authorization_codes(expires_at);
	`},
	{stmt: `
		create table if not exists refresh_tokens (
			token_hash    text primary key,
			family_id     text not null,
			client_id     text not null references clients(id),
			subject       text not null,
			scopes        jsonb not null default '[]',
			project_scope text not null default '',
			parent_jti    text not null default '',
			rotation      integer not null default 0,
			issued_at     timestamptz not null,
			revoked       boolean not null default false,
			superseded    boolean not null default false
		);
		create index if not exists refresh_tokens_family_id_idx on refresh_tokens(family_id);

		create table if not exists revoked_families (
			family_id  text primary key,
			revoked_at timestamptz not null default now()
		);
	`},
	{stmt: `
		create table if not exists sessions (
			id                 text primary key,
			subject            text not null,
			issued_at          timestamptz not null,
			last_seen_at       timestamptz not null,
			device_fingerprint text not null default '',
			revoked            boolean not null default false
		);
	`},
	{stmt: `
		create table if not exists api_keys (
			id            text primary key,
			name          text not null,
			owner         text not null,
			prefix        text not null,
			hash          text not null,
			scopes        jsonb not null default '[]',
			created_at    timestamptz not null,
			expires_at    timestamptz,
			last_used_at  timestamptz,
			active        boolean not null default true
		);
		create index if not exists api_keys_prefix_idx on api_keys(prefix);
		create index if not exists api_keys_owner_idx on api_keys(owner);
	`},
	{stmt: `
		create table if not exists events (
			event_id           uuid not null,
			aggregate_type     text not null,
			aggregate_id       text not null,
			version            bigint not null,
			event_type         text not null,
			event_type_version integer not null default 1,
			payload            jsonb not null,
			actor              text not null default '',
			request_id         text not null default '',
			ip_hash            text not null default '',
			occurred_at        timestamptz not null,
			primary key (aggregate_id, event_id)
		);
		create unique index if not exists events_aggregate_version_idx on events(aggregate_id, version);
	`},
	{stmt: `
		create table if not exists outbox (
			outbox_id       text primary key,
			event_id        uuid not null,
			aggregate_id    text not null,
			version         bigint not null,
			destination     text not null,
			attempts        integer not null default 0,
			next_attempt_at timestamptz not null,
			last_error      text not null default '',
			status          text not null default 'pending'
		);
		create index if not exists outbox_pending_idx on outbox(status, next_attempt_at);
	`},
}

// migrate applies any migrations not yet recorded in the migrations table,
// one per transaction, in order. It is safe to call on every process
// startup.
func (c *Conn) migrate() (int, error) {
	if _, err := c.db.Exec(`
		create table if not exists schema_migrations (
			num integer not null,
			applied_at timestamptz not null default now()
		);
	`); err != nil {
		return 0, fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var applied int
	for {
		done, err := c.applyNextMigration()
		if err != nil {
			return applied, err
		}
		if done {
			return applied, nil
		}
		applied++
	}
}

func (c *Conn) applyNextMigration() (done bool, err error) {
	tx, err := c.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var n sql.NullInt64
	if err := tx.QueryRow(`select max(num) from schema_migrations`).Scan(&n); err != nil {
		return false, fmt.Errorf("select max migration: %w", err)
	}
	next := 0
	if n.Valid {
		next = int(n.Int64) + 1
	}
	if next >= len(migrations) {
		return true, nil
	}

	if _, err := tx.Exec(migrations[next].stmt); err != nil {
		return false, fmt.Errorf("migration %d: %w", next, err)
	}
	if _, err := tx.Exec(`insert into schema_migrations (num) values ($1)`, next); err != nil {
		return false, fmt.Errorf("recording migration %d: %w", next, err)
	}
	return false, tx.Commit()
}
