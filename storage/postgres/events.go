package postgres

import (
	"database/sql"
	"errors"
	"time"

	"github.com/nimbusid/authgateway/storage"
)

func insertEvent(q querier, e storage.Event) error {
	_, err := q.Exec(`insert into events
		(event_id, aggregate_type, aggregate_id, version, event_type, event_type_version,
		 payload, actor, request_id, ip_hash, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.EventID, e.AggregateType, e.AggregateID, e.Version, e.EventType, e.EventTypeVersion,
		e.Payload, e.Metadata.Actor, e.Metadata.RequestID, e.Metadata.IPHash, e.OccurredAt.UTC())
	return translate(err)
}

const selectEventCols = `event_id, aggregate_type, aggregate_id, version, event_type, event_type_version,
	payload, actor, request_id, ip_hash, occurred_at`

func scanEvent(row *sql.Row) (storage.Event, error) {
	var e storage.Event
	err := row.Scan(&e.EventID, &e.AggregateType, &e.AggregateID, &e.Version, &e.EventType, &e.EventTypeVersion,
		&e.Payload, &e.Metadata.Actor, &e.Metadata.RequestID, &e.Metadata.IPHash, &e.OccurredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Event{}, storage.ErrNotFound
	}
	return e, err
}

func getEventByIdempotencyKey(q querier, aggregateID, eventID string) (storage.Event, bool, error) {
	row := q.QueryRow(`select `+selectEventCols+` from events where aggregate_id = $1 and event_id = $2`, aggregateID, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Event{}, false, nil
	}
	if err != nil {
		return storage.Event{}, false, err
	}
	return e, true, nil
}

func getEvent(q querier, eventID string) (storage.Event, error) {
	row := q.QueryRow(`select `+selectEventCols+` from events where event_id = $1`, eventID)
	return scanEvent(row)
}

func maxAggregateVersion(q querier, aggregateID string) (int64, error) {
	var v sql.NullInt64
	if err := q.QueryRow(`select max(version) from events where aggregate_id = $1`, aggregateID).Scan(&v); err != nil {
		return 0, err
	}
	return v.Int64, nil
}

func insertOutboxEntry(q querier, o storage.OutboxEntry) error {
	_, err := q.Exec(`insert into outbox
		(outbox_id, event_id, aggregate_id, version, destination, attempts, next_attempt_at, last_error, status)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.OutboxID, o.EventID, o.AggregateID, o.Version, o.Destination, o.Attempts,
		o.NextAttemptAt.UTC(), o.LastError, string(o.Status))
	return translate(err)
}

// claimPendingOutbox must run inside a transaction: it locks the selected
// rows with FOR UPDATE SKIP LOCKED so a second forwarder polling
// concurrently skips past them entirely instead of blocking on or
// re-delivering them, then flips them to OutboxClaimed before the caller
// commits.
func claimPendingOutbox(tx *sql.Tx, limit int, now time.Time) ([]storage.OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := tx.Query(`select outbox_id, event_id, aggregate_id, version, destination, attempts,
		next_attempt_at, last_error, status
		from outbox where status = 'pending' and next_attempt_at <= $1
		order by aggregate_id, version
		limit $2
		for update skip locked`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}

	var out []storage.OutboxEntry
	for rows.Next() {
		var o storage.OutboxEntry
		var status string
		if err := rows.Scan(&o.OutboxID, &o.EventID, &o.AggregateID, &o.Version, &o.Destination, &o.Attempts,
			&o.NextAttemptAt, &o.LastError, &status); err != nil {
			rows.Close()
			return nil, err
		}
		o.Status = storage.OutboxStatus(status)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i, o := range out {
		if _, err := tx.Exec(`update outbox set status = $2 where outbox_id = $1`, o.OutboxID, string(storage.OutboxClaimed)); err != nil {
			return nil, err
		}
		out[i].Status = storage.OutboxClaimed
	}
	return out, nil
}
