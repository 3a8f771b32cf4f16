// Package queue is the durable FIFO signal-event queue backed by SQLite
// (WAL mode, serialized writers). Delivery is at-least-once; the
// per-(user, setup_key) dedupe ledger lives in the same database.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Event statuses.
const (
	StatusNew        = "NEW"
	StatusProcessing = "PROCESSING"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Event is one queued signal event.
type Event struct {
	ID            int64     `db:"id" json:"id"`
	CreatedTS     time.Time `db:"created_ts" json:"created_ts"`
	Symbol        string    `db:"symbol" json:"symbol"`
	TF            string    `db:"tf" json:"tf"`
	SetupType     string    `db:"setup_type" json:"setup_type"`
	SetupKey      string    `db:"setup_key" json:"setup_key"`
	PayloadJSON   string    `db:"payload_json" json:"payload_json"`
	Status        string    `db:"status" json:"status"`
	Attempts      int       `db:"attempts" json:"attempts"`
	NextAttemptTS time.Time `db:"next_attempt_ts" json:"next_attempt_ts"`
}

// Payload decodes the event payload into v.
func (e *Event) Payload(v any) error {
	return json.Unmarshal([]byte(e.PayloadJSON), v)
}

// Queue wraps the SQLite store. All writes are serialized by the engine
// (single writer connection, 30s busy timeout).
type Queue struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS queue_events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	created_ts      TIMESTAMP NOT NULL,
	symbol          TEXT NOT NULL,
	tf              TEXT NOT NULL,
	setup_type      TEXT NOT NULL,
	setup_key       TEXT NOT NULL,
	payload_json    TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'NEW',
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_ts TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_claim ON queue_events(status, next_attempt_ts);

CREATE TABLE IF NOT EXISTS telegram_deliveries (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id           TEXT NOT NULL,
	setup_key         TEXT NOT NULL,
	sent_ts           TIMESTAMP NOT NULL,
	cooldown_until_ts TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_dedupe ON telegram_deliveries(user_id, setup_key, cooldown_until_ts);

CREATE TABLE IF NOT EXISTS connect_tokens (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	expires_ts TIMESTAMP NOT NULL,
	used_ts    TIMESTAMP
);
`

// Open opens (creating if needed) the queue database at path.
func Open(path string) (*Queue, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("queue open: %w", err)
	}
	// SQLite allows one writer; keep the pool at one connection so the
	// driver serializes instead of returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue schema: %w", err)
	}
	log.Info().Str("path", path).Msg("event queue opened")
	return &Queue{db: db}, nil
}

// Close closes the database.
func (q *Queue) Close() error { return q.db.Close() }

// Enqueue appends a NEW event. Duplicate (setup_key, payload) enqueues
// produce separate rows; dedupe happens at dispatch time via the delivery
// ledger.
func (q *Queue) Enqueue(symbol, tf, setupType, setupKey string, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("queue enqueue: marshal payload: %w", err)
	}
	now := time.Now().UTC()
	res, err := q.db.Exec(`
		INSERT INTO queue_events (created_ts, symbol, tf, setup_type, setup_key, payload_json, status, attempts, next_attempt_ts)
		VALUES (?, ?, ?, ?, ?, ?, 'NEW', 0, ?)`,
		now, symbol, tf, setupType, setupKey, string(data), now)
	if err != nil {
		return 0, fmt.Errorf("queue enqueue: %w", err)
	}
	return res.LastInsertId()
}

// Claim atomically selects up to batch NEW or retry-ready FAILED events,
// marks them PROCESSING with attempts+1 and a lock horizon of lockSeconds.
// A worker that dies mid-claim releases its events when the horizon
// elapses.
func (q *Queue) Claim(batch, lockSeconds int) ([]Event, error) {
	now := time.Now().UTC()
	tx, err := q.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("queue claim: %w", err)
	}
	defer tx.Rollback()

	var events []Event
	err = tx.Select(&events, `
		SELECT id, created_ts, symbol, tf, setup_type, setup_key, payload_json, status, attempts, next_attempt_ts
		FROM queue_events
		WHERE (status = 'NEW' OR (status IN ('FAILED','PROCESSING') AND next_attempt_ts <= ?))
		ORDER BY id
		LIMIT ?`, now, batch)
	if err != nil {
		return nil, fmt.Errorf("queue claim select: %w", err)
	}
	if len(events) == 0 {
		return nil, tx.Commit()
	}

	horizon := now.Add(time.Duration(lockSeconds) * time.Second)
	for i := range events {
		if _, err := tx.Exec(`
			UPDATE queue_events SET status = 'PROCESSING', attempts = attempts + 1, next_attempt_ts = ?
			WHERE id = ?`, horizon, events[i].ID); err != nil {
			return nil, fmt.Errorf("queue claim update: %w", err)
		}
		events[i].Status = StatusProcessing
		events[i].Attempts++
		events[i].NextAttemptTS = horizon
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue claim commit: %w", err)
	}
	return events, nil
}

// MarkDone moves the event to its terminal DONE state.
func (q *Queue) MarkDone(id int64) error {
	_, err := q.db.Exec(`UPDATE queue_events SET status = 'DONE' WHERE id = ?`, id)
	return err
}

// MarkFailed marks the event FAILED and schedules the retry.
func (q *Queue) MarkFailed(id int64, retryAfter time.Duration) error {
	_, err := q.db.Exec(`UPDATE queue_events SET status = 'FAILED', next_attempt_ts = ? WHERE id = ?`,
		time.Now().UTC().Add(retryAfter), id)
	return err
}

// Depth returns the number of events not yet in a terminal state.
func (q *Queue) Depth() (int, error) {
	var n int
	err := q.db.Get(&n, `SELECT COUNT(*) FROM queue_events WHERE status IN ('NEW','PROCESSING','FAILED')`)
	return n, err
}

// DeliveryRecent reports whether (user, setup_key) is still inside a
// delivery cooldown window at now.
func (q *Queue) DeliveryRecent(userID, setupKey string, now time.Time) (bool, error) {
	var n int
	err := q.db.Get(&n, `
		SELECT COUNT(*) FROM telegram_deliveries
		WHERE user_id = ? AND setup_key = ? AND cooldown_until_ts > ?`,
		userID, setupKey, now.UTC())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordDelivery appends a delivery record with the given cooldown.
func (q *Queue) RecordDelivery(userID, setupKey string, now time.Time, cooldown time.Duration) error {
	_, err := q.db.Exec(`
		INSERT INTO telegram_deliveries (user_id, setup_key, sent_ts, cooldown_until_ts)
		VALUES (?, ?, ?, ?)`,
		userID, setupKey, now.UTC(), now.UTC().Add(cooldown))
	return err
}

// NewConnectToken stores a Telegram account-linking token.
func (q *Queue) NewConnectToken(token, userID string, ttl time.Duration) error {
	_, err := q.db.Exec(`
		INSERT INTO connect_tokens (token, user_id, expires_ts) VALUES (?, ?, ?)`,
		token, userID, time.Now().UTC().Add(ttl))
	return err
}

// ConsumeConnectToken marks an unexpired, unused token as used and
// returns its user. Returns sql.ErrNoRows-wrapped error when invalid.
func (q *Queue) ConsumeConnectToken(token string, now time.Time) (string, error) {
	tx, err := q.db.Beginx()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var userID string
	err = tx.Get(&userID, `
		SELECT user_id FROM connect_tokens
		WHERE token = ? AND expires_ts > ? AND used_ts IS NULL`, token, now.UTC())
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("connect token invalid or expired")
	}
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(`UPDATE connect_tokens SET used_ts = ? WHERE token = ?`, now.UTC(), token); err != nil {
		return "", err
	}
	return userID, tx.Commit()
}

// CleanupDone deletes terminal events older than age.
func (q *Queue) CleanupDone(age time.Duration) (int64, error) {
	res, err := q.db.Exec(`DELETE FROM queue_events WHERE status = 'DONE' AND created_ts < ?`,
		time.Now().UTC().Add(-age))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupDeliveries deletes delivery records whose cooldown has long
// expired.
func (q *Queue) CleanupDeliveries(age time.Duration) (int64, error) {
	res, err := q.db.Exec(`DELETE FROM telegram_deliveries WHERE cooldown_until_ts < ?`,
		time.Now().UTC().Add(-age))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupTokens deletes expired or used connect tokens.
func (q *Queue) CleanupTokens(now time.Time) (int64, error) {
	res, err := q.db.Exec(`DELETE FROM connect_tokens WHERE expires_ts < ? OR used_ts IS NOT NULL`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
