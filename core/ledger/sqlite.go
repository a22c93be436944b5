package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// sqliteSchemaVersion is the latest ledger schema the migrator produces.
const sqliteSchemaVersion = 1

// SQLiteStore is the durable Store. The unique index on
// (correlation_id, idempotency_key) makes Append's check-and-insert atomic:
// the insert either wins or the existing row is read back.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

type SQLiteOption func(*SQLiteStore)

func WithSQLiteClock(clock func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.clock = clock }
}

// OpenSQLite opens (creating if needed) the ledger database at path and
// migrates it to the current schema.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// Serialized writes; concurrent appends contend on the file lock and
	// are retried by withBusyRetry.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current); err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	transaction, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = transaction.Rollback()
	}()

	if _, err := transaction.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_entries (
			event_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			reason_code TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			idempotency_key TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("migrate: create ledger_entries: %w", err)
	}

	if _, err := transaction.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency
		ON ledger_entries (correlation_id, idempotency_key);
	`); err != nil {
		return fmt.Errorf("migrate: create idempotency index: %w", err)
	}

	if _, err := transaction.Exec(`INSERT INTO schema_migrations (version) VALUES (?);`, sqliteSchemaVersion); err != nil {
		return fmt.Errorf("migrate: record version: %w", err)
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("migrate: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, entry Entry) (Entry, bool, error) {
	if err := entry.validate(); err != nil {
		return Entry{}, false, err
	}

	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = s.clock().UTC()
	}

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to encode ledger payload: %w", err)
	}

	var result sql.Result
	op := func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, `
			INSERT INTO ledger_entries
				(event_id, tenant_id, correlation_id, turn_id, event_type, reason_code, payload, idempotency_key, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (correlation_id, idempotency_key) DO NOTHING;
		`,
			entry.EventID, entry.TenantID, entry.CorrelationID, entry.TurnID,
			string(entry.EventType), entry.ReasonCode, string(payload),
			entry.IdempotencyKey, entry.RecordedAt.Format(time.RFC3339Nano),
		)
		return retryIfBusy(execErr)
	}
	if err := backoff.Retry(op, appendBackoff(ctx)); err != nil {
		return Entry{}, false, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read append result: %w", err)
	}
	if inserted == 0 {
		// Lost the key race or replaying: the original row wins.
		existing, err := s.Lookup(ctx, entry.CorrelationID, entry.IdempotencyKey)
		if err != nil {
			return Entry{}, false, err
		}
		if existing == nil {
			return Entry{}, false, fmt.Errorf("ledger entry vanished after conflict for key %q", entry.IdempotencyKey)
		}
		return *existing, false, nil
	}
	return entry, true, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, correlationID, idempotencyKey string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, tenant_id, correlation_id, turn_id, event_type, reason_code, payload, idempotency_key, recorded_at
		FROM ledger_entries
		WHERE correlation_id = ? AND idempotency_key = ?;
	`, correlationID, idempotencyKey)

	entry, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up ledger entry: %w", err)
	}
	return &entry, nil
}

func (s *SQLiteStore) List(ctx context.Context, correlationID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, tenant_id, correlation_id, turn_id, event_type, reason_code, payload, idempotency_key, recorded_at
		FROM ledger_entries
		WHERE correlation_id = ?
		ORDER BY recorded_at, event_id;
	`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}

func scanEntry(scan func(...any) error) (Entry, error) {
	var entry Entry
	var eventType, recordedAt, payload string
	if err := scan(
		&entry.EventID, &entry.TenantID, &entry.CorrelationID, &entry.TurnID,
		&eventType, &entry.ReasonCode, &payload, &entry.IdempotencyKey, &recordedAt,
	); err != nil {
		return Entry{}, err
	}

	entry.EventType = EventType(eventType)
	if payload != "" && payload != "{}" && payload != "null" {
		if err := json.Unmarshal([]byte(payload), &entry.Payload); err != nil {
			return Entry{}, fmt.Errorf("failed to decode ledger payload: %w", err)
		}
	}
	parsed, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to parse recorded_at: %w", err)
	}
	entry.RecordedAt = parsed
	return entry, nil
}

func appendBackoff(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(policy, 8), ctx)
}

// retryIfBusy marks file-lock contention retryable and everything else
// permanent.
func retryIfBusy(err error) error {
	if err == nil {
		return nil
	}
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "busy") || strings.Contains(message, "locked") {
		return err
	}
	return backoff.Permanent(err)
}
