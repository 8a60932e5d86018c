package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/payoutcore/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/payoutcore/internal/services/payout/storage"
	"github.com/louisbranch/payoutcore/internal/services/payout/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed settlement events and the transfer journal.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a payout SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.sqlDB.PingContext(ctx)
}

func toInt64(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, fmt.Errorf("amount out of range")
	}
	return int64(amount), nil
}

// PutSettlementEvent inserts a new settlement event. Events written by the
// settlement policy always start pending.
func (s *Store) PutSettlementEvent(ctx context.Context, event storage.SettlementEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if event.Kind == "" {
		event.Kind = storage.EventKindMatch
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	participants := event.Participants
	if participants == nil {
		participants = []string{}
	}
	participantsJSON, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	amount, err := toInt64(event.WagerAmount)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO settlement_events (
	id,
	kind,
	participants,
	wager_asset,
	wager_amount,
	status,
	created_at
) VALUES (?, ?, ?, ?, ?, 'pending', ?)
`,
		event.ID,
		string(event.Kind),
		string(participantsJSON),
		event.WagerAsset,
		amount,
		event.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put settlement event: %w", err)
	}
	return nil
}

// GetSettlementEvent implements storage.EventStore.
func (s *Store) GetSettlementEvent(ctx context.Context, id string) (storage.SettlementEvent, error) {
	if err := ctx.Err(); err != nil {
		return storage.SettlementEvent{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SettlementEvent{}, fmt.Errorf("storage is not configured")
	}

	var (
		event            storage.SettlementEvent
		kind             string
		participantsJSON string
		amount           int64
		status           string
		settledAt        sql.NullInt64
		createdAt        int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
	id,
	kind,
	participants,
	wager_asset,
	wager_amount,
	status,
	settlement_ref,
	settled_at,
	created_at
FROM settlement_events
WHERE id = ?
`, strings.TrimSpace(id)).Scan(
		&event.ID,
		&kind,
		&participantsJSON,
		&event.WagerAsset,
		&amount,
		&status,
		&event.SettlementRef,
		&settledAt,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SettlementEvent{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SettlementEvent{}, fmt.Errorf("get settlement event: %w", err)
	}
	if err := json.Unmarshal([]byte(participantsJSON), &event.Participants); err != nil {
		return storage.SettlementEvent{}, fmt.Errorf("decode participants: %w", err)
	}
	event.Kind = storage.EventKind(kind)
	event.WagerAmount = uint64(amount)
	event.Status = storage.SettlementStatus(status)
	event.CreatedAt = time.UnixMilli(createdAt).UTC()
	if settledAt.Valid {
		event.SettledAt = time.UnixMilli(settledAt.Int64).UTC()
	}
	return event, nil
}

// MarkSettled implements storage.EventStore.
func (s *Store) MarkSettled(ctx context.Context, id string, status storage.SettlementStatus, ref string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if status != storage.StatusCompleted && status != storage.StatusRefunded {
		return false, fmt.Errorf("invalid settlement status %q", status)
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE settlement_events
SET status = ?, settlement_ref = ?, settled_at = ?
WHERE id = ? AND status = 'pending'
`,
		string(status),
		ref,
		at.UTC().UnixMilli(),
		strings.TrimSpace(id),
	)
	if err != nil {
		return false, fmt.Errorf("mark settled: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark settled rows: %w", err)
	}
	return affected == 1, nil
}

// RecordTransfer implements storage.TransferJournal.
func (s *Store) RecordTransfer(ctx context.Context, record storage.TransferRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.Signature) == "" {
		return fmt.Errorf("signature is required")
	}
	if strings.TrimSpace(record.EventID) == "" {
		return fmt.Errorf("event id is required")
	}
	if record.Kind != storage.TransferPayout && record.Kind != storage.TransferRefund {
		return fmt.Errorf("transfer kind %q is invalid", record.Kind)
	}
	if record.State == "" {
		record.State = storage.TransferBroadcast
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	amount, err := toInt64(record.Amount)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO payout_transfers (
	signature,
	event_id,
	kind,
	recipient,
	asset,
	amount,
	state,
	created_at,
	updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.Signature,
		record.EventID,
		string(record.Kind),
		record.Recipient,
		record.Asset,
		amount,
		string(record.State),
		record.CreatedAt.UTC().UnixMilli(),
		record.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	return nil
}

// UpdateTransferState implements storage.TransferJournal.
func (s *Store) UpdateTransferState(ctx context.Context, signature string, state storage.TransferState, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE payout_transfers SET state = ?, updated_at = ? WHERE signature = ?
`, string(state), at.UTC().UnixMilli(), signature)
	if err != nil {
		return fmt.Errorf("update transfer state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transfer rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListTransfers implements storage.TransferJournal, oldest first.
func (s *Store) ListTransfers(ctx context.Context, eventID string) ([]storage.TransferRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	signature,
	event_id,
	kind,
	recipient,
	asset,
	amount,
	state,
	created_at,
	updated_at
FROM payout_transfers
WHERE event_id = ?
ORDER BY created_at ASC, signature ASC
`, strings.TrimSpace(eventID))
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var records []storage.TransferRecord
	for rows.Next() {
		var (
			record    storage.TransferRecord
			kind      string
			amount    int64
			state     string
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(
			&record.Signature,
			&record.EventID,
			&kind,
			&record.Recipient,
			&record.Asset,
			&amount,
			&state,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		record.Kind = storage.TransferKind(kind)
		record.Amount = uint64(amount)
		record.State = storage.TransferState(state)
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		record.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return records, nil
}

var _ storage.Store = (*Store)(nil)
