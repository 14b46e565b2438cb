package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LedgerRepository records delivered messages by content hash
type LedgerRepository struct {
	db *DB
}

func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Exists reports whether a message with the given hash was already delivered
func (r *LedgerRepository) Exists(ctx context.Context, hash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT 1 FROM sent_messages WHERE message_hash = ? LIMIT 1`), hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}

	return true, nil
}

// Insert stores a delivery. Inserting an existing hash is a no-op.
func (r *LedgerRepository) Insert(ctx context.Context, record DeliveryRecord) error {
	if record.Hash == "" {
		return fmt.Errorf("delivery record hash is required")
	}

	sentAt := record.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO sent_messages (
			message_hash, kode_emiten, judul, channel_name,
			message_content, announcement_date, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_hash) DO NOTHING
	`), record.Hash, record.IssuerCode, record.Title, record.ChannelName,
		record.MessageBody, record.AnnouncementDate, r.db.timeArg(sentAt))

	if err != nil {
		return fmt.Errorf("failed to insert delivery record: %w", err)
	}

	return nil
}

// DeleteOlderThan removes records sent before cutoff and returns how many were removed
func (r *LedgerRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.db.rebind(`DELETE FROM sent_messages WHERE sent_at < ?`), r.db.timeArg(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old delivery records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted records: %w", err)
	}

	return deleted, nil
}

// Count returns the number of ledger entries.
func (r *LedgerRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sent_messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count delivery records: %w", err)
	}
	return count, nil
}
