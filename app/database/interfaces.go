package database

import (
	"context"
	"time"
)

// Ledger is the delivery log used for deduplication.
type Ledger interface {
	Exists(ctx context.Context, hash string) (bool, error)
	Insert(ctx context.Context, record DeliveryRecord) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
