package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/idx-relay/app/database"
	"github.com/lysyi3m/idx-relay/app/metrics"
)

type CleanupTask struct {
	Task
	RetentionDays int
	ledger        database.Ledger
	metrics       *metrics.Metrics
	clock         func() time.Time

	Deleted int64
}

func NewCleanupTask(retentionDays int, ledger database.Ledger, m *metrics.Metrics, clock func() time.Time) *CleanupTask {
	return &CleanupTask{
		Task:          NewTask(TaskTypeCleanup, ""),
		RetentionDays: retentionDays,
		ledger:        ledger,
		metrics:       m,
		clock:         clock,
	}
}

func (t *CleanupTask) Execute(ctx context.Context) error {
	if t.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", t.RetentionDays)
	}

	cutoff := t.clock().UTC().AddDate(0, 0, -t.RetentionDays)

	deleted, err := t.ledger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up ledger: %w", err)
	}

	t.Deleted = deleted
	t.metrics.AddCleanupDeleted(deleted)

	slog.Info("Task completed",
		"type", t.Type,
		"duration", t.GetDuration(),
		"retention_days", t.RetentionDays,
		"cutoff", cutoff.Format(time.RFC3339),
		"deleted", deleted)

	return nil
}
