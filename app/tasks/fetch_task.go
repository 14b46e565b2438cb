package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/idx-relay/app/feed"
	"github.com/lysyi3m/idx-relay/app/idx"
	"github.com/lysyi3m/idx-relay/app/metrics"
)

type FetchTask struct {
	Task
	Request idx.Request
	fetcher Fetcher
	metrics *metrics.Metrics

	Records []feed.RawRecord
	Status  idx.Status
}

var _ RetryableTask = (*FetchTask)(nil)

func NewFetchTask(request idx.Request, fetcher Fetcher, m *metrics.Metrics, attempts int) *FetchTask {
	task := &FetchTask{
		Task:    NewTask(TaskTypeFetch, ""),
		Request: request,
		fetcher: fetcher,
		metrics: m,
		Status:  idx.StatusUnknown,
	}
	task.MaxRetries = max(attempts-1, 0)
	return task
}

func (t *FetchTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	records, status, err := t.fetcher.Fetch(ctx, t.Request)
	t.Status = status
	t.metrics.ObserveFetch(string(status))

	if status != idx.StatusOK {
		if err == nil {
			err = fmt.Errorf("upstream returned status %s", status)
		}
		return fmt.Errorf("failed to fetch announcements (%s): %w", status, err)
	}

	t.Records = records

	slog.Info("Task completed",
		"type", t.Type,
		"duration", t.GetDuration(),
		"date_from", t.Request.DateFrom,
		"date_to", t.Request.DateTo,
		"records", len(records),
		"attempt", t.RetryCount+1)

	return nil
}

// ShouldRetry allows retries for transient upstream failures only. A blocked
// response is never retried.
func (t *FetchTask) ShouldRetry(err error) bool {
	return t.Status == idx.StatusTransient
}
