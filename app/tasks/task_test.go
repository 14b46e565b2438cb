package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lysyi3m/idx-relay/app/idx"
	"github.com/lysyi3m/idx-relay/app/metrics"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		retry    int
		expected time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := RetryDelay(tt.retry); got != tt.expected {
			t.Errorf("Expected RetryDelay(%d) = %v, got %v", tt.retry, tt.expected, got)
		}
	}
}

func TestTask_CanRetry(t *testing.T) {
	task := NewTask(TaskTypeFetch, "")
	if task.ID == "" {
		t.Error("Expected task ID to be set")
	}
	if task.CanRetry() {
		t.Error("Expected no retries by default")
	}

	task.MaxRetries = 2
	task.IncrementRetryCount()
	if !task.CanRetry() {
		t.Error("Expected retry to be allowed after 1 of 2")
	}
	task.IncrementRetryCount()
	if task.CanRetry() {
		t.Error("Expected retries exhausted after 2 of 2")
	}
}

func TestTask_GetDuration(t *testing.T) {
	task := NewTask(TaskTypeCleanup, "")
	if task.GetDuration() != 0 {
		t.Error("Expected zero duration before Start")
	}
	task.Start()
	if task.StartedAt == nil {
		t.Error("Expected StartedAt to be set")
	}
}

func TestFetchTask_ShouldRetry(t *testing.T) {
	tests := []struct {
		status   idx.Status
		expected bool
	}{
		{idx.StatusTransient, true},
		{idx.StatusBlocked, false},
		{idx.StatusUnknown, false},
	}

	for _, tt := range tests {
		fetcher := &MockFetcher{Statuses: []idx.Status{tt.status}}
		task := NewFetchTask(idx.Request{PageSize: 10}, fetcher, metrics.New(), 3)

		err := task.Execute(context.Background())
		if err == nil {
			t.Fatalf("Expected error for status %s", tt.status)
		}
		if got := task.ShouldRetry(err); got != tt.expected {
			t.Errorf("Expected ShouldRetry = %v for %s, got %v", tt.expected, tt.status, got)
		}
	}
}

func TestFetchTask_Attempts(t *testing.T) {
	if task := NewFetchTask(idx.Request{}, &MockFetcher{}, metrics.New(), 0); task.MaxRetries != 0 {
		t.Errorf("Expected 0 retries for 0 attempts, got %d", task.MaxRetries)
	}
	if task := NewFetchTask(idx.Request{}, &MockFetcher{}, metrics.New(), 4); task.MaxRetries != 3 {
		t.Errorf("Expected 3 retries for 4 attempts, got %d", task.MaxRetries)
	}
}

func TestCleanupTask_Execute(t *testing.T) {
	ledger := NewMockLedger()
	task := NewCleanupTask(30, ledger, metrics.New(), fixedClock(testNow))

	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(ledger.Cutoffs) != 1 || !ledger.Cutoffs[0].Equal(testNow.AddDate(0, 0, -30)) {
		t.Errorf("Expected cutoff 30 days before now, got %v", ledger.Cutoffs)
	}
}

func TestCleanupTask_InvalidRetention(t *testing.T) {
	task := NewCleanupTask(0, NewMockLedger(), metrics.New(), fixedClock(testNow))
	if err := task.Execute(context.Background()); err == nil {
		t.Error("Expected error for non-positive retention")
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("Expected no error for zero delay, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
