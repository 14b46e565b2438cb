package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeFetch        TaskType = "fetch_announcements"
	TaskTypeDeliverTopic TaskType = "deliver_topic"
	TaskTypeCleanup      TaskType = "cleanup_ledger"
)

const (
	DefaultMaxRetries = 0
	MaxRetryDelay     = 30 * time.Second
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetTopic() string
	GetRetryCount() int
	GetMaxRetries() int
	IncrementRetryCount()
	CanRetry() bool
	Start()
	GetDuration() time.Duration
}

// RetryableTask is implemented by tasks that only retry some failures.
type RetryableTask interface {
	ShouldRetry(err error) bool
}

type Task struct {
	ID         string
	Type       TaskType
	Topic      string
	RetryCount int
	MaxRetries int
	StartedAt  *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetTopic() string {
	return t.Topic
}

func (t *Task) GetRetryCount() int {
	return t.RetryCount
}

func (t *Task) GetMaxRetries() int {
	return t.MaxRetries
}

func (t *Task) IncrementRetryCount() {
	t.RetryCount++
}

func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, topic string) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Topic:      topic,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}
}

// RetryDelay is the wait before retry n (1-based): 1s, 2s, 4s, ... capped at MaxRetryDelay.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > 6 {
		return MaxRetryDelay
	}
	return min(time.Duration(1<<uint(retryCount-1))*time.Second, MaxRetryDelay)
}
