package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/idx-relay/app/database"
	"github.com/lysyi3m/idx-relay/app/feed"
	"github.com/lysyi3m/idx-relay/app/idx"
	"github.com/lysyi3m/idx-relay/app/metrics"
)

type RunState string

const (
	StateInit             RunState = "INIT"
	StateConnectTransport RunState = "CONNECT_TRANSPORT"
	StateFetch            RunState = "FETCH"
	StateBlockedHalt      RunState = "BLOCKED_HALT"
	StateFetchFailedHalt  RunState = "FETCH_FAILED_HALT"
	StateProcessTopics    RunState = "PROCESS_TOPICS"
	StateShutdown         RunState = "SHUTDOWN"
)

const (
	dateLayout  = "20060102"
	alertPrefix = "**Error:** "
)

var (
	ErrStartupFailure  = errors.New("startup failure")
	ErrUpstreamBlocked = errors.New("upstream blocked")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRunCancelled    = errors.New("run cancelled")
)

type RunnerDeps struct {
	Fetcher   Fetcher
	Transport Transport
	Ledger    database.Ledger
	Topics    *feed.Topics
	Metrics   *metrics.Metrics

	// Optional; default to time.Now and a context-aware timer.
	Clock func() time.Time
	Sleep SleepFunc
}

type RunnerOptions struct {
	PageSize       int
	LookbackDays   int
	Location       *time.Location
	StartupTimeout time.Duration
	FetchAttempts  int
	PacingDelay    time.Duration
	TopicDelay     time.Duration
	CleanupDays    int
}

// RunResult is the outcome of one invocation. Topics maps every configured
// topic to the number of messages it delivered.
type RunResult struct {
	RunID   string                 `json:"run_id"`
	State   RunState               `json:"state"`
	Topics  map[string]int         `json:"results"`
	Details map[string]TopicResult `json:"details"`
}

type Runner struct {
	deps       RunnerDeps
	opts       RunnerOptions
	normalizer *feed.Normalizer
	filterer   *feed.Filterer
	formatter  *feed.Formatter
}

func NewRunner(deps RunnerDeps, opts RunnerOptions) *Runner {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Runner{
		deps:       deps,
		opts:       opts,
		normalizer: feed.NewNormalizer(opts.Location),
		filterer:   feed.NewFilterer(),
		formatter:  feed.NewFormatter(),
	}
}

// Run executes one fetch-filter-deliver pass. The transport is always closed
// before Run returns.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	startedAt := r.deps.Clock()
	result := r.newResult()
	logger := slog.With("run_id", result.RunID)

	defer func() {
		finishedAt := r.deps.Clock()
		r.deps.Metrics.ObserveRun(string(result.State), finishedAt.Sub(startedAt), result.State == StateShutdown, finishedAt)
		logger.Info("Run finished", "state", result.State, "duration", finishedAt.Sub(startedAt), "results", result.Topics)
	}()

	result.State = StateConnectTransport
	defer func() {
		if err := r.deps.Transport.Close(); err != nil {
			logger.Warn("Failed to close transport", "error", err)
		}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, r.opts.StartupTimeout)
	err := r.deps.Transport.Connect(connectCtx)
	cancel()
	if err != nil {
		logger.Error("Transport failed to start", "error", err)
		return result, fmt.Errorf("%w: %w", ErrStartupFailure, err)
	}

	result.State = StateFetch
	fetchTask := NewFetchTask(r.fetchRequest(), r.deps.Fetcher, r.deps.Metrics, r.opts.FetchAttempts)
	if err := r.executeTask(ctx, fetchTask); err != nil {
		if fetchTask.Status == idx.StatusBlocked {
			result.State = StateBlockedHalt
			r.alert(ctx, logger, fmt.Sprintf("Cannot bypass upstream protection while fetching announcements: %v", err))
			return result, fmt.Errorf("%w: %w", ErrUpstreamBlocked, err)
		}

		result.State = StateFetchFailedHalt
		r.alert(ctx, logger, fmt.Sprintf("Failed to fetch announcements: %v", err))
		return result, fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
	}

	result.State = StateProcessTopics
	announcements, malformed := r.normalizer.RunBatch(fetchTask.Records)
	r.deps.Metrics.AddFetched(len(fetchTask.Records), malformed)
	logger.Info("Announcements normalized", "total", len(fetchTask.Records), "valid", len(announcements), "malformed", malformed)

	for i, rule := range r.deps.Topics.Rules {
		if i > 0 {
			if err := r.deps.Sleep(ctx, r.opts.TopicDelay); err != nil {
				logger.Warn("Run cancelled, remaining topics skipped", "error", err)
				break
			}
		}

		topicResult, err := r.processTopic(ctx, rule, announcements)
		result.Topics[rule.Name] = topicResult.Sent
		result.Details[rule.Name] = topicResult
		if err != nil {
			logger.Error("Topic processing failed", "topic", rule.Name, "sent", topicResult.Sent, "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		logger.Warn("Run cancelled during topic processing", "results", result.Topics)
		return result, fmt.Errorf("%w: %w", ErrRunCancelled, err)
	}

	if r.opts.CleanupDays > 0 {
		cleanupTask := NewCleanupTask(r.opts.CleanupDays, r.deps.Ledger, r.deps.Metrics, r.deps.Clock)
		if err := r.executeTask(ctx, cleanupTask); err != nil {
			logger.Warn("Ledger cleanup failed", "error", err)
		}
	}

	result.State = StateShutdown
	return result, nil
}

func (r *Runner) newResult() *RunResult {
	result := &RunResult{
		RunID:   uuid.NewString(),
		State:   StateInit,
		Topics:  make(map[string]int, len(r.deps.Topics.Rules)),
		Details: make(map[string]TopicResult, len(r.deps.Topics.Rules)),
	}
	for _, rule := range r.deps.Topics.Rules {
		result.Topics[rule.Name] = 0
		result.Details[rule.Name] = TopicResult{}
	}
	return result
}

func (r *Runner) fetchRequest() idx.Request {
	now := r.deps.Clock().In(r.opts.Location)

	return idx.Request{
		DateFrom: now.AddDate(0, 0, -r.opts.LookbackDays).Format(dateLayout),
		DateTo:   now.Format(dateLayout),
		PageSize: r.opts.PageSize,
	}
}

// processTopic isolates one topic. A panic yields an empty result; other
// errors keep the counts of messages already delivered.
func (r *Runner) processTopic(ctx context.Context, rule feed.TopicRule, announcements []feed.Announcement) (result TopicResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = TopicResult{}
			err = fmt.Errorf("panic in topic %s: %v", rule.Name, p)
		}
	}()

	matched := r.filterer.Run(announcements, rule)
	if len(matched) == 0 {
		slog.Debug("No announcements matched topic", "topic", rule.Name)
		return TopicResult{}, nil
	}

	task := NewDeliverTopicTask(rule, matched, r.formatter, r.deps.Ledger, r.deps.Transport,
		r.deps.Metrics, r.opts.PacingDelay, r.deps.Sleep, r.deps.Clock)
	err = r.executeTask(ctx, task)
	return task.Result, err
}

// executeTask runs a task, retrying with exponential backoff while the task
// allows it.
func (r *Runner) executeTask(ctx context.Context, task TaskInterface) error {
	for {
		task.Start()

		err := task.Execute(ctx)
		if err == nil {
			return nil
		}

		retryable, ok := task.(RetryableTask)
		if !ok || !retryable.ShouldRetry(err) || !task.CanRetry() || ctx.Err() != nil {
			if task.GetRetryCount() > 0 {
				slog.Error("Task failed after retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
			}
			return err
		}

		task.IncrementRetryCount()
		delay := RetryDelay(task.GetRetryCount())

		slog.Warn("Task retry scheduled", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", delay.String(), "error", err)

		if err := r.deps.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// alert posts a single message to the error channel. Failures only log.
func (r *Runner) alert(ctx context.Context, logger *slog.Logger, message string) {
	name := r.deps.Topics.ErrorChannel
	if name == "" {
		logger.Warn("No error channel configured, alert not delivered", "message", message)
		return
	}

	channelID, ok := r.deps.Transport.ChannelID(name)
	if !ok {
		logger.Warn("Error channel not found, alert not delivered", "channel", name, "message", message)
		return
	}

	if err := r.deps.Transport.Send(ctx, channelID, alertPrefix+message); err != nil {
		logger.Error("Failed to deliver alert", "channel", name, "error", err)
	}
}
