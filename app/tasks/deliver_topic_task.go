package tasks

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/lysyi3m/idx-relay/app/database"
	"github.com/lysyi3m/idx-relay/app/feed"
	"github.com/lysyi3m/idx-relay/app/metrics"
)

type TopicResult struct {
	Sent         int `json:"sent"`
	Duplicates   int `json:"duplicates"`
	Failed       int `json:"failed"`
	LedgerErrors int `json:"ledger_errors"`
}

type DeliverTopicTask struct {
	Task
	Rule          feed.TopicRule
	Announcements []feed.Announcement

	formatter   *feed.Formatter
	ledger      database.Ledger
	transport   Transport
	metrics     *metrics.Metrics
	pacingDelay time.Duration
	sleep       SleepFunc
	clock       func() time.Time

	Result TopicResult
}

func NewDeliverTopicTask(rule feed.TopicRule, announcements []feed.Announcement, formatter *feed.Formatter,
	ledger database.Ledger, transport Transport, m *metrics.Metrics, pacingDelay time.Duration,
	sleep SleepFunc, clock func() time.Time) *DeliverTopicTask {
	return &DeliverTopicTask{
		Task:          NewTask(TaskTypeDeliverTopic, rule.Name),
		Rule:          rule,
		Announcements: announcements,
		formatter:     formatter,
		ledger:        ledger,
		transport:     transport,
		metrics:       m,
		pacingDelay:   pacingDelay,
		sleep:         sleep,
		clock:         clock,
	}
}

func (t *DeliverTopicTask) Execute(ctx context.Context) error {
	if t.Rule.Channel == "" {
		slog.Warn("No channel configured for topic, skipping", "topic", t.Topic)
		return nil
	}

	channelID, ok := t.transport.ChannelID(t.Rule.Channel)
	if !ok {
		slog.Warn("Channel not found, skipping topic", "topic", t.Topic, "channel", t.Rule.Channel)
		return nil
	}

	ordered := SortByCreatedAt(t.Announcements)

	for _, announcement := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}

		message := t.formatter.Run(announcement)
		hash := feed.MessageHash(announcement.IssuerCode, announcement.Title, message, announcement.CreatedAt)

		exists, err := t.ledger.Exists(ctx, hash)
		if err != nil {
			slog.Warn("Ledger lookup failed, treating as new", "topic", t.Topic, "hash", hash, "error", err)
		} else if exists {
			slog.Debug("Duplicate message, skipping", "topic", t.Topic, "code", announcement.IssuerCode, "hash", hash)
			t.Result.Duplicates++
			t.metrics.IncDuplicate(t.Topic)
			continue
		}

		if err := t.transport.Send(ctx, channelID, message); err != nil {
			slog.Error("Failed to deliver message", "topic", t.Topic, "channel", t.Rule.Channel, "code", announcement.IssuerCode, "error", err)
			t.Result.Failed++
			t.metrics.IncFailed(t.Topic)
			continue
		}

		t.Result.Sent++
		t.metrics.IncSent(t.Topic)

		record := database.DeliveryRecord{
			Hash:             hash,
			IssuerCode:       announcement.IssuerCode,
			Title:            announcement.Title,
			ChannelName:      t.Rule.Channel,
			MessageBody:      message,
			AnnouncementDate: announcement.CreatedAt,
			SentAt:           t.clock(),
		}
		if err := t.ledger.Insert(ctx, record); err != nil {
			slog.Error("Ledger write failed after delivery", "topic", t.Topic, "hash", hash, "error", err)
			t.Result.LedgerErrors++
			t.metrics.IncLedgerFailure(t.Topic)
		}

		if err := t.sleep(ctx, t.pacingDelay); err != nil {
			return err
		}
	}

	slog.Info("Task completed",
		"type", t.Type,
		"topic", t.Topic,
		"duration", t.GetDuration(),
		"total", len(ordered),
		"sent", t.Result.Sent,
		"duplicates", t.Result.Duplicates,
		"failed", t.Result.Failed)

	return nil
}

// SortByCreatedAt returns a copy ordered ascending by publication instant.
// Announcements with an unparseable date follow, ordered by their raw text.
// Ties keep their input order.
func SortByCreatedAt(announcements []feed.Announcement) []feed.Announcement {
	ordered := slices.Clone(announcements)
	slices.SortStableFunc(ordered, func(a, b feed.Announcement) int {
		aParsed, bParsed := !a.PublishedAt.IsZero(), !b.PublishedAt.IsZero()
		switch {
		case aParsed && bParsed:
			return a.PublishedAt.Compare(b.PublishedAt)
		case aParsed:
			return -1
		case bParsed:
			return 1
		default:
			return strings.Compare(a.CreatedAt, b.CreatedAt)
		}
	})
	return ordered
}
