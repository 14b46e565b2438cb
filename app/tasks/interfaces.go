package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/idx-relay/app/feed"
	"github.com/lysyi3m/idx-relay/app/idx"
)

// Fetcher retrieves one batch of raw announcement records.
// Implemented by *idx.Client.
type Fetcher interface {
	Fetch(ctx context.Context, req idx.Request) ([]feed.RawRecord, idx.Status, error)
}

// Transport delivers text to named chat channels.
// Implemented by *discord.Transport.
type Transport interface {
	Connect(ctx context.Context) error
	ChannelID(name string) (string, bool)
	Send(ctx context.Context, channelID, text string) error
	Close() error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
