package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// MaxMessageLength is Discord's per-message content limit.
const MaxMessageLength = 2000

var ErrNotConnected = errors.New("discord transport is not connected")

// gateway is the subset of *discordgo.Session the transport relies on.
type gateway interface {
	AddHandlerOnce(handler interface{}) func()
	Open() error
	Close() error
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Transport struct {
	session gateway
	guildID string

	mu        sync.RWMutex
	channels  map[string]string
	connected bool
}

func NewTransport(token, guildID string) (*Transport, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if guildID == "" {
		return nil, fmt.Errorf("discord guild ID is required")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	session.ShouldReconnectOnError = true

	return newTransport(session, guildID), nil
}

func newTransport(session gateway, guildID string) *Transport {
	return &Transport{
		session:  session,
		guildID:  guildID,
		channels: make(map[string]string),
	}
}

// Connect opens the gateway, waits for the Ready event and loads the guild's
// text channels. The wait is bounded by ctx.
func (t *Transport) Connect(ctx context.Context) error {
	ready := make(chan struct{})
	var once sync.Once

	remove := t.session.AddHandlerOnce(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r != nil && r.User != nil {
			slog.Info("Discord session ready", "user", r.User.Username)
		}
		once.Do(func() { close(ready) })
	})

	opened := make(chan error, 1)
	go func() {
		opened <- t.session.Open()
	}()

	select {
	case err := <-opened:
		if err != nil {
			remove()
			return fmt.Errorf("failed to open discord session: %w", err)
		}
	case <-ctx.Done():
		remove()
		// Open holds the session lock until the handshake ends, so close later.
		go t.closeAfterOpen(opened)
		return fmt.Errorf("discord session not ready: %w", ctx.Err())
	}

	select {
	case <-ready:
	case <-ctx.Done():
		remove()
		t.session.Close()
		return fmt.Errorf("discord session not ready: %w", ctx.Err())
	}

	channels, err := t.session.GuildChannels(t.guildID, discordgo.WithContext(ctx))
	if err != nil {
		t.session.Close()
		return fmt.Errorf("failed to load guild channels: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, channel := range channels {
		if channel == nil || !isTextChannel(channel.Type) {
			continue
		}
		if _, exists := t.channels[channel.Name]; exists {
			slog.Warn("Duplicate channel name, keeping first", "channel", channel.Name)
			continue
		}
		t.channels[channel.Name] = channel.ID
	}
	t.connected = true

	slog.Debug("Guild channels loaded", "guild", t.guildID, "count", len(t.channels))
	return nil
}

// ChannelID resolves a channel name to its ID. Names match exactly.
func (t *Transport) ChannelID(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.channels[name]
	return id, ok
}

// Send posts text to a channel, splitting it when it exceeds the message limit.
func (t *Transport) Send(ctx context.Context, channelID, text string) error {
	t.mu.RLock()
	connected := t.connected
	t.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}

	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to send message to channel %s: %w", channelID, err)
		}
	}

	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	if !wasConnected {
		return nil
	}

	if err := t.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (t *Transport) closeAfterOpen(opened <-chan error) {
	if err := <-opened; err != nil {
		return
	}
	if err := t.session.Close(); err != nil {
		slog.Warn("Failed to close abandoned discord session", "error", err)
	}
}

func isTextChannel(channelType discordgo.ChannelType) bool {
	return channelType == discordgo.ChannelTypeGuildText || channelType == discordgo.ChannelTypeGuildNews
}

// SplitMessage breaks text into chunks of at most limit runes, preferring
// line boundaries.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		runes := []rune(line)
		if currentLen+len(runes) > limit {
			flush()
		}
		for len(runes) > limit {
			chunks = append(chunks, string(runes[:limit]))
			runes = runes[limit:]
		}
		current.WriteString(string(runes))
		currentLen += len(runes)
	}
	flush()

	return chunks
}
