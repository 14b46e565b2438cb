package cfg

import (
	"time"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandServe   Command = "serve"
	CommandCleanup Command = "cleanup"
)

type Cfg struct {
	Command Command

	// Discord configuration
	DiscordToken   string
	DiscordGuildID string

	// Upstream configuration
	IDXAPIURL          string
	FetchMode          string
	ProxyURL           string
	IntermediaryConfig string
	FetchTimeout       time.Duration
	FetchAttempts      int
	PageSize           int
	LookbackDays       int
	UserAgent          string

	// Run configuration
	TopicsFile     string
	Timezone       string
	Location       *time.Location
	StartupTimeout time.Duration
	PacingDelay    time.Duration
	TopicDelay     time.Duration
	CleanupDays    int

	// Database configuration
	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Serve command
	Port         string
	APIAccessKey string
	RunInterval  time.Duration

	// Cleanup command
	RetentionDays int

	// Application metadata
	PushgatewayURL string
	Debug          bool
	Version        string
}
