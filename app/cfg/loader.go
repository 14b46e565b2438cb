package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Discord configuration
	DiscordToken   string `long:"discord-token" env:"DISCORD_TOKEN" description:"Discord bot token"`
	DiscordGuildID string `long:"discord-guild-id" env:"DISCORD_GUILD_ID" description:"Discord guild (server) ID"`

	// Upstream configuration
	IDXAPIURL          string        `long:"idx-api-url" env:"IDX_API_URL" default:"https://www.idx.co.id" description:"Base URL of the IDX website"`
	FetchMode          string        `long:"fetch-mode" env:"IDX_FETCH_MODE" default:"direct" description:"How to reach upstream: direct, proxied or intermediary"`
	ProxyURL           string        `long:"proxy" env:"PROXY" description:"HTTP(S) proxy URL for proxied mode"`
	IntermediaryConfig string        `long:"intermediary-config" env:"RAPIDAPI_CONFIG" description:"JSON relay config {url, headers, extra_query} for intermediary mode"`
	FetchTimeout       time.Duration `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30s" description:"Upstream request timeout"`
	FetchAttempts      int           `long:"fetch-attempts" env:"FETCH_ATTEMPTS" default:"1" description:"Fetch attempts for transient upstream failures"`
	PageSize           int           `long:"page-size" env:"PAGE_SIZE" default:"100" description:"Announcements requested per fetch"`
	LookbackDays       int           `long:"lookback-days" env:"LOOKBACK_DAYS" default:"2" description:"Days before today included in the fetch window"`
	UserAgent          string        `long:"user-agent" env:"USER_AGENT" description:"User agent string for upstream requests"`

	// Run configuration
	TopicsFile     string        `long:"topics-file" env:"TOPICS_FILE" default:"./configs/topics.yml" description:"Topic rules file"`
	Timezone       string        `long:"timezone" env:"TZ_REFERENCE" default:"Asia/Jakarta" description:"Timezone used to compute the fetch window"`
	StartupTimeout time.Duration `long:"startup-timeout" env:"STARTUP_TIMEOUT" default:"60s" description:"Maximum wait for the Discord session to become ready"`
	PacingDelay    time.Duration `long:"pacing-delay" env:"PACING_DELAY" default:"1s" description:"Delay after each delivered message"`
	TopicDelay     time.Duration `long:"topic-delay" env:"TOPIC_DELAY" default:"2s" description:"Delay between topics"`
	CleanupDays    int           `long:"cleanup-days" env:"CLEANUP_DAYS" default:"0" description:"Delete ledger entries older than this many days after each run (0 disables)"`

	// Database configuration
	DBDriver   string `long:"db-driver" env:"DB_DRIVER" default:"sqlite" description:"Ledger database driver: sqlite or postgres"`
	DBPath     string `long:"db-path" env:"DB_PATH" default:"./data/ledger.db" description:"SQLite database file"`
	DBHost     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"Database host"`
	DBPort     string `long:"db-port" env:"DB_PORT" default:"5432" description:"Database port"`
	DBUser     string `long:"db-user" env:"DB_USER" default:"postgres" description:"Database user"`
	DBPassword string `long:"db-password" env:"DB_PASSWORD" description:"Database password"`
	DBName     string `long:"db-name" env:"DB_NAME" default:"postgres" description:"Database name"`
	DBSSLMode  string `long:"db-sslmode" env:"DB_SSLMODE" default:"require" description:"PostgreSQL sslmode"`

	// Application metadata
	PushgatewayURL string `long:"pushgateway-url" env:"PUSHGATEWAY_URL" description:"Prometheus Pushgateway URL for run metrics (optional)"`
	Debug          bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`

	Run     struct{}      `command:"run" description:"Fetch, filter and deliver announcements once (default)"`
	Serve   rawServeCfg   `command:"serve" description:"Serve health, metrics and run-trigger endpoints"`
	Cleanup rawCleanupCfg `command:"cleanup" description:"Delete old ledger entries"`
}

type rawServeCfg struct {
	Port         string        `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string        `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for the run endpoint (optional)"`
	Interval     time.Duration `long:"interval" env:"RUN_INTERVAL" default:"0s" description:"Run automatically at this interval (0 disables)"`
}

type rawCleanupCfg struct {
	Days int `long:"days" default:"30" description:"Retention in days"`
}

// Load parses args and the environment. A .env file in the working
// directory is read first; variables already set win. Returns nil, nil when
// help was requested.
func Load(args []string) (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)
	parser.SubcommandsOptional = true

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	command := CommandRun
	if parser.Active != nil {
		command = Command(parser.Active.Name)
	}

	cfg := &Cfg{
		Command:            command,
		DiscordToken:       strings.TrimSpace(raw.DiscordToken),
		DiscordGuildID:     strings.TrimSpace(raw.DiscordGuildID),
		IDXAPIURL:          raw.IDXAPIURL,
		FetchMode:          normalizeFetchMode(raw.FetchMode),
		ProxyURL:           raw.ProxyURL,
		IntermediaryConfig: raw.IntermediaryConfig,
		FetchTimeout:       raw.FetchTimeout,
		FetchAttempts:      raw.FetchAttempts,
		PageSize:           raw.PageSize,
		LookbackDays:       raw.LookbackDays,
		UserAgent:          cmp.Or(raw.UserAgent, defaultUserAgent),
		TopicsFile:         raw.TopicsFile,
		Timezone:           raw.Timezone,
		StartupTimeout:     raw.StartupTimeout,
		PacingDelay:        raw.PacingDelay,
		TopicDelay:         raw.TopicDelay,
		CleanupDays:        raw.CleanupDays,
		DBDriver:           strings.ToLower(raw.DBDriver),
		DBPath:             raw.DBPath,
		DBHost:             raw.DBHost,
		DBPort:             raw.DBPort,
		DBUser:             raw.DBUser,
		DBPassword:         raw.DBPassword,
		DBName:             raw.DBName,
		DBSSLMode:          raw.DBSSLMode,
		Port:               raw.Serve.Port,
		APIAccessKey:       raw.Serve.APIAccessKey,
		RunInterval:        raw.Serve.Interval,
		RetentionDays:      raw.Cleanup.Days,
		PushgatewayURL:     raw.PushgatewayURL,
		Debug:              raw.Debug,
		Version:            GetVersion(),
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = location

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	if c.Command != CommandCleanup {
		if c.DiscordToken == "" {
			return fmt.Errorf("discord token is required (DISCORD_TOKEN)")
		}
		if c.DiscordGuildID == "" {
			return fmt.Errorf("discord guild ID is required (DISCORD_GUILD_ID)")
		}
	}

	switch c.FetchMode {
	case "direct":
	case "proxied":
		if c.ProxyURL == "" {
			return fmt.Errorf("fetch mode proxied requires --proxy (PROXY)")
		}
	case "intermediary":
		if c.IntermediaryConfig == "" {
			return fmt.Errorf("fetch mode intermediary requires --intermediary-config (RAPIDAPI_CONFIG)")
		}
	default:
		return fmt.Errorf("unknown fetch mode %q", c.FetchMode)
	}

	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.DBDriver)
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.LookbackDays < 0 {
		return fmt.Errorf("lookback days must not be negative, got %d", c.LookbackDays)
	}
	if c.FetchAttempts < 1 {
		return fmt.Errorf("fetch attempts must be at least 1, got %d", c.FetchAttempts)
	}
	if c.RunInterval < 0 {
		return fmt.Errorf("run interval must not be negative, got %s", c.RunInterval)
	}
	if c.Command == CommandCleanup && c.RetentionDays <= 0 {
		return fmt.Errorf("cleanup days must be positive, got %d", c.RetentionDays)
	}

	return nil
}

// normalizeFetchMode also accepts the legacy names "proxy" and "rapidapi".
func normalizeFetchMode(mode string) string {
	switch mode = strings.ToLower(strings.TrimSpace(mode)); mode {
	case "proxy":
		return "proxied"
	case "rapidapi":
		return "intermediary"
	default:
		return mode
	}
}
