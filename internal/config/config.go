package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv          = "REDDIT_RELAY_CONFIG"
	dotEnvFile             = ".env"
	redditClientIDEnv      = "REDDIT_CLIENT_ID"
	redditClientSecretEnv  = "REDDIT_CLIENT_SECRET"
	redditUserAgentEnv     = "REDDIT_USER_AGENT"
	databaseURLEnv         = "DATABASE_URL"
	telegraphTokenEnv      = "TELEGRAPH_ACCESS_TOKEN"
	telegraphAuthorEnv     = "TELEGRAPH_AUTHOR_NAME"
	telegramTokenEnv       = "TELEGRAM_BOT_TOKEN"
	telegramChannelIDEnv   = "TELEGRAM_CHANNEL_ID"
	translatorProviderEnv  = "TRANSLATOR_PROVIDER"
	openAIAPIKeyEnv        = "OPENAI_API_KEY"
	redisURLEnv            = "REDIS_URL"
	pushgatewayURLEnv      = "PUSHGATEWAY_URL"
	logLevelEnv            = "LOG_LEVEL"
	logFormatEnv           = "LOG_FORMAT"
	defaultCommentsHeading = "Комментарии:"
)

// Translator providers understood by the app wiring.
const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

var (
	// ErrMissingDatabaseURL is returned by Validate when no database URL is configured.
	ErrMissingDatabaseURL = errors.New("database url is not set")

	identExpr = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
)

// Config holds every setting the relay needs. Built once in main.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Reddit     RedditConfig     `yaml:"reddit"`
	Translator TranslatorConfig `yaml:"translator"`
	Telegraph  TelegraphConfig  `yaml:"telegraph"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Redis      RedisConfig      `yaml:"redis"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LoggingConfig controls slog verbosity and output format ("text" or "json").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes the Postgres dedup store.
type DatabaseConfig struct {
	URL          string        `yaml:"url"`
	Table        string        `yaml:"table"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
	ConnLifetime time.Duration `yaml:"connLifetime"`
}

// RedditConfig holds OAuth credentials and the listing to poll.
type RedditConfig struct {
	ClientID      string        `yaml:"clientId"`
	ClientSecret  string        `yaml:"clientSecret"`
	UserAgent     string        `yaml:"userAgent"`
	AuthURL       string        `yaml:"authUrl"`
	APIURL        string        `yaml:"apiUrl"`
	Subreddit     string        `yaml:"subreddit"`
	TimeWindow    string        `yaml:"timeWindow"`
	CommentLimit  int           `yaml:"commentLimit"`
	UnknownAuthor string        `yaml:"unknownAuthor"`
	Timeout       time.Duration `yaml:"timeout"`
}

// TranslatorConfig selects and configures the translation backend.
type TranslatorConfig struct {
	Provider   string        `yaml:"provider"`
	SourceLang string        `yaml:"sourceLang"`
	TargetLang string        `yaml:"targetLang"`
	GoogleURL  string        `yaml:"googleUrl"`
	Timeout    time.Duration `yaml:"timeout"`
	OpenAI     OpenAIConfig  `yaml:"openai"`
}

// OpenAIConfig is used when the translator provider is "openai".
type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
}

// TelegraphConfig wires the page publisher.
type TelegraphConfig struct {
	AccessToken     string        `yaml:"accessToken"`
	AuthorName      string        `yaml:"authorName"`
	BaseURL         string        `yaml:"baseUrl"`
	CommentsHeading string        `yaml:"commentsHeading"`
	Timeout         time.Duration `yaml:"timeout"`
}

// TelegramConfig wires the channel announcer.
type TelegramConfig struct {
	BotToken  string        `yaml:"botToken"`
	ChannelID string        `yaml:"channelId"`
	BaseURL   string        `yaml:"baseUrl"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	BatchSize                 int    `yaml:"batchSize"`
	Announcement              string `yaml:"announcement"`
	SkipRecordOnNotifyFailure bool   `yaml:"skipRecordOnNotifyFailure"`
}

// RedisConfig enables the per-item lease when URL is set.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	LeaseTTL time.Duration `yaml:"leaseTtl"`
	Prefix   string        `yaml:"prefix"`
}

// MetricsConfig enables pushing run metrics when PushgatewayURL is set.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgatewayUrl"`
	Job            string `yaml:"job"`
}

// Load reads .env and the YAML configuration (if present) and applies environment overrides.
func Load() Config {
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load %s: %v", dotEnvFile, err)
	}

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// Validate reports configuration errors that must stop the process before any work.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return ErrMissingDatabaseURL
	}
	if !identExpr.MatchString(c.Database.Table) {
		return fmt.Errorf("invalid table name %q", c.Database.Table)
	}
	switch c.Translator.Provider {
	case ProviderGoogle, ProviderOpenAI, ProviderNone:
	default:
		return fmt.Errorf("unknown translator provider %q", c.Translator.Provider)
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Pipeline.BatchSize)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{redditClientIDEnv, &c.Reddit.ClientID},
		{redditClientSecretEnv, &c.Reddit.ClientSecret},
		{redditUserAgentEnv, &c.Reddit.UserAgent},
		{databaseURLEnv, &c.Database.URL},
		{telegraphTokenEnv, &c.Telegraph.AccessToken},
		{telegraphAuthorEnv, &c.Telegraph.AuthorName},
		{telegramTokenEnv, &c.Telegram.BotToken},
		{telegramChannelIDEnv, &c.Telegram.ChannelID},
		{translatorProviderEnv, &c.Translator.Provider},
		{openAIAPIKeyEnv, &c.Translator.OpenAI.APIKey},
		{redisURLEnv, &c.Redis.URL},
		{pushgatewayURLEnv, &c.Metrics.PushgatewayURL},
		{logLevelEnv, &c.Logging.Level},
		{logFormatEnv, &c.Logging.Format},
	}

	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

func mergeConfig(base, override Config) Config {
	mergeString(&base.Logging.Level, override.Logging.Level)
	mergeString(&base.Logging.Format, override.Logging.Format)

	mergeString(&base.Database.URL, override.Database.URL)
	mergeString(&base.Database.Table, override.Database.Table)
	mergeInt(&base.Database.MaxOpenConns, override.Database.MaxOpenConns)
	mergeDuration(&base.Database.ConnLifetime, override.Database.ConnLifetime)

	mergeString(&base.Reddit.ClientID, override.Reddit.ClientID)
	mergeString(&base.Reddit.ClientSecret, override.Reddit.ClientSecret)
	mergeString(&base.Reddit.UserAgent, override.Reddit.UserAgent)
	mergeString(&base.Reddit.AuthURL, override.Reddit.AuthURL)
	mergeString(&base.Reddit.APIURL, override.Reddit.APIURL)
	mergeString(&base.Reddit.Subreddit, override.Reddit.Subreddit)
	mergeString(&base.Reddit.TimeWindow, override.Reddit.TimeWindow)
	mergeInt(&base.Reddit.CommentLimit, override.Reddit.CommentLimit)
	mergeString(&base.Reddit.UnknownAuthor, override.Reddit.UnknownAuthor)
	mergeDuration(&base.Reddit.Timeout, override.Reddit.Timeout)

	mergeString(&base.Translator.Provider, override.Translator.Provider)
	mergeString(&base.Translator.SourceLang, override.Translator.SourceLang)
	mergeString(&base.Translator.TargetLang, override.Translator.TargetLang)
	mergeString(&base.Translator.GoogleURL, override.Translator.GoogleURL)
	mergeDuration(&base.Translator.Timeout, override.Translator.Timeout)
	mergeString(&base.Translator.OpenAI.APIKey, override.Translator.OpenAI.APIKey)
	mergeString(&base.Translator.OpenAI.Model, override.Translator.OpenAI.Model)
	mergeString(&base.Translator.OpenAI.BaseURL, override.Translator.OpenAI.BaseURL)

	mergeString(&base.Telegraph.AccessToken, override.Telegraph.AccessToken)
	mergeString(&base.Telegraph.AuthorName, override.Telegraph.AuthorName)
	mergeString(&base.Telegraph.BaseURL, override.Telegraph.BaseURL)
	mergeString(&base.Telegraph.CommentsHeading, override.Telegraph.CommentsHeading)
	mergeDuration(&base.Telegraph.Timeout, override.Telegraph.Timeout)

	mergeString(&base.Telegram.BotToken, override.Telegram.BotToken)
	mergeString(&base.Telegram.ChannelID, override.Telegram.ChannelID)
	mergeString(&base.Telegram.BaseURL, override.Telegram.BaseURL)
	mergeDuration(&base.Telegram.Timeout, override.Telegram.Timeout)

	mergeInt(&base.Pipeline.BatchSize, override.Pipeline.BatchSize)
	mergeString(&base.Pipeline.Announcement, override.Pipeline.Announcement)
	if override.Pipeline.SkipRecordOnNotifyFailure {
		base.Pipeline.SkipRecordOnNotifyFailure = true
	}

	mergeString(&base.Redis.URL, override.Redis.URL)
	mergeDuration(&base.Redis.LeaseTTL, override.Redis.LeaseTTL)
	mergeString(&base.Redis.Prefix, override.Redis.Prefix)

	mergeString(&base.Metrics.PushgatewayURL, override.Metrics.PushgatewayURL)
	mergeString(&base.Metrics.Job, override.Metrics.Job)

	return base
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{
			Table:        "posted_reddit",
			MaxOpenConns: 4,
			ConnLifetime: 30 * time.Minute,
		},
		Reddit: RedditConfig{
			UserAgent:     "RedditRelay/1.0",
			AuthURL:       "https://www.reddit.com",
			APIURL:        "https://oauth.reddit.com",
			Subreddit:     "Fire",
			TimeWindow:    "week",
			CommentLimit:  50,
			UnknownAuthor: "Неизвестный",
			Timeout:       20 * time.Second,
		},
		Translator: TranslatorConfig{
			Provider:   ProviderGoogle,
			SourceLang: "en",
			TargetLang: "ru",
			GoogleURL:  "https://translate.googleapis.com/translate_a/single",
			Timeout:    15 * time.Second,
			OpenAI:     OpenAIConfig{Model: "gpt-4o-mini"},
		},
		Telegraph: TelegraphConfig{
			BaseURL:         "https://api.telegra.ph",
			CommentsHeading: defaultCommentsHeading,
			Timeout:         20 * time.Second,
		},
		Telegram: TelegramConfig{
			BaseURL: "https://api.telegram.org",
			Timeout: 5 * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchSize:    5,
			Announcement: "Новый пост: ",
		},
		Redis: RedisConfig{
			LeaseTTL: 10 * time.Minute,
			Prefix:   "redditrelay:lease:",
		},
		Metrics: MetricsConfig{Job: "reddit_relay"},
	}
}
