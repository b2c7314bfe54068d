package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/lalithlochan/courier/internal/digest"
	"github.com/lalithlochan/courier/internal/preference"
	"github.com/lalithlochan/courier/internal/retention"
	"github.com/lalithlochan/courier/internal/store"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Env      string `env:"ENV" envDefault:"development"`

	// Database
	DBDriver   string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"courier"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"courier"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"data/courier.db"`

	// Redis config. Lease, dedupe and send quota are skipped when disabled.
	RedisEnabled   bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost      string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort      int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"courier:"`

	// Mail
	AWSRegion            string  `env:"AWS_REGION" envDefault:"us-east-1"`
	MailTransport        string  `env:"MAIL_TRANSPORT" envDefault:"log"` // ses, smtp or log
	SESConfigurationSet  string  `env:"SES_CONFIGURATION_SET"`
	SMTPHost             string  `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort             int     `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername         string  `env:"SMTP_USERNAME"`
	SMTPPassword         string  `env:"SMTP_PASSWORD"`
	SendRatePerMinute    int     `env:"SEND_RATE_PER_MINUTE" envDefault:"600"`
	DigestSendsPerSecond float64 `env:"DIGEST_SENDS_PER_SECOND" envDefault:"10"`

	// Timers
	TimerPollInterval    time.Duration `env:"TIMER_POLL_INTERVAL" envDefault:"1m"`
	TimerLeaseTTL        time.Duration `env:"TIMER_LEASE_TTL" envDefault:"5m"`
	TimerEventsTopicARN  string        `env:"TIMER_EVENTS_TOPIC_ARN"`
	TimerTriggerQueueURL string        `env:"TIMER_TRIGGER_QUEUE_URL"`

	// Namespaces
	NamespacesFile    string `env:"NOTIFICATION_NAMESPACES_FILE"`
	UserResolverQuery string `env:"NOTIFICATION_USER_RESOLVER_QUERY"`
	StaticRoot        string `env:"NOTIFICATION_STATIC_ROOT" envDefault:"static"`

	// Digest preferences and timers
	DailyDigestPreferenceName  string `env:"NOTIFICATION_DAILY_DIGEST_PREFERENCE_NAME" envDefault:"notification_daily_digest"`
	WeeklyDigestPreferenceName string `env:"NOTIFICATION_WEEKLY_DIGEST_PREFERENCE_NAME" envDefault:"notification_weekly_digest"`
	DailyDigestDefault         string `env:"NOTIFICATIONS_PREFERENCE_DAILYDIGEST_DEFAULT" envDefault:"false"`
	WeeklyDigestDefault        string `env:"NOTIFICATIONS_PREFERENCE_WEEKLYDIGEST_DEFAULT" envDefault:"false"`
	DailyDigestSubject         string `env:"NOTIFICATION_DAILY_DIGEST_SUBJECT" envDefault:"Daily Notification Digest for {display_name}"`
	WeeklyDigestSubject        string `env:"NOTIFICATION_WEEKLY_DIGEST_SUBJECT" envDefault:"Weekly Notification Digest for {display_name}"`
	EmailFromAddress           string `env:"NOTIFICATION_EMAIL_FROM_ADDRESS" envDefault:"notifications@example.com"`
	DigestUnreadOnly           bool   `env:"NOTIFICATION_DIGEST_UNREAD_ONLY" envDefault:"true"`
	DigestSendTimeFiltered     bool   `env:"NOTIFICATION_DIGEST_SEND_TIMEFILTERED" envDefault:"false"`
	DontSendEmptyDigest        bool   `env:"NOTIFICATION_DONT_SEND_EMPTY_DIGEST" envDefault:"true"`
	DigestEmailCSS             string `env:"NOTIFICATION_DIGEST_EMAIL_CSS" envDefault:"css/digest.css"`
	BrandedDefaultLogo         string `env:"NOTIFICATION_BRANDED_DEFAULT_LOGO" envDefault:"img/logo.png"`
	ClickLinkURLFormat         string `env:"NOTIFICATION_EMAIL_CLICK_LINK_URL_FORMAT" envDefault:"https://{hostname}{url_path}"`
	AppHostname                string `env:"NOTIFICATION_APP_HOSTNAME" envDefault:"localhost"`
	DigestGroupConfig          string `env:"NOTIFICATION_DIGEST_GROUP_CONFIG"`
	MinutesInADay              int    `env:"MINUTES_IN_A_DAY" envDefault:"1440"`
	MinutesInAWeek             int    `env:"MINUTES_IN_A_WEEK" envDefault:"10080"`
	DailyDigestTimerName       string `env:"DAILY_DIGEST_TIMER_NAME" envDefault:"daily-digest-timer"`
	WeeklyDigestTimerName      string `env:"WEEKLY_DIGEST_TIMER_NAME" envDefault:"weekly-digest-timer"`

	// Store limits
	MaxListSize               int `env:"NOTIFICATION_MAX_LIST_SIZE" envDefault:"100"`
	BulkPublishChunkSize      int `env:"NOTIFICATION_BULK_PUBLISH_CHUNK_SIZE" envDefault:"100"`
	UserPreferenceMaxListSize int `env:"USER_PREFERENCE_MAX_LIST_SIZE" envDefault:"1000"`
	TypeCacheSize             int `env:"NOTIFICATION_TYPE_CACHE_SIZE" envDefault:"1024"`

	// Retention
	PurgeEnabled             bool   `env:"NOTIFICATION_PURGE_ENABLED" envDefault:"false"`
	PurgeReadOlderThanDays   int    `env:"NOTIFICATION_PURGE_READ_OLDER_THAN_DAYS" envDefault:"30"`
	PurgeUnreadOlderThanDays int    `env:"NOTIFICATION_PURGE_UNREAD_OLDER_THAN_DAYS" envDefault:"90"`
	ArchiveEnabled           bool   `env:"NOTIFICATION_ARCHIVE_ENABLED" envDefault:"false"`
	PurgeTimerName           string `env:"PURGE_TIMER_NAME" envDefault:"purge-notifications-timer"`

	groupConfig digest.GroupConfig
}

// Load reads a .env file when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	gc, err := digest.ParseGroupConfig(cfg.DigestGroupConfig)
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFICATION_DIGEST_GROUP_CONFIG: %w", err)
	}
	cfg.groupConfig = gc

	switch cfg.MailTransport {
	case "ses", "smtp", "log":
	default:
		return nil, fmt.Errorf("invalid MAIL_TRANSPORT %q", cfg.MailTransport)
	}
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return nil, fmt.Errorf("invalid DB_DRIVER %q", cfg.DBDriver)
	}

	return cfg, nil
}

// DigestSettings assembles the digest configuration.
func (c *Config) DigestSettings() digest.Settings {
	return digest.Settings{
		DailyPreferenceName:  c.DailyDigestPreferenceName,
		WeeklyPreferenceName: c.WeeklyDigestPreferenceName,
		DailySubject:         c.DailyDigestSubject,
		WeeklySubject:        c.WeeklyDigestSubject,
		FromEmail:            c.EmailFromAddress,
		UnreadOnly:           c.DigestUnreadOnly,
		TimeFiltered:         c.DigestSendTimeFiltered,
		DontSendEmpty:        c.DontSendEmptyDigest,
		CSSPath:              c.DigestEmailCSS,
		LogoPath:             c.BrandedDefaultLogo,
		ClickLinkFormat:      c.ClickLinkURLFormat,
		Hostname:             c.AppHostname,
		GroupConfig:          c.groupConfig,
		MinutesInADay:        c.MinutesInADay,
		MinutesInAWeek:       c.MinutesInAWeek,
		DailyTimerName:       c.DailyDigestTimerName,
		WeeklyTimerName:      c.WeeklyDigestTimerName,
	}
}

func (c *Config) PreferenceDefaults() preference.Defaults {
	return preference.Defaults{
		DailyName:     c.DailyDigestPreferenceName,
		DailyDefault:  c.DailyDigestDefault,
		WeeklyName:    c.WeeklyDigestPreferenceName,
		WeeklyDefault: c.WeeklyDigestDefault,
	}
}

func (c *Config) StoreLimits() store.Limits {
	return store.Limits{
		MaxListSize:           c.MaxListSize,
		BulkChunkSize:         c.BulkPublishChunkSize,
		PreferenceMaxListSize: c.UserPreferenceMaxListSize,
	}
}

// RetentionSettings describes the purge timer. Periodicity follows
// MINUTES_IN_A_DAY.
func (c *Config) RetentionSettings() retention.Settings {
	return retention.Settings{
		TimerName:           c.PurgeTimerName,
		ReadOlderThanDays:   c.PurgeReadOlderThanDays,
		UnreadOlderThanDays: c.PurgeUnreadOlderThanDays,
		Archive:             c.ArchiveEnabled,
		PeriodicityMin:      c.MinutesInADay,
	}
}
