// Package app assembles the notification subsystem from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/courier/internal/circuitbreaker"
	"github.com/lalithlochan/courier/internal/config"
	"github.com/lalithlochan/courier/internal/db"
	"github.com/lalithlochan/courier/internal/digest"
	"github.com/lalithlochan/courier/internal/mail"
	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/namespace"
	"github.com/lalithlochan/courier/internal/observ"
	"github.com/lalithlochan/courier/internal/preference"
	"github.com/lalithlochan/courier/internal/redis"
	"github.com/lalithlochan/courier/internal/render"
	"github.com/lalithlochan/courier/internal/retention"
	"github.com/lalithlochan/courier/internal/sns"
	"github.com/lalithlochan/courier/internal/sqs"
	"github.com/lalithlochan/courier/internal/store/sqlstore"
	"github.com/lalithlochan/courier/internal/timer"
)

// Deps are collaborators that are opened outside the app. Nil fields are
// built from the configuration.
type Deps struct {
	DB        *sql.DB
	Redis     *redis.Client
	Transport mail.Transport
	Events    timer.EventPublisher
	Clock     func() time.Time
}

// App holds the wired subsystem.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  func() time.Time

	sqlDB   *sql.DB
	pg      *db.DB
	redis   *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	trigger *sqs.TriggerConsumer
	closers []func()

	Store       *sqlstore.Store
	Namespaces  *namespace.Registry
	Renderers   *render.Registry
	Preferences *preference.Engine
	Timers      *timer.Registry
	Engine      *timer.Engine
	Pipeline    *digest.Pipeline
	Transport   mail.Transport
}

// New opens the database (and redis when enabled) described by cfg and wires
// everything on top of them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	var deps Deps
	var pg *db.DB

	switch cfg.DBDriver {
	case db.DriverPostgres:
		database, err := db.New(ctx, db.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		pg = database
		deps.DB = database.SQL()
	default:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		deps.DB = sqlDB
	}

	fsys, err := db.Migrations(cfg.DBDriver)
	if err == nil {
		_, _, err = db.Migrate(ctx, deps.DB, cfg.DBDriver, fsys, logger)
	}
	if err != nil {
		closeDB(pg, deps.DB)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if cfg.RedisEnabled {
		client, err := redis.New(ctx, redis.Config{
			Host:      cfg.RedisHost,
			Port:      cfg.RedisPort,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, timer lease and digest dedupe disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		}
		deps.Redis = client
	}

	a, err := Build(ctx, cfg, deps, logger)
	if err != nil {
		if deps.Redis != nil {
			_ = deps.Redis.Close()
		}
		closeDB(pg, deps.DB)
		return nil, err
	}
	a.pg = pg
	a.closers = append(a.closers, func() { closeDB(pg, deps.DB) })
	if deps.Redis != nil {
		a.closers = append(a.closers, func() { _ = deps.Redis.Close() })
	}
	return a, nil
}

func closeDB(pg *db.DB, sqlDB *sql.DB) {
	if pg != nil {
		pg.Close()
		return
	}
	_ = sqlDB.Close()
}

// Build wires the subsystem over an already migrated database.
func Build(ctx context.Context, cfg *config.Config, deps Deps, logger *zap.Logger) (*App, error) {
	if deps.DB == nil {
		return nil, errors.New("database is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	dialect, ok := sqlstore.ParseDialect(cfg.DBDriver)
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.DBDriver)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  deps.Clock,
		sqlDB:  deps.DB,
		redis:  deps.Redis,
	}

	s, err := sqlstore.New(deps.DB, sqlstore.Config{
		Dialect:       dialect,
		Limits:        cfg.StoreLimits(),
		TypeCacheSize: cfg.TypeCacheSize,
		Clock:         deps.Clock,
	}, observ.Component(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	s.TypeCache().OnHit = metrics.RecordTypeCacheHit
	s.TypeCache().OnMiss = metrics.RecordTypeCacheMiss
	a.Store = s

	if err := a.loadNamespaces(); err != nil {
		return nil, err
	}
	if err := a.loadRenderers(); err != nil {
		return nil, err
	}
	a.Preferences = preference.NewEngine(s, observ.Component(logger, "preference"))

	a.Transport = deps.Transport
	if a.Transport == nil {
		if a.Transport, err = a.buildTransport(ctx); err != nil {
			return nil, err
		}
	}

	settings := cfg.DigestSettings()
	pipeline, err := a.buildPipeline(settings)
	if err != nil {
		return nil, err
	}
	a.Pipeline = pipeline

	digestLogger := observ.Component(logger, "digest")
	a.Timers = timer.NewRegistry()
	a.Timers.RegisterHandler(digest.HandlerName, digest.NewHandler(pipeline, settings, deps.Clock, digestLogger))
	a.Timers.RegisterHandler(retention.HandlerName, retention.NewPurgeHandler(s, deps.Clock, observ.Component(logger, "retention")))

	var opts []timer.Option
	if deps.Redis != nil {
		opts = append(opts, timer.WithLease(redis.NewTimerLease(deps.Redis, cfg.TimerLeaseTTL, logger)))
	}
	events := deps.Events
	if events == nil && cfg.TimerEventsTopicARN != "" {
		publisher, err := sns.NewPublisher(ctx, sns.Config{Region: cfg.AWSRegion, TopicARN: cfg.TimerEventsTopicARN}, logger)
		if err != nil {
			logger.Warn("sns publisher unavailable, timer events disabled", zap.Error(err))
		} else {
			events = publisher
		}
	}
	if events != nil {
		opts = append(opts, timer.WithEvents(events))
	}
	a.Engine = timer.NewEngine(s, a.Timers, timer.Config{
		PollInterval: cfg.TimerPollInterval,
		Clock:        deps.Clock,
	}, observ.Component(logger, "timer"), opts...)

	if cfg.TimerTriggerQueueURL != "" {
		a.trigger, err = sqs.NewTriggerConsumer(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.TimerTriggerQueueURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create poll trigger consumer: %w", err)
		}
	}

	logger.Info("notification subsystem wired",
		zap.String("db_driver", cfg.DBDriver),
		zap.String("mail_transport", cfg.MailTransport),
		zap.Bool("redis", deps.Redis != nil),
		zap.Bool("timer_events", events != nil),
		zap.Bool("poll_triggers", a.trigger != nil),
		zap.Int("namespaces", a.Namespaces.Len()),
		zap.Strings("timer_handlers", a.Timers.Names()),
	)
	return a, nil
}

func (a *App) loadNamespaces() error {
	a.Namespaces = namespace.NewRegistry()

	var fallback namespace.UserResolver
	if a.cfg.UserResolverQuery != "" {
		resolver, err := namespace.NewSQLResolver(a.sqlDB, a.cfg.UserResolverQuery, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create user resolver: %w", err)
		}
		fallback = resolver
	}

	if a.cfg.NamespacesFile == "" {
		a.logger.Warn("no namespaces file configured, digests will skip every namespace")
		return nil
	}
	n, err := a.Namespaces.LoadFile(a.cfg.NamespacesFile, fallback)
	if err != nil {
		return fmt.Errorf("failed to load namespaces: %w", err)
	}
	a.logger.Info("namespaces loaded", zap.String("path", a.cfg.NamespacesFile), zap.Int("count", n))
	return nil
}

func (a *App) loadRenderers() error {
	a.Renderers = render.NewRegistry()

	dir := filepath.Join(a.cfg.StaticRoot, "renderers")
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		a.logger.Warn("renderer directory not found, digest entries will render empty", zap.String("path", dir))
		return nil
	}
	n, err := a.Renderers.LoadMessageTemplates(os.DirFS(dir))
	if err != nil {
		return fmt.Errorf("failed to load renderers: %w", err)
	}
	a.logger.Info("renderers loaded", zap.String("path", dir), zap.Int("count", n))
	return nil
}

// buildTransport layers retry, the shared send quota and a circuit breaker
// over the configured mail transport.
func (a *App) buildTransport(ctx context.Context) (mail.Transport, error) {
	mailLogger := observ.Component(a.logger, "mail")

	var base mail.Transport
	switch a.cfg.MailTransport {
	case "ses":
		ses, err := mail.NewSESTransport(ctx, mail.SESConfig{
			Region:           a.cfg.AWSRegion,
			ConfigurationSet: a.cfg.SESConfigurationSet,
		}, mailLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES transport: %w", err)
		}
		base = ses
	case "smtp":
		base = mail.NewSMTPTransport(mail.SMTPConfig{
			Host:     a.cfg.SMTPHost,
			Port:     a.cfg.SMTPPort,
			Username: a.cfg.SMTPUsername,
			Password: a.cfg.SMTPPassword,
		}, mailLogger)
	default:
		return mail.NewLogTransport(mailLogger), nil
	}

	a.breaker = circuitbreaker.New(circuitbreaker.DefaultConfig("mail-"+a.cfg.MailTransport), mailLogger)
	t := mail.Transport(mail.NewProtectedTransport(a.cfg.MailTransport, base, a.breaker, mailLogger))
	if a.redis != nil && a.cfg.SendRatePerMinute > 0 {
		quota := redis.NewSendQuota(a.redis, mailLogger, redis.QuotaConfig{
			Limit:  a.cfg.SendRatePerMinute,
			Window: time.Minute,
		})
		t = mail.NewThrottledTransport(t, quota, "mail:"+a.cfg.MailTransport, mailLogger)
	}
	return mail.NewRetryTransport(t, mail.DefaultRetryConfig(), mailLogger), nil
}

func (a *App) buildPipeline(settings digest.Settings) (*digest.Pipeline, error) {
	logger := observ.Component(a.logger, "digest")

	templates, err := digest.Templates()
	if err != nil {
		return nil, fmt.Errorf("failed to load digest templates: %w", err)
	}
	composer, err := digest.NewComposer(templates, settings, render.StaticResolver{Root: a.cfg.StaticRoot}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create digest composer: %w", err)
	}

	pc := digest.PipelineConfig{
		Namespaces:    a.Namespaces,
		Preferences:   a.Preferences,
		Grouper:       digest.NewGrouper(settings.GroupConfig, a.Renderers, settings.ClickLinkFormat, settings.Hostname, logger),
		Composer:      composer,
		Transport:     a.Transport,
		DontSendEmpty: settings.DontSendEmpty,
	}
	if a.redis != nil {
		pc.Dedupe = redis.NewDigestDedupe(a.redis, logger)
	}
	if a.cfg.DigestSendsPerSecond > 0 {
		pc.Limiter = rate.NewLimiter(rate.Limit(a.cfg.DigestSendsPerSecond), 1)
	}
	return digest.NewPipeline(a.Store, pc, logger), nil
}

// Startup creates the digest preferences and installs the digest and purge
// timers. It is safe to run on every process start.
func (a *App) Startup(ctx context.Context) error {
	now := a.clock().UTC()

	created, err := preference.Bootstrap(ctx, a.Store, a.cfg.PreferenceDefaults(), a.logger)
	if err != nil {
		return fmt.Errorf("bootstrap preferences: %w", err)
	}
	if err := digest.RegisterTimers(ctx, a.Store, a.cfg.DigestSettings(), now, a.logger); err != nil {
		return fmt.Errorf("register digest timers: %w", err)
	}
	if a.cfg.PurgeEnabled {
		if err := retention.RegisterTimer(ctx, a.Store, a.cfg.RetentionSettings(), now, a.logger); err != nil {
			return fmt.Errorf("register purge timer: %w", err)
		}
	}

	a.logger.Info("notification subsystem started",
		zap.Int("preferences_created", created),
		zap.Bool("purge_enabled", a.cfg.PurgeEnabled),
	)
	return nil
}

// Run drives the timer engine until ctx is done: from SQS poll triggers when
// a queue is configured, otherwise on the poll interval.
func (a *App) Run(ctx context.Context) {
	if a.trigger != nil {
		a.trigger.Run(ctx, a.Engine.Poll)
		return
	}
	a.Engine.Start(ctx)
}

// Health reports the first unhealthy dependency.
func (a *App) Health(ctx context.Context) error {
	if a.pg != nil {
		metrics.SetDBConnections(a.pg.AcquiredConns())
		if err := a.pg.Health(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	} else if err := a.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if a.breaker != nil && a.breaker.GetState() == circuitbreaker.StateOpen {
		return fmt.Errorf("mail: %w", circuitbreaker.ErrCircuitOpen)
	}
	return nil
}

// Status summarizes the wiring for the ops endpoint.
func (a *App) Status() map[string]string {
	status := map[string]string{
		"db_driver":      a.cfg.DBDriver,
		"mail_transport": a.cfg.MailTransport,
		"namespaces":     strconv.Itoa(a.Namespaces.Len()),
		"redis":          strconv.FormatBool(a.redis != nil),
	}
	if a.breaker != nil {
		stats := a.breaker.Stats()
		status["mail_breaker"] = stats.State
		status["mail_breaker_failures"] = strconv.FormatInt(stats.TotalFailures, 10)
		status["mail_breaker_rejected"] = strconv.FormatInt(stats.TotalRejected, 10)
		if stats.LastFailure != "" {
			status["mail_breaker_last_failure"] = stats.LastFailure
		}
	}
	return status
}

// Close releases the resources New opened.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
