package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/store"
)

// Store is the timer subset of store.Store.
type Store interface {
	ActiveTimers(ctx context.Context, q store.TimerQuery) ([]store.Timer, error)
	GetTimer(ctx context.Context, name string) (store.Timer, error)
	SaveTimer(ctx context.Context, t store.Timer) (store.Timer, error)
}

// Lease keeps two pollers from executing the same timer at once.
type Lease interface {
	Acquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

// Event describes one executed timer.
type Event struct {
	TimerName  string     `json:"timer_name"`
	ClassName  string     `json:"class_name"`
	Outcome    string     `json:"outcome"`
	ErrMsg     string     `json:"err_msg,omitempty"`
	Errors     []string   `json:"errors,omitempty"`
	CallbackAt time.Time  `json:"callback_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	FiredAt    time.Time  `json:"fired_at"`
}

// EventPublisher receives an Event after each execution is persisted.
type EventPublisher interface {
	PublishTimerEvent(ctx context.Context, e Event) error
}

// Config tunes an Engine.
type Config struct {
	PollInterval time.Duration
	Clock        func() time.Time
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithLease guards every execution with l.
func WithLease(l Lease) Option {
	return func(e *Engine) { e.lease = l }
}

// WithEvents publishes execution events to p.
func WithEvents(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

// Engine polls for due timers and runs their handlers.
type Engine struct {
	store    Store
	registry *Registry
	lease    Lease
	events   EventPublisher
	config   Config
	logger   *zap.Logger
}

// NewEngine creates an engine. Zero config values get defaults.
func NewEngine(s Store, registry *Registry, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	e := &Engine{
		store:    s,
		registry: registry,
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the handler registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) now() time.Time {
	return e.config.Clock().UTC()
}

// Start polls every PollInterval until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	e.logger.Info("timer engine started", zap.Duration("poll_interval", e.config.PollInterval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("timer engine stopping")
			return
		case <-ticker.C:
			if _, err := e.Poll(ctx); err != nil {
				e.logger.Error("timer poll failed", zap.Error(err))
			}
		}
	}
}

// Poll runs every active, unexecuted timer due now and returns how many
// were executed. Handler failures are recorded on the timer rows; only
// store failures are returned.
func (e *Engine) Poll(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.ObserveTimerPoll(time.Since(start)) }()

	now := e.now()
	timers, err := e.store.ActiveTimers(ctx, store.TimerQuery{Until: &now})
	if err != nil {
		return 0, fmt.Errorf("query due timers: %w", err)
	}
	if len(timers) == 0 {
		return 0, nil
	}

	executed := 0
	var errs []error
	for _, t := range timers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ran, err := e.runLeased(ctx, t)
		if err != nil {
			e.logger.Error("timer execution could not be recorded",
				zap.Error(err),
				zap.String("timer_name", t.Name),
			)
			errs = append(errs, fmt.Errorf("timer %s: %w", t.Name, err))
			continue
		}
		if ran {
			executed++
		}
	}

	e.logger.Debug("timer poll complete",
		zap.Int("due", len(timers)),
		zap.Int("executed", executed),
	)
	return executed, errors.Join(errs...)
}

func (e *Engine) runLeased(ctx context.Context, t store.Timer) (bool, error) {
	if e.lease == nil {
		return true, e.execute(ctx, t)
	}

	release, ok, err := e.lease.Acquire(ctx, t.Name)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		metrics.RecordTimerLeaseSkip()
		e.logger.Debug("timer leased by another poller", zap.String("timer_name", t.Name))
		return false, nil
	}
	defer release()

	// The holder before us may have finished it already.
	fresh, err := e.store.GetTimer(ctx, t.Name)
	if err != nil {
		return false, fmt.Errorf("reload timer: %w", err)
	}
	if !fresh.Due(e.now()) {
		return false, nil
	}
	return true, e.execute(ctx, fresh)
}

func (e *Engine) execute(ctx context.Context, t store.Timer) error {
	now := e.now()
	callbackAt := t.CallbackAt
	var outcome string
	var resultErrors []string

	handler, err := e.registry.Resolve(t.ClassName)
	if err != nil {
		outcome = metrics.OutcomeUnresolved
		msg := err.Error()
		t.ErrMsg = &msg
		t.ExecutedAt = &now
		e.logger.Error("timer handler could not be resolved",
			zap.Error(err),
			zap.String("timer_name", t.Name),
			zap.String("class_name", t.ClassName),
		)
	} else {
		res, err := e.invoke(ctx, handler, t)
		resultErrors = res.Errors
		switch {
		case err != nil:
			outcome = metrics.OutcomeFailed
			msg := err.Error()
			t.ErrMsg = &msg
			t.ExecutedAt = &now
			if len(res.Errors) > 0 || len(res.ContextUpdate) > 0 {
				t.Results = res.Map()
			}
			e.logger.Error("timer handler failed",
				zap.Error(err),
				zap.String("timer_name", t.Name),
				zap.String("class_name", t.ClassName),
			)
		default:
			t.ErrMsg = nil
			if res.RescheduleInMins > 0 {
				outcome = metrics.OutcomeRescheduled
				t.CallbackAt = now.Add(time.Duration(res.RescheduleInMins) * time.Minute)
				t.ExecutedAt = nil
			} else {
				outcome = metrics.OutcomeSucceeded
				t.ExecutedAt = &now
			}
			if len(res.ContextUpdate) > 0 {
				merged := store.CopyMap(t.Context)
				if merged == nil {
					merged = make(map[string]any, len(res.ContextUpdate))
				}
				for k, v := range res.ContextUpdate {
					merged[k] = v
				}
				t.Context = merged
			}
			t.Results = res.Map()
			if len(res.Errors) > 0 {
				e.logger.Warn("timer handler reported errors",
					zap.String("timer_name", t.Name),
					zap.Strings("errors", res.Errors),
				)
			}
		}
	}

	saved, err := e.store.SaveTimer(ctx, t)
	if err != nil {
		return fmt.Errorf("save timer: %w", err)
	}
	metrics.RecordTimerExecuted(t.ClassName, outcome)

	e.logger.Info("timer executed",
		zap.String("timer_name", saved.Name),
		zap.String("outcome", outcome),
		zap.Time("callback_at", saved.CallbackAt),
	)
	e.publish(ctx, Event{
		TimerName:  saved.Name,
		ClassName:  saved.ClassName,
		Outcome:    outcome,
		ErrMsg:     deref(saved.ErrMsg),
		Errors:     resultErrors,
		CallbackAt: callbackAt,
		ExecutedAt: saved.ExecutedAt,
		FiredAt:    now,
	})
	return nil
}

// invoke runs the handler on a copy of t and turns a panic into an error.
func (e *Engine) invoke(ctx context.Context, h Handler, t store.Timer) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("timer handler panicked: %v", r)
		}
	}()

	t.Context = store.CopyMap(t.Context)
	t.Results = store.CopyMap(t.Results)
	return h.NotificationTimerCallback(ctx, t)
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishTimerEvent(ctx, ev); err != nil {
		e.logger.Warn("failed to publish timer event",
			zap.Error(err),
			zap.String("timer_name", ev.TimerName),
		)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
