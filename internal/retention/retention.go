// Package retention purges old user notifications on a timer.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/store"
	"github.com/lalithlochan/courier/internal/timer"
)

// HandlerName is the class name purge timers are stored with.
const HandlerName = "retention.PurgeHandler"

// Timer context keys. A day count of zero or less disables that bound.
const (
	ContextReadOlderThanDays   = "read_older_than_days"
	ContextUnreadOlderThanDays = "unread_older_than_days"
	ContextArchive             = "archive"
)

// Settings configure the purge timer.
type Settings struct {
	TimerName           string
	ReadOlderThanDays   int
	UnreadOlderThanDays int
	Archive             bool
	PeriodicityMin      int
}

// DefaultSettings returns the stock retention policy.
func DefaultSettings() Settings {
	return Settings{
		TimerName:           "purge-notifications-timer",
		ReadOlderThanDays:   30,
		UnreadOlderThanDays: 90,
		PeriodicityMin:      24 * 60,
	}
}

// Purger is the subset of store.Store the handler needs.
type Purger interface {
	PurgeExpiredNotifications(ctx context.Context, opts store.PurgeOptions) (int64, error)
}

// PurgeHandler deletes read and unread notifications past their age limits.
type PurgeHandler struct {
	store  Purger
	clock  func() time.Time
	logger *zap.Logger
}

// NewPurgeHandler creates a handler. A nil clock means time.Now.
func NewPurgeHandler(s Purger, clock func() time.Time, logger *zap.Logger) *PurgeHandler {
	if clock == nil {
		clock = time.Now
	}
	return &PurgeHandler{store: s, clock: clock, logger: logger}
}

// NotificationTimerCallback purges with the bounds in t's context. Store
// failures are reported in the result and the timer keeps its schedule.
func (h *PurgeHandler) NotificationTimerCallback(ctx context.Context, t store.Timer) (timer.Result, error) {
	now := h.clock().UTC()
	opts := store.PurgeOptions{Archive: timer.Bool(t.Context, ContextArchive, false)}
	if days := timer.Int(t.Context, ContextReadOlderThanDays, 0); days > 0 {
		at := now.AddDate(0, 0, -days)
		opts.ReadOlderThan = &at
	}
	if days := timer.Int(t.Context, ContextUnreadOlderThanDays, 0); days > 0 {
		at := now.AddDate(0, 0, -days)
		opts.UnreadOlderThan = &at
	}

	res := timer.Result{RescheduleInMins: t.PeriodicityMin}
	if opts.ReadOlderThan == nil && opts.UnreadOlderThan == nil {
		h.logger.Info("purge timer has no bounds, nothing to do", zap.String("timer_name", t.Name))
		return res, nil
	}

	purged, err := h.store.PurgeExpiredNotifications(ctx, opts)
	if err != nil {
		h.logger.Error("failed to purge notifications",
			zap.Error(err),
			zap.String("timer_name", t.Name),
		)
		res.Errors = []string{fmt.Sprintf("purge notifications: %v", err)}
		return res, nil
	}
	metrics.RecordNotificationsPurged(purged)
	h.logger.Info("expired notifications purged",
		zap.String("timer_name", t.Name),
		zap.Int64("purged", purged),
		zap.Bool("archive", opts.Archive),
	)

	res.ContextUpdate = map[string]any{"last_purged": purged}
	return res, nil
}

// TimerStore is the subset of store.Store RegisterTimer needs.
type TimerStore interface {
	GetTimer(ctx context.Context, name string) (store.Timer, error)
	SaveTimer(ctx context.Context, t store.Timer) (store.Timer, error)
}

// RegisterTimer installs the purge timer, first due an hour after now. An
// existing timer keeps its schedule, gets the configured bounds and is
// cleared of a failed run's outcome.
func RegisterTimer(ctx context.Context, s TimerStore, settings Settings, now time.Time, logger *zap.Logger) error {
	d := DefaultSettings()
	if settings.TimerName == "" {
		settings.TimerName = d.TimerName
	}
	if settings.PeriodicityMin <= 0 {
		settings.PeriodicityMin = d.PeriodicityMin
	}

	t, err := s.GetTimer(ctx, settings.TimerName)
	switch {
	case errors.Is(err, store.ErrNotFound):
		t = store.Timer{
			Name:           settings.TimerName,
			CallbackAt:     now.UTC().Add(time.Hour),
			PeriodicityMin: settings.PeriodicityMin,
		}
	case err != nil:
		return fmt.Errorf("load timer %s: %w", settings.TimerName, err)
	}

	merged := store.CopyMap(t.Context)
	if merged == nil {
		merged = map[string]any{}
	}
	merged[ContextReadOlderThanDays] = settings.ReadOlderThanDays
	merged[ContextUnreadOlderThanDays] = settings.UnreadOlderThanDays
	merged[ContextArchive] = settings.Archive
	t.Context = merged
	t.ClassName = HandlerName
	t.IsActive = true
	t.ExecutedAt = nil
	t.ErrMsg = nil
	t.Results = nil

	saved, err := s.SaveTimer(ctx, t)
	if err != nil {
		return fmt.Errorf("save timer %s: %w", settings.TimerName, err)
	}
	logger.Info("purge timer registered",
		zap.String("timer_name", saved.Name),
		zap.Time("callback_at", saved.CallbackAt),
	)
	return nil
}
