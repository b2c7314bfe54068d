package digest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
	"github.com/lalithlochan/courier/internal/timer"
)

// HandlerName is the class name digest timers are stored with.
const HandlerName = "digest.Handler"

// Timer context keys.
const (
	ContextIsDaily        = "is_daily_digest"
	ContextPreferenceName = "preference_name"
	ContextSubject        = "subject"
	ContextFromEmail      = "from_email"
	ContextUnreadOnly     = "unread_only"
	ContextLastRan        = "last_ran"
)

// Sender runs one digest request.
type Sender interface {
	SendDigest(ctx context.Context, req Request) (int, error)
}

// Handler is the timer handler of the daily and weekly digest timers.
type Handler struct {
	sender   Sender
	settings Settings
	clock    func() time.Time
	logger   *zap.Logger
}

// NewHandler creates a digest handler. A nil clock means time.Now.
func NewHandler(sender Sender, s Settings, clock func() time.Time, logger *zap.Logger) *Handler {
	if clock == nil {
		clock = time.Now
	}
	return &Handler{sender: sender, settings: s.withDefaults(), clock: clock, logger: logger}
}

// NotificationTimerCallback sends the digest described by t's context. It
// never fails: pipeline errors are reported in the result so the timer keeps
// its schedule.
func (h *Handler) NotificationTimerCallback(ctx context.Context, t store.Timer) (timer.Result, error) {
	daily := timer.Bool(t.Context, ContextIsDaily, true)
	defaultSubject := h.settings.DailySubject
	if !daily {
		defaultSubject = h.settings.WeeklySubject
	}

	to := h.clock().UTC()
	req := Request{
		To:             &to,
		PreferenceName: timer.String(t.Context, ContextPreferenceName, h.settings.DailyPreferenceName),
		Subject:        timer.String(t.Context, ContextSubject, defaultSubject),
		FromEmail:      timer.String(t.Context, ContextFromEmail, h.settings.FromEmail),
		UnreadOnly:     timer.Bool(t.Context, ContextUnreadOnly, h.settings.UnreadOnly),
	}
	if h.settings.TimeFiltered {
		from, ok := timer.Time(t.Context, ContextLastRan)
		if !ok {
			from = to.Add(-Window(daily))
		}
		req.From = &from
	}

	var errs []string
	sent, err := h.send(ctx, req)
	if err != nil {
		errs = append(errs, err.Error())
	}

	h.logger.Info("digest timer fired",
		zap.String("timer_name", t.Name),
		zap.String("preference_name", req.PreferenceName),
		zap.Int("sent", sent),
		zap.Int("errors", len(errs)),
	)

	return timer.Result{
		Errors:           errs,
		RescheduleInMins: t.PeriodicityMin,
		ContextUpdate:    map[string]any{ContextLastRan: timer.FormatTime(to)},
	}, nil
}

func (h *Handler) send(ctx context.Context, req Request) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("digest pipeline panicked: %v", r)
		}
	}()
	return h.sender.SendDigest(ctx, req)
}
