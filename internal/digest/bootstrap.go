package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
)

// TimerStore is the subset of store.Store the bootstrap needs.
type TimerStore interface {
	GetTimer(ctx context.Context, name string) (store.Timer, error)
	SaveTimer(ctx context.Context, t store.Timer) (store.Timer, error)
}

// NextMidnightUTC returns the first UTC midnight strictly after now.
func NextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// RegisterTimers installs the daily and weekly digest timers. Existing timers
// keep their schedule and any extra context keys; the configured keys are
// laid over a copy of their context, the outcome of a failed run is cleared
// and they are reactivated.
func RegisterTimers(ctx context.Context, s TimerStore, settings Settings, now time.Time, logger *zap.Logger) error {
	settings = settings.withDefaults()
	firstRun := NextMidnightUTC(now)

	digests := []struct {
		name        string
		daily       bool
		preference  string
		subject     string
		periodicity int
	}{
		{settings.DailyTimerName, true, settings.DailyPreferenceName, settings.DailySubject, settings.MinutesInADay},
		{settings.WeeklyTimerName, false, settings.WeeklyPreferenceName, settings.WeeklySubject, settings.MinutesInAWeek},
	}

	for _, d := range digests {
		desired := map[string]any{
			ContextIsDaily:        d.daily,
			ContextPreferenceName: d.preference,
			ContextSubject:        d.subject,
			ContextFromEmail:      settings.FromEmail,
			ContextUnreadOnly:     settings.UnreadOnly,
		}

		t, err := s.GetTimer(ctx, d.name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			t = store.Timer{
				Name:           d.name,
				CallbackAt:     firstRun,
				PeriodicityMin: d.periodicity,
			}
		case err != nil:
			return fmt.Errorf("load timer %s: %w", d.name, err)
		}

		merged := store.CopyMap(t.Context)
		if merged == nil {
			merged = make(map[string]any, len(desired))
		}
		for k, v := range desired {
			merged[k] = v
		}
		t.Context = merged
		t.ClassName = HandlerName
		t.IsActive = true
		t.ExecutedAt = nil
		t.ErrMsg = nil
		t.Results = nil

		saved, err := s.SaveTimer(ctx, t)
		if err != nil {
			return fmt.Errorf("save timer %s: %w", d.name, err)
		}
		logger.Info("digest timer registered",
			zap.String("timer_name", saved.Name),
			zap.Time("callback_at", saved.CallbackAt),
			zap.Int("periodicity_min", saved.PeriodicityMin),
		)
	}
	return nil
}
