package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
)

// ScheduleRequest registers or replaces a timer.
type ScheduleRequest struct {
	Name           string
	ClassName      string
	CallbackAt     time.Time
	PeriodicityMin int
	Context        map[string]any
}

// Schedule upserts an active timer. Any earlier outcome on a timer of the
// same name is cleared.
func (e *Engine) Schedule(ctx context.Context, req ScheduleRequest) (store.Timer, error) {
	if req.Name == "" {
		return store.Timer{}, fmt.Errorf("%w: timer name is required", store.ErrInvalid)
	}
	if !e.registry.Known(req.ClassName) {
		return store.Timer{}, fmt.Errorf("%w: %s", ErrUnknownHandler, req.ClassName)
	}

	t := store.Timer{
		Name:           req.Name,
		CallbackAt:     req.CallbackAt.UTC(),
		ClassName:      req.ClassName,
		IsActive:       true,
		PeriodicityMin: req.PeriodicityMin,
		Context:        store.CopyMap(req.Context),
	}
	if existing, err := e.store.GetTimer(ctx, req.Name); err == nil {
		t.Created = existing.Created
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Timer{}, fmt.Errorf("load timer: %w", err)
	}

	saved, err := e.store.SaveTimer(ctx, t)
	if err != nil {
		return store.Timer{}, fmt.Errorf("save timer: %w", err)
	}
	e.logger.Info("timer scheduled",
		zap.String("timer_name", saved.Name),
		zap.String("class_name", saved.ClassName),
		zap.Time("callback_at", saved.CallbackAt),
		zap.Int("periodicity_min", saved.PeriodicityMin),
	)
	return saved, nil
}

// Cancel deactivates a timer. Cancelling an unknown timer is a no-op.
func (e *Engine) Cancel(ctx context.Context, name string) error {
	t, err := e.store.GetTimer(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Info("cancel of unknown timer ignored", zap.String("timer_name", name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load timer: %w", err)
	}
	if !t.IsActive {
		return nil
	}

	t.IsActive = false
	if _, err := e.store.SaveTimer(ctx, t); err != nil {
		return fmt.Errorf("save timer: %w", err)
	}
	e.logger.Info("timer cancelled", zap.String("timer_name", name))
	return nil
}

// Reschedule moves a timer's callback. Moving it into the past cancels the
// pending run; moving it into the future reactivates the timer and clears
// any earlier outcome.
func (e *Engine) Reschedule(ctx context.Context, name string, at time.Time) (store.Timer, error) {
	t, err := e.store.GetTimer(ctx, name)
	if err != nil {
		return store.Timer{}, fmt.Errorf("load timer: %w", err)
	}

	t.CallbackAt = at.UTC()
	if at.Before(e.now()) {
		t.IsActive = false
	} else {
		t.IsActive = true
		t.ExecutedAt = nil
		t.ErrMsg = nil
	}

	saved, err := e.store.SaveTimer(ctx, t)
	if err != nil {
		return store.Timer{}, fmt.Errorf("save timer: %w", err)
	}
	e.logger.Info("timer rescheduled",
		zap.String("timer_name", name),
		zap.Time("callback_at", saved.CallbackAt),
		zap.Bool("is_active", saved.IsActive),
	)
	return saved, nil
}
