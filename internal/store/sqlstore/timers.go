package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lalithlochan/courier/internal/store"
)

const timerColumns = `name, callback_at, class_name, is_active, periodicity_min, context, executed_at, err_msg, results, created`

// ActiveTimers returns active timers due by q.Until, oldest first.
func (s *Store) ActiveTimers(ctx context.Context, q store.TimerQuery) ([]store.Timer, error) {
	until := s.now()
	if q.Until != nil {
		until = *q.Until
	}

	query := `SELECT ` + timerColumns + ` FROM notification_timers
		WHERE is_active = ? AND callback_at <= ?`
	if !q.IncludeExecuted {
		query += ` AND executed_at IS NULL`
	}
	query += ` ORDER BY callback_at, name`

	rows, err := s.query(ctx, s.db, query, true, toMicros(until))
	if err != nil {
		return nil, fmt.Errorf("query active timers: %w", err)
	}
	defer rows.Close()

	var timers []store.Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return timers, nil
}

// GetTimer loads a timer by name.
func (s *Store) GetTimer(ctx context.Context, name string) (store.Timer, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+timerColumns+` FROM notification_timers WHERE name = ?`, name)
	t, err := scanTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Timer{}, notFound("timer", name)
	}
	return t, err
}

// SaveTimer upserts a timer by name. The original created stamp survives updates.
func (s *Store) SaveTimer(ctx context.Context, t store.Timer) (store.Timer, error) {
	if t.Name == "" {
		return store.Timer{}, invalid("timer name is required")
	}
	if t.PeriodicityMin < 0 {
		return store.Timer{}, invalid("periodicity must not be negative")
	}

	timerCtx, err := store.EncodeMap(t.Context)
	if err != nil {
		return store.Timer{}, fmt.Errorf("%w: timer context is not serializable: %v", store.ErrInvalid, err)
	}
	var results any
	if t.Results != nil {
		encoded, err := store.EncodeMap(t.Results)
		if err != nil {
			return store.Timer{}, fmt.Errorf("%w: timer results are not serializable: %v", store.ErrInvalid, err)
		}
		results = encoded
	}
	var periodicity any
	if t.PeriodicityMin > 0 {
		periodicity = t.PeriodicityMin
	}
	if t.Created.IsZero() {
		t.Created = s.now()
	}

	_, err = s.exec(ctx, s.db, `
		INSERT INTO notification_timers (`+timerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			callback_at = excluded.callback_at,
			class_name = excluded.class_name,
			is_active = excluded.is_active,
			periodicity_min = excluded.periodicity_min,
			context = excluded.context,
			executed_at = excluded.executed_at,
			err_msg = excluded.err_msg,
			results = excluded.results`,
		t.Name, toMicros(t.CallbackAt), t.ClassName, t.IsActive, periodicity, timerCtx,
		nullableMicros(t.ExecutedAt), t.ErrMsg, results, toMicros(t.Created))
	if err != nil {
		return store.Timer{}, fmt.Errorf("upsert timer: %w", err)
	}

	return s.GetTimer(ctx, t.Name)
}

func scanTimer(row scanner) (store.Timer, error) {
	var (
		t           store.Timer
		callbackAt  int64
		periodicity *int64
		timerCtx    string
		executedAt  *int64
		results     *string
		created     int64
	)
	err := row.Scan(&t.Name, &callbackAt, &t.ClassName, &t.IsActive, &periodicity,
		&timerCtx, &executedAt, &t.ErrMsg, &results, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Timer{}, err
		}
		return store.Timer{}, fmt.Errorf("scan timer: %w", err)
	}

	t.CallbackAt = fromMicros(callbackAt)
	t.ExecutedAt = timePtr(executedAt)
	t.Created = fromMicros(created)
	if periodicity != nil {
		t.PeriodicityMin = int(*periodicity)
	}
	if t.Context, err = store.DecodeMap(timerCtx); err != nil {
		return store.Timer{}, fmt.Errorf("decode timer context: %w", err)
	}
	if results != nil {
		if t.Results, err = store.DecodeMap(*results); err != nil {
			return store.Timer{}, fmt.Errorf("decode timer results: %w", err)
		}
	}
	return t, nil
}
