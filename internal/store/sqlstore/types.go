package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
)

// SaveType upserts a notification type by name. A concurrent insert of the
// same name surfaces as a conflict and is retried once as an update.
func (s *Store) SaveType(ctx context.Context, t store.NotificationType) (store.NotificationType, error) {
	if t.Name == "" {
		return store.NotificationType{}, invalid("notification type name is required")
	}

	err := s.upsertType(ctx, t)
	if errors.Is(err, store.ErrConflict) {
		s.logger.Debug("notification type insert raced, retrying",
			zap.String("msg_type", t.Name),
		)
		err = s.upsertType(ctx, t)
	}
	if err != nil {
		return store.NotificationType{}, err
	}

	s.types.Invalidate(t.Name)
	return t, nil
}

func (s *Store) upsertType(ctx context.Context, t store.NotificationType) error {
	rendererCtx, err := store.EncodeMap(t.RendererContext)
	if err != nil {
		return fmt.Errorf("encode renderer context: %w", err)
	}

	res, err := s.exec(ctx, s.db,
		`UPDATE notification_types SET renderer = ?, renderer_context = ? WHERE name = ?`,
		t.Renderer, rendererCtx, t.Name)
	if err != nil {
		return fmt.Errorf("update notification type: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.exec(ctx, s.db,
		`INSERT INTO notification_types (name, renderer, renderer_context) VALUES (?, ?, ?)`,
		t.Name, t.Renderer, rendererCtx)
	if s.dialect.isUniqueViolation(err) {
		return fmt.Errorf("%w: notification type %s", store.ErrConflict, t.Name)
	}
	if err != nil {
		return fmt.Errorf("insert notification type: %w", err)
	}
	return nil
}

// GetType returns a notification type, consulting the cache first.
func (s *Store) GetType(ctx context.Context, name string) (store.NotificationType, error) {
	if t, ok := s.types.Get(name); ok {
		return t, nil
	}

	var (
		t           store.NotificationType
		rendererCtx string
	)
	err := s.queryRow(ctx, s.db,
		`SELECT name, renderer, renderer_context FROM notification_types WHERE name = ?`, name,
	).Scan(&t.Name, &t.Renderer, &rendererCtx)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NotificationType{}, notFound("notification type", name)
	}
	if err != nil {
		return store.NotificationType{}, fmt.Errorf("query notification type: %w", err)
	}

	if t.RendererContext, err = store.DecodeMap(rendererCtx); err != nil {
		return store.NotificationType{}, fmt.Errorf("decode renderer context: %w", err)
	}

	s.types.Add(t)
	return t, nil
}

// ListTypes returns every notification type ordered by name.
func (s *Store) ListTypes(ctx context.Context) ([]store.NotificationType, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT name, renderer, renderer_context FROM notification_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query notification types: %w", err)
	}
	defer rows.Close()

	var types []store.NotificationType
	for rows.Next() {
		var (
			t           store.NotificationType
			rendererCtx string
		)
		if err := rows.Scan(&t.Name, &t.Renderer, &rendererCtx); err != nil {
			return nil, fmt.Errorf("scan notification type: %w", err)
		}
		if t.RendererContext, err = store.DecodeMap(rendererCtx); err != nil {
			return nil, fmt.Errorf("decode renderer context: %w", err)
		}
		types = append(types, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return types, nil
}
