package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
)

// SaveMessage inserts msg when it has no ID, otherwise updates the existing row.
func (s *Store) SaveMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	if msg.Type.Name == "" {
		return store.Message{}, invalid("message type is required")
	}
	msgType, err := s.GetType(ctx, msg.Type.Name)
	if err != nil {
		return store.Message{}, err
	}
	msg.Type = msgType

	payload, err := store.EncodeMap(msg.Payload)
	if err != nil {
		return store.Message{}, fmt.Errorf("%w: payload is not serializable: %v", store.ErrInvalid, err)
	}
	links, err := store.EncodeMap(msg.ResolveLinks)
	if err != nil {
		return store.Message{}, fmt.Errorf("%w: resolve links are not serializable: %v", store.ErrInvalid, err)
	}

	if msg.ID != 0 {
		res, err := s.exec(ctx, s.db, `
			UPDATE notification_messages
			SET msg_type = ?, namespace = ?, payload = ?, resolve_links = ?, object_id = ?
			WHERE id = ?`,
			msg.Type.Name, msg.Namespace, payload, links, msg.ObjectID, msg.ID)
		if err != nil {
			return store.Message{}, fmt.Errorf("update message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.Message{}, notFound("message", msg.ID)
		}
		return msg, nil
	}

	if msg.Created.IsZero() {
		msg.Created = s.now()
	}
	msg.Created = truncate(msg.Created)

	err = s.queryRow(ctx, s.db, `
		INSERT INTO notification_messages (msg_type, namespace, payload, resolve_links, object_id, created)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		msg.Type.Name, msg.Namespace, payload, links, msg.ObjectID, toMicros(msg.Created),
	).Scan(&msg.ID)
	if err != nil {
		s.logger.Error("failed to create message",
			zap.Error(err),
			zap.String("msg_type", msg.Type.Name),
		)
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

// GetMessage loads a message. SelectRelated joins the type row in the same
// query; otherwise the type is resolved through the type cache.
func (s *Store) GetMessage(ctx context.Context, id int64, opts store.Options) (store.Message, error) {
	if opts.SelectRelated {
		row := s.queryRow(ctx, s.db, `
			SELECT `+messageColumns+`, t.renderer, t.renderer_context
			FROM notification_messages m
			JOIN notification_types t ON t.name = m.msg_type
			WHERE m.id = ?`, id)
		msg, err := scanMessage(row, true)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Message{}, notFound("message", id)
		}
		return msg, err
	}

	row := s.queryRow(ctx, s.db,
		`SELECT `+messageColumns+` FROM notification_messages m WHERE m.id = ?`, id)
	msg, err := scanMessage(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Message{}, notFound("message", id)
	}
	if err != nil {
		return store.Message{}, err
	}

	if msg.Type, err = s.GetType(ctx, msg.Type.Name); err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

const messageColumns = `m.id, m.msg_type, m.namespace, m.payload, m.resolve_links, m.object_id, m.created`

type scanner interface {
	Scan(dest ...any) error
}

// scanMessage reads messageColumns, followed by the type columns when related is set.
func scanMessage(row scanner, related bool) (store.Message, error) {
	var (
		msg                   store.Message
		payload, links        string
		created               int64
		renderer, rendererCtx string
	)
	dest := []any{&msg.ID, &msg.Type.Name, &msg.Namespace, &payload, &links, &msg.ObjectID, &created}
	if related {
		dest = append(dest, &renderer, &rendererCtx)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Message{}, err
		}
		return store.Message{}, fmt.Errorf("scan message: %w", err)
	}
	return finishMessage(msg, payload, links, created, related, renderer, rendererCtx)
}

func finishMessage(msg store.Message, payload, links string, created int64, related bool, renderer, rendererCtx string) (store.Message, error) {
	var err error
	msg.Created = fromMicros(created)
	if msg.Payload, err = store.DecodeMap(payload); err != nil {
		return store.Message{}, fmt.Errorf("decode payload: %w", err)
	}
	if msg.ResolveLinks, err = store.DecodeMap(links); err != nil {
		return store.Message{}, fmt.Errorf("decode resolve links: %w", err)
	}
	if related {
		msg.Type.Renderer = renderer
		if msg.Type.RendererContext, err = store.DecodeMap(rendererCtx); err != nil {
			return store.Message{}, fmt.Errorf("decode renderer context: %w", err)
		}
	}
	return msg, nil
}
