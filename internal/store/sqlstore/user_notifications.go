package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
)

// SaveUserNotification fans a message out to one user. With an ID set it
// updates the read state of that record instead.
func (s *Store) SaveUserNotification(ctx context.Context, un store.UserNotification) (store.UserNotification, error) {
	if un.ID != 0 {
		res, err := s.exec(ctx, s.db,
			`UPDATE user_notifications SET read_at = ? WHERE id = ? AND user_id = ?`,
			nullableMicros(un.ReadAt), un.ID, un.UserID)
		if err != nil {
			return store.UserNotification{}, fmt.Errorf("update user notification: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.UserNotification{}, notFound("user notification", un.ID)
		}
		return un, nil
	}

	if un.Msg.ID == 0 {
		return store.UserNotification{}, invalid("user notification requires a saved message")
	}
	if un.Created.IsZero() {
		un.Created = s.now()
	}
	un.Created = truncate(un.Created)

	err := s.queryRow(ctx, s.db, `
		INSERT INTO user_notifications (user_id, msg_id, read_at, created)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		un.UserID, un.Msg.ID, nullableMicros(un.ReadAt), toMicros(un.Created),
	).Scan(&un.ID)
	if s.dialect.isUniqueViolation(err) {
		return store.UserNotification{}, fmt.Errorf("%w: user %d already has message %d", store.ErrConflict, un.UserID, un.Msg.ID)
	}
	if err != nil {
		return store.UserNotification{}, fmt.Errorf("insert user notification: %w", err)
	}

	return un, nil
}

// BulkCreateUserNotifications inserts uns in one statement. IDs are not
// populated on the inputs.
func (s *Store) BulkCreateUserNotifications(ctx context.Context, uns []store.UserNotification) (int, error) {
	if len(uns) > s.limits.BulkChunkSize {
		return 0, fmt.Errorf("%w: %d records exceeds chunk size %d", store.ErrBulkTooLarge, len(uns), s.limits.BulkChunkSize)
	}
	if len(uns) == 0 {
		return 0, nil
	}

	now := s.now()
	var b strings.Builder
	b.WriteString("INSERT INTO user_notifications (user_id, msg_id, read_at, created) VALUES ")
	args := make([]any, 0, len(uns)*4)
	for i, un := range uns {
		if un.ID != 0 {
			return 0, invalid("bulk create does not support updates (id %d)", un.ID)
		}
		if un.Msg.ID == 0 {
			return 0, invalid("user notification %d requires a saved message", i)
		}
		created := un.Created
		if created.IsZero() {
			created = now
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?)")
		args = append(args, un.UserID, un.Msg.ID, nullableMicros(un.ReadAt), toMicros(created))
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx, b.String(), args...)
		return err
	})
	if s.dialect.isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: duplicate user notification in bulk insert", store.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("bulk insert user notifications: %w", err)
	}

	s.logger.Debug("user notifications created", zap.Int("count", len(uns)))
	return len(uns), nil
}

// NotificationsForUser returns matching notifications, most recent first.
func (s *Store) NotificationsForUser(ctx context.Context, userID int64, f store.Filters, opts store.Options) ([]store.UserNotification, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	limit, err := s.checkLimit(opts)
	if err != nil {
		return nil, err
	}

	where, args := userFilterClause(userID, f)
	args = append(args, limit, opts.Offset)

	return s.listUserNotifications(ctx, where+`
		ORDER BY un.created DESC, un.id DESC
		LIMIT ? OFFSET ?`, opts.SelectRelated, args...)
}

// CountNotificationsForUser counts under the same filter semantics.
func (s *Store) CountNotificationsForUser(ctx context.Context, userID int64, f store.Filters) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	where, args := userFilterClause(userID, f)
	var n int
	err := s.queryRow(ctx, s.db, `
		SELECT COUNT(*)
		FROM user_notifications un
		JOIN notification_messages m ON m.id = un.msg_id
		`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user notifications: %w", err)
	}
	return n, nil
}

// NotificationForUser returns the user's record of msgID.
func (s *Store) NotificationForUser(ctx context.Context, userID, msgID int64) (store.UserNotification, error) {
	list, err := s.listUserNotifications(ctx,
		`WHERE un.user_id = ? AND un.msg_id = ?`, true, userID, msgID)
	if err != nil {
		return store.UserNotification{}, err
	}
	if len(list) == 0 {
		return store.UserNotification{}, notFound("user notification", fmt.Sprintf("user=%d msg=%d", userID, msgID))
	}
	return list[0], nil
}

// MarkNotificationsRead stamps read_at on every matching unread record.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID int64, f store.Filters) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	where, args := userFilterClause(userID, f)
	args = append([]any{toMicros(s.now())}, args...)

	res, err := s.exec(ctx, s.db, `
		UPDATE user_notifications SET read_at = ?
		WHERE id IN (
			SELECT un.id
			FROM user_notifications un
			JOIN notification_messages m ON m.id = un.msg_id
			`+where+` AND un.read_at IS NULL
		)`, args...)
	if err != nil {
		return 0, fmt.Errorf("mark user notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) checkLimit(opts store.Options) (int, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return 0, invalid("limit and offset must not be negative")
	}
	if opts.Limit > s.limits.MaxListSize {
		return 0, invalid("limit %d exceeds maximum %d", opts.Limit, s.limits.MaxListSize)
	}
	if opts.Limit == 0 {
		return s.limits.MaxListSize, nil
	}
	return opts.Limit, nil
}

// userFilterClause renders a WHERE clause over un (user_notifications) and
// m (notification_messages).
func userFilterClause(userID int64, f store.Filters) (string, []any) {
	conds := []string{"un.user_id = ?"}
	args := []any{userID}

	if f.Namespace != "" {
		conds = append(conds, "m.namespace = ?")
		args = append(args, f.Namespace)
	}
	if f.TypeName != "" {
		conds = append(conds, "m.msg_type = ?")
		args = append(args, f.TypeName)
	}
	if !f.Read {
		conds = append(conds, "un.read_at IS NULL")
	}
	if !f.Unread {
		conds = append(conds, "un.read_at IS NOT NULL")
	}
	if f.StartDate != nil {
		conds = append(conds, "un.created >= ?")
		args = append(args, toMicros(*f.StartDate))
	}
	if f.EndDate != nil {
		conds = append(conds, "un.created <= ?")
		args = append(args, toMicros(*f.EndDate))
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) listUserNotifications(ctx context.Context, tail string, related bool, args ...any) ([]store.UserNotification, error) {
	query := `SELECT un.id, un.user_id, un.read_at, un.created, ` + messageColumns
	if related {
		query += `, t.renderer, t.renderer_context
		FROM user_notifications un
		JOIN notification_messages m ON m.id = un.msg_id
		JOIN notification_types t ON t.name = m.msg_type `
	} else {
		query += `
		FROM user_notifications un
		JOIN notification_messages m ON m.id = un.msg_id `
	}

	rows, err := s.query(ctx, s.db, query+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query user notifications: %w", err)
	}
	defer rows.Close()

	var list []store.UserNotification
	for rows.Next() {
		var (
			un                    store.UserNotification
			readAt                *int64
			created, msgCreated   int64
			payload, links        string
			renderer, rendererCtx string
		)
		dest := []any{
			&un.ID, &un.UserID, &readAt, &created,
			&un.Msg.ID, &un.Msg.Type.Name, &un.Msg.Namespace, &payload, &links, &un.Msg.ObjectID, &msgCreated,
		}
		if related {
			dest = append(dest, &renderer, &rendererCtx)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan user notification: %w", err)
		}

		un.ReadAt = timePtr(readAt)
		un.Created = fromMicros(created)
		if un.Msg, err = finishMessage(un.Msg, payload, links, msgCreated, related, renderer, rendererCtx); err != nil {
			return nil, err
		}
		list = append(list, un)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	if !related {
		if err := s.attachTypes(ctx, list); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// attachTypes fills message types from the cache after the rows are closed.
func (s *Store) attachTypes(ctx context.Context, list []store.UserNotification) error {
	for i := range list {
		t, err := s.GetType(ctx, list[i].Msg.Type.Name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		list[i].Msg.Type = t
	}
	return nil
}
