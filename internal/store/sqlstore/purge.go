package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
)

// Namespaces lists the distinct namespaces of messages created inside the
// optional window, in lexicographic order.
func (s *Store) Namespaces(ctx context.Context, start, end *time.Time) ([]string, error) {
	query := `SELECT DISTINCT namespace FROM notification_messages WHERE namespace <> ''`
	var args []any
	if start != nil {
		query += ` AND created >= ?`
		args = append(args, toMicros(*start))
	}
	if end != nil {
		query += ` AND created <= ?`
		args = append(args, toMicros(*end))
	}
	query += ` ORDER BY namespace`

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query namespaces: %w", err)
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		namespaces = append(namespaces, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return namespaces, nil
}

// PurgeExpiredNotifications deletes read records whose read_at is older than
// ReadOlderThan and unread records created before UnreadOlderThan. With
// Archive set the rows are copied to user_notifications_archive first.
func (s *Store) PurgeExpiredNotifications(ctx context.Context, opts store.PurgeOptions) (int64, error) {
	type bound struct {
		cond string
		at   time.Time
	}
	var bounds []bound
	if opts.ReadOlderThan != nil {
		bounds = append(bounds, bound{"read_at IS NOT NULL AND read_at < ?", *opts.ReadOlderThan})
	}
	if opts.UnreadOlderThan != nil {
		bounds = append(bounds, bound{"read_at IS NULL AND created < ?", *opts.UnreadOlderThan})
	}
	if len(bounds) == 0 {
		return 0, nil
	}

	archivedAt := toMicros(s.now())
	var purged int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, b := range bounds {
			at := toMicros(b.at)
			if opts.Archive {
				_, err := s.exec(ctx, tx, `
					INSERT INTO user_notifications_archive (id, user_id, msg_id, read_at, created, archived_at)
					SELECT id, user_id, msg_id, read_at, created, ?
					FROM user_notifications
					WHERE `+b.cond, archivedAt, at)
				if err != nil {
					return fmt.Errorf("archive user notifications: %w", err)
				}
			}

			res, err := s.exec(ctx, tx, `DELETE FROM user_notifications WHERE `+b.cond, at)
			if err != nil {
				return fmt.Errorf("delete user notifications: %w", err)
			}
			n, _ := res.RowsAffected()
			purged += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("expired notifications purged",
		zap.Int64("count", purged),
		zap.Bool("archived", opts.Archive),
	)
	return purged, nil
}
