// Package store defines the notification data model and the persistence
// contract shared by the timer engine and the digest pipeline.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a lookup by key matches nothing.
	ErrNotFound = errors.New("item not found")

	// ErrInvalid is returned when arguments, filters or options violate a
	// documented bound.
	ErrInvalid = errors.New("invalid argument")

	// ErrBulkTooLarge is returned when a bulk insert exceeds the chunk size.
	ErrBulkTooLarge = errors.New("bulk operation too large")

	// ErrConflict is returned on a uniqueness violation.
	ErrConflict = errors.New("uniqueness conflict")
)

// Limits are the hard caps applied by a store implementation.
type Limits struct {
	MaxListSize           int // NOTIFICATION_MAX_LIST_SIZE
	BulkChunkSize         int // NOTIFICATION_BULK_PUBLISH_CHUNK_SIZE
	PreferenceMaxListSize int // USER_PREFERENCE_MAX_LIST_SIZE
}

// DefaultLimits mirrors the stock configuration.
func DefaultLimits() Limits {
	return Limits{
		MaxListSize:           100,
		BulkChunkSize:         100,
		PreferenceMaxListSize: 1000,
	}
}

// Filters select user notifications. Read and Unread mean "include read"
// and "include unread"; StartDate and EndDate bound the fan-out created time.
type Filters struct {
	Namespace string
	TypeName  string
	Read      bool
	Unread    bool
	StartDate *time.Time
	EndDate   *time.Time
}

// DefaultFilters selects every notification of a user.
func DefaultFilters() Filters {
	return Filters{Read: true, Unread: true}
}

// Validate rejects the read=false, unread=false combination.
func (f Filters) Validate() error {
	if !f.Read && !f.Unread {
		return fmt.Errorf("%w: read and unread cannot both be false", ErrInvalid)
	}
	return nil
}

// Options control pagination and eager loading.
type Options struct {
	Limit         int // 0 means the configured maximum
	Offset        int
	SelectRelated bool
}

// TimerQuery parameterizes ActiveTimers.
type TimerQuery struct {
	Until           *time.Time // nil means now
	IncludeExecuted bool
}

// PurgeOptions bound a retention purge. Nil bounds are skipped.
type PurgeOptions struct {
	ReadOlderThan   *time.Time
	UnreadOlderThan *time.Time
	Archive         bool
}

// Store persists every notification entity.
type Store interface {
	SaveMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, id int64, opts Options) (Message, error)

	SaveType(ctx context.Context, t NotificationType) (NotificationType, error)
	GetType(ctx context.Context, name string) (NotificationType, error)
	ListTypes(ctx context.Context) ([]NotificationType, error)

	SaveUserNotification(ctx context.Context, un UserNotification) (UserNotification, error)
	BulkCreateUserNotifications(ctx context.Context, uns []UserNotification) (int, error)
	NotificationsForUser(ctx context.Context, userID int64, f Filters, opts Options) ([]UserNotification, error)
	CountNotificationsForUser(ctx context.Context, userID int64, f Filters) (int, error)
	NotificationForUser(ctx context.Context, userID, msgID int64) (UserNotification, error)
	MarkNotificationsRead(ctx context.Context, userID int64, f Filters) (int64, error)

	ActiveTimers(ctx context.Context, q TimerQuery) ([]Timer, error)
	GetTimer(ctx context.Context, name string) (Timer, error)
	SaveTimer(ctx context.Context, t Timer) (Timer, error)

	GetPreference(ctx context.Context, name string) (Preference, error)
	SavePreference(ctx context.Context, p Preference) (Preference, error)
	ListPreferences(ctx context.Context) ([]Preference, error)
	GetUserPreference(ctx context.Context, userID int64, name string) (UserPreference, error)
	SetUserPreference(ctx context.Context, up UserPreference) (UserPreference, error)
	UserPreferences(ctx context.Context, userID int64) ([]UserPreference, error)
	UserPreferencesWithName(ctx context.Context, name, value string, offset, size int) ([]UserPreference, error)

	Namespaces(ctx context.Context, start, end *time.Time) ([]string, error)
	PurgeExpiredNotifications(ctx context.Context, opts PurgeOptions) (int64, error)
}
