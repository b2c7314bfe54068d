package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lalithlochan/courier/internal/store"
)

const preferenceColumns = `name, display_name, display_description, default_value`

// GetPreference loads a system preference.
func (s *Store) GetPreference(ctx context.Context, name string) (store.Preference, error) {
	var p store.Preference
	err := s.queryRow(ctx, s.db,
		`SELECT `+preferenceColumns+` FROM notification_preferences WHERE name = ?`, name,
	).Scan(&p.Name, &p.DisplayName, &p.DisplayDescription, &p.DefaultValue)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Preference{}, notFound("preference", name)
	}
	if err != nil {
		return store.Preference{}, fmt.Errorf("query preference: %w", err)
	}
	return p, nil
}

// SavePreference upserts a system preference by name.
func (s *Store) SavePreference(ctx context.Context, p store.Preference) (store.Preference, error) {
	if p.Name == "" {
		return store.Preference{}, invalid("preference name is required")
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO notification_preferences (`+preferenceColumns+`)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			display_name = excluded.display_name,
			display_description = excluded.display_description,
			default_value = excluded.default_value`,
		p.Name, p.DisplayName, p.DisplayDescription, p.DefaultValue)
	if err != nil {
		return store.Preference{}, fmt.Errorf("upsert preference: %w", err)
	}
	return p, nil
}

// ListPreferences returns every system preference ordered by name.
func (s *Store) ListPreferences(ctx context.Context) ([]store.Preference, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+preferenceColumns+` FROM notification_preferences ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []store.Preference
	for rows.Next() {
		var p store.Preference
		if err := rows.Scan(&p.Name, &p.DisplayName, &p.DisplayDescription, &p.DefaultValue); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return prefs, nil
}

const userPreferenceSelect = `
	SELECT up.user_id, up.value, p.name, p.display_name, p.display_description, p.default_value
	FROM user_notification_preferences up
	JOIN notification_preferences p ON p.name = up.preference_name `

// GetUserPreference loads one user's override of name.
func (s *Store) GetUserPreference(ctx context.Context, userID int64, name string) (store.UserPreference, error) {
	list, err := s.listUserPreferences(ctx,
		`WHERE up.user_id = ? AND up.preference_name = ?`, userID, name)
	if err != nil {
		return store.UserPreference{}, err
	}
	if len(list) == 0 {
		return store.UserPreference{}, notFound("user preference", fmt.Sprintf("user=%d name=%s", userID, name))
	}
	return list[0], nil
}

// SetUserPreference upserts a user's override. The system preference must exist.
func (s *Store) SetUserPreference(ctx context.Context, up store.UserPreference) (store.UserPreference, error) {
	pref, err := s.GetPreference(ctx, up.Preference.Name)
	if err != nil {
		return store.UserPreference{}, err
	}
	up.Preference = pref

	_, err = s.exec(ctx, s.db, `
		INSERT INTO user_notification_preferences (user_id, preference_name, value)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, preference_name) DO UPDATE SET value = excluded.value`,
		up.UserID, pref.Name, up.Value)
	if err != nil {
		return store.UserPreference{}, fmt.Errorf("upsert user preference: %w", err)
	}
	return up, nil
}

// UserPreferences returns every override set by userID.
func (s *Store) UserPreferences(ctx context.Context, userID int64) ([]store.UserPreference, error) {
	return s.listUserPreferences(ctx, `WHERE up.user_id = ? ORDER BY p.name`, userID)
}

// UserPreferencesWithName pages through users whose override of name equals value.
func (s *Store) UserPreferencesWithName(ctx context.Context, name, value string, offset, size int) ([]store.UserPreference, error) {
	if size <= 0 || offset < 0 {
		return nil, invalid("size must be positive and offset must not be negative")
	}
	if size > s.limits.PreferenceMaxListSize {
		return nil, invalid("size %d exceeds maximum %d", size, s.limits.PreferenceMaxListSize)
	}
	return s.listUserPreferences(ctx, `
		WHERE up.preference_name = ? AND up.value = ?
		ORDER BY up.user_id
		LIMIT ? OFFSET ?`, name, value, size, offset)
}

func (s *Store) listUserPreferences(ctx context.Context, tail string, args ...any) ([]store.UserPreference, error) {
	rows, err := s.query(ctx, s.db, userPreferenceSelect+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query user preferences: %w", err)
	}
	defer rows.Close()

	var list []store.UserPreference
	for rows.Next() {
		var up store.UserPreference
		err := rows.Scan(&up.UserID, &up.Value,
			&up.Preference.Name, &up.Preference.DisplayName,
			&up.Preference.DisplayDescription, &up.Preference.DefaultValue)
		if err != nil {
			return nil, fmt.Errorf("scan user preference: %w", err)
		}
		list = append(list, up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return list, nil
}
