package preference

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
)

// Defaults names the digest preferences and their default values.
type Defaults struct {
	DailyName     string
	DailyDefault  string
	WeeklyName    string
	WeeklyDefault string
}

// Bootstrap creates the daily and weekly digest preferences when absent.
// Existing rows keep their stored defaults. It returns how many were created.
func Bootstrap(ctx context.Context, s Store, d Defaults, logger *zap.Logger) (int, error) {
	wanted := []store.Preference{
		{
			Name:               d.DailyName,
			DisplayName:        "Daily Notification Digest",
			DisplayDescription: "This setting will cause a daily digest of all notifications to be sent to your registered email address",
			DefaultValue:       d.DailyDefault,
		},
		{
			Name:               d.WeeklyName,
			DisplayName:        "Weekly Notification Digest",
			DisplayDescription: "This setting will cause a weekly digest of all notifications to be sent to your registered email address",
			DefaultValue:       d.WeeklyDefault,
		},
	}

	created := 0
	for _, p := range wanted {
		_, err := s.GetPreference(ctx, p.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return created, fmt.Errorf("get preference %s: %w", p.Name, err)
		}
		if _, err := s.SavePreference(ctx, p); err != nil {
			return created, fmt.Errorf("create preference %s: %w", p.Name, err)
		}
		created++
		logger.Info("preference created",
			zap.String("preference_name", p.Name),
			zap.String("default_value", p.DefaultValue),
		)
	}
	return created, nil
}
