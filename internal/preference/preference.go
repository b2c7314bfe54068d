// Package preference evaluates system preferences and per-user overrides.
package preference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
)

// Store is the subset of store.Store the engine needs.
type Store interface {
	GetPreference(ctx context.Context, name string) (store.Preference, error)
	SavePreference(ctx context.Context, p store.Preference) (store.Preference, error)
	GetUserPreference(ctx context.Context, userID int64, name string) (store.UserPreference, error)
}

// IsTrue normalizes a stored preference value.
func IsTrue(value string) bool {
	return strings.ToLower(value) == "true"
}

// Engine answers "does this user want X".
type Engine struct {
	store  Store
	logger *zap.Logger
}

// NewEngine creates a preference engine over s.
func NewEngine(s Store, logger *zap.Logger) *Engine {
	return &Engine{store: s, logger: logger}
}

// Default returns the system default of name.
func (e *Engine) Default(ctx context.Context, name string) (bool, error) {
	p, err := e.store.GetPreference(ctx, name)
	if err != nil {
		return false, fmt.Errorf("get preference %s: %w", name, err)
	}
	return IsTrue(p.DefaultValue), nil
}

// UserWants returns the user's override of name, or fallback when the user
// has none. Lookup failures are logged and also answer fallback.
func (e *Engine) UserWants(ctx context.Context, userID int64, name string, fallback bool) bool {
	up, err := e.store.GetUserPreference(ctx, userID, name)
	if errors.Is(err, store.ErrNotFound) {
		return fallback
	}
	if err != nil {
		e.logger.Warn("user preference lookup failed, using default",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.String("preference_name", name),
		)
		return fallback
	}
	return IsTrue(up.Value)
}
