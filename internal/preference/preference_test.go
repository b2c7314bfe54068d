package preference

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/store"
)

type memStore struct {
	prefs     map[string]store.Preference
	overrides map[int64]map[string]string
	saves     int
	failUser  bool
}

func newMemStore() *memStore {
	return &memStore{prefs: map[string]store.Preference{}, overrides: map[int64]map[string]string{}}
}

func (m *memStore) GetPreference(_ context.Context, name string) (store.Preference, error) {
	p, ok := m.prefs[name]
	if !ok {
		return store.Preference{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) SavePreference(_ context.Context, p store.Preference) (store.Preference, error) {
	m.saves++
	m.prefs[p.Name] = p
	return p, nil
}

func (m *memStore) GetUserPreference(_ context.Context, userID int64, name string) (store.UserPreference, error) {
	if m.failUser {
		return store.UserPreference{}, errors.New("connection reset")
	}
	v, ok := m.overrides[userID][name]
	if !ok {
		return store.UserPreference{}, store.ErrNotFound
	}
	return store.UserPreference{UserID: userID, Preference: m.prefs[name], Value: v}, nil
}

func TestIsTrue(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"true", true},
		{"True", true},
		{"TRUE", true},
		{"false", false},
		{"yes", false},
		{"", false},
		{" true", false},
	}
	for _, tt := range tests {
		if got := IsTrue(tt.in); got != tt.want {
			t.Errorf("IsTrue(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEngine_UserWants(t *testing.T) {
	s := newMemStore()
	s.prefs["daily"] = store.Preference{Name: "daily", DefaultValue: "False"}
	s.overrides[1] = map[string]string{"daily": "TRUE"}
	s.overrides[2] = map[string]string{"daily": "false"}
	e := NewEngine(s, zap.NewNop())
	ctx := context.Background()

	def, err := e.Default(ctx, "daily")
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if def {
		t.Fatal("expected default to be false")
	}
	if _, err := e.Default(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if !e.UserWants(ctx, 1, "daily", def) {
		t.Error("user 1 overrides to true")
	}
	if e.UserWants(ctx, 2, "daily", true) {
		t.Error("user 2 overrides to false")
	}
	if e.UserWants(ctx, 3, "daily", def) {
		t.Error("user 3 has no override and should follow the default")
	}

	s.failUser = true
	if !e.UserWants(ctx, 2, "daily", true) {
		t.Error("lookup failure should fall back to the default")
	}
}

func TestBootstrap_Idempotent(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	d := Defaults{DailyName: "daily", DailyDefault: "true", WeeklyName: "weekly", WeeklyDefault: "false"}

	n, err := Bootstrap(ctx, s, d, zap.NewNop())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if n != 2 {
		t.Fatalf("created %d, want 2", n)
	}

	// An operator changes a default; a second bootstrap must not undo it.
	p := s.prefs["daily"]
	p.DefaultValue = "false"
	s.prefs["daily"] = p

	d.DailyDefault = "true"
	n, err = Bootstrap(ctx, s, d, zap.NewNop())
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if n != 0 {
		t.Errorf("second bootstrap created %d", n)
	}
	if s.prefs["daily"].DefaultValue != "false" {
		t.Error("bootstrap overwrote an existing preference")
	}
	if s.saves != 2 || len(s.prefs) != 2 {
		t.Errorf("saves=%d prefs=%d, want 2 and 2", s.saves, len(s.prefs))
	}
}
