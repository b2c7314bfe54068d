package config

import (
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Port != 8080 || cfg.DBDriver != "sqlite" || cfg.MailTransport != "log" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.TimerPollInterval != time.Minute || cfg.TypeCacheSize != 1024 {
		t.Errorf("poll=%v cache=%d", cfg.TimerPollInterval, cfg.TypeCacheSize)
	}

	s := cfg.DigestSettings()
	if s.DailyPreferenceName != "notification_daily_digest" || s.MinutesInAWeek != 10080 {
		t.Errorf("digest settings = %+v", s)
	}
	if !s.UnreadOnly || s.TimeFiltered || !s.DontSendEmpty {
		t.Errorf("digest flags = %+v", s)
	}
	if len(s.GroupConfig.Groups) != 0 {
		t.Errorf("group config should be empty, got %+v", s.GroupConfig)
	}

	r := cfg.RetentionSettings()
	if r.TimerName != "purge-notifications-timer" || r.PeriodicityMin != 1440 || r.ReadOlderThanDays != 30 {
		t.Errorf("retention settings = %+v", r)
	}
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("TIMER_POLL_INTERVAL", "15s")
	t.Setenv("NOTIFICATION_DIGEST_UNREAD_ONLY", "false")
	t.Setenv("NOTIFICATIONS_PREFERENCE_DAILYDIGEST_DEFAULT", "true")
	t.Setenv("NOTIFICATION_MAX_LIST_SIZE", "25")
	t.Setenv("NOTIFICATION_DIGEST_GROUP_CONFIG", `{
		"type_mapping": {"open-edx.lms.*": "lms"},
		"groups": {"lms": {"display_name": "Courseware", "group_order": 1}}
	}`)

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != 9090 || cfg.DBDriver != "postgres" || cfg.TimerPollInterval != 15*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.DigestSettings().UnreadOnly {
		t.Error("unread only should be off")
	}
	if got := cfg.PreferenceDefaults().DailyDefault; got != "true" {
		t.Errorf("daily default = %q", got)
	}
	if got := cfg.StoreLimits().MaxListSize; got != 25 {
		t.Errorf("max list size = %d", got)
	}
	group, ok := cfg.DigestSettings().GroupConfig.Lookup("open-edx.lms.leaderboard")
	if !ok || group != "lms" {
		t.Errorf("lookup = %q, %v", group, ok)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad int", "PORT", "eighty", "parse env"},
		{"bad duration", "TIMER_LEASE_TTL", "soon", "parse env"},
		{"bad group config", "NOTIFICATION_DIGEST_GROUP_CONFIG", "{not json", "invalid NOTIFICATION_DIGEST_GROUP_CONFIG"},
		{"unknown transport", "MAIL_TRANSPORT", "pigeon", "invalid MAIL_TRANSPORT"},
		{"unknown driver", "DB_DRIVER", "oracle", "invalid DB_DRIVER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Parse()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
