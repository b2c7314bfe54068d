package digest

import "time"

// Periodicities, in minutes.
const (
	MinutesInADay  = 24 * 60
	MinutesInAWeek = 7 * MinutesInADay
)

// Settings carry the digest configuration surface.
type Settings struct {
	DailyPreferenceName  string
	WeeklyPreferenceName string
	DailySubject         string
	WeeklySubject        string
	FromEmail            string
	UnreadOnly           bool
	TimeFiltered         bool
	DontSendEmpty        bool

	// CSSPath and LogoPath are absolute or relative to the static root.
	CSSPath  string
	LogoPath string

	ClickLinkFormat string
	Hostname        string
	GroupConfig     GroupConfig

	MinutesInADay   int
	MinutesInAWeek  int
	DailyTimerName  string
	WeeklyTimerName string
}

// DefaultSettings returns the stock digest configuration.
func DefaultSettings() Settings {
	return Settings{
		DailyPreferenceName:  "notification_daily_digest",
		WeeklyPreferenceName: "notification_weekly_digest",
		DailySubject:         "Daily Notification Digest for {display_name}",
		WeeklySubject:        "Weekly Notification Digest for {display_name}",
		FromEmail:            "notifications@example.com",
		UnreadOnly:           true,
		TimeFiltered:         false,
		DontSendEmpty:        true,
		CSSPath:              "css/digest.css",
		LogoPath:             "img/logo.png",
		ClickLinkFormat:      "https://{hostname}{url_path}",
		Hostname:             "localhost",
		MinutesInADay:        MinutesInADay,
		MinutesInAWeek:       MinutesInAWeek,
		DailyTimerName:       "daily-digest-timer",
		WeeklyTimerName:      "weekly-digest-timer",
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.DailyPreferenceName == "" {
		s.DailyPreferenceName = d.DailyPreferenceName
	}
	if s.WeeklyPreferenceName == "" {
		s.WeeklyPreferenceName = d.WeeklyPreferenceName
	}
	if s.MinutesInADay <= 0 {
		s.MinutesInADay = d.MinutesInADay
	}
	if s.MinutesInAWeek <= 0 {
		s.MinutesInAWeek = d.MinutesInAWeek
	}
	if s.DailyTimerName == "" {
		s.DailyTimerName = d.DailyTimerName
	}
	if s.WeeklyTimerName == "" {
		s.WeeklyTimerName = d.WeeklyTimerName
	}
	return s
}

// Window returns the default look-back of a daily or weekly digest.
func Window(daily bool) time.Duration {
	if daily {
		return 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}
