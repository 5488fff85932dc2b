package models

import "time"

// Setting keys in system_settings.
const (
	SettingMatchThreshold    = "match_threshold"
	SettingMatchRateLimit    = "match_rate_limit"
	SettingMatchWindowMinute = "match_time_window_minutes"
)

// Settings is the tunable snapshot taken once at the start of each batch.
type Settings struct {
	MatchThreshold         float64 `json:"match_threshold"`
	MatchRateLimit         int     `json:"match_rate_limit"`
	MatchTimeWindowMinutes int     `json:"match_time_window_minutes"`
}

func DefaultSettings() Settings {
	return Settings{
		MatchThreshold:         0.5,
		MatchRateLimit:         2,
		MatchTimeWindowMinutes: 60,
	}
}

// RequeueDelay is how long a successfully processed job waits before its
// next run.
func (s Settings) RequeueDelay() time.Duration {
	return time.Duration(s.MatchTimeWindowMinutes) * time.Minute
}
