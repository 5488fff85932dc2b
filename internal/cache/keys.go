package cache

import "fmt"

const SettingsKey = "settings:matching"

const BatchLockKey = "lock:match-batch"

// RateLimitKey names the counter for one API key in the fixed window that
// starts at windowStart (unix seconds).
func RateLimitKey(keyPrefix string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", keyPrefix, windowStart)
}
