package ratelimit

import "time"

// Key builders for the counters the offer pipeline depends on. Windows are
// UTC calendar-aligned so a counter never straddles two business days.

// DailySpendKey is the platform-wide spend counter for the given day.
func DailySpendKey(t time.Time) string {
	return "spend:daily:" + t.UTC().Format("2006-01-02")
}

// UserDailyKey counts offer submissions by one user for the given day.
func UserDailyKey(userID string, t time.Time) string {
	return "offers:user:" + userID + ":" + t.UTC().Format("2006-01-02")
}

// IPHourlyKey counts offer submissions from one address for the given hour.
func IPHourlyKey(ip string, t time.Time) string {
	return "offers:ip:" + ip + ":" + t.UTC().Format("2006-01-02T15")
}
