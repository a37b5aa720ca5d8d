package utils

import (
	"math"
	"time"
)

// NowUTC returns current time in UTC timezone.
// Used throughout the codebase for consistent timestamp handling.
// This centralized function simplifies mocking in tests and ensures
// consistent UTC usage across all components.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// CeilMillis converts a duration to whole milliseconds, rounding up.
// Retry-After style values must never round down to zero while a wait remains.
func CeilMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(d) / float64(time.Millisecond)))
}

// CeilSeconds converts a duration to whole seconds, rounding up.
func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
