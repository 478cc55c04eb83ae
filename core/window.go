package core

import (
	"math"
	"time"
)

// FixedWindow decides a fixed-window check. count already includes the
// current request; resetAt is when the window clears.
func FixedWindow(count, maxRequests int, resetAt, now time.Time) Result {
	result := Result{
		Success:   count <= maxRequests,
		Limit:     maxRequests,
		Remaining: max(0, maxRequests-count),
		Reset:     ceilUnix(resetAt),
	}

	if !result.Success {
		result.RetryAfter = ceilSeconds(resetAt.Sub(now))
	}
	return result
}

// SlidingWindow decides a sliding-window check. count is the number of
// requests seen in the trailing window before the current one is recorded.
func SlidingWindow(count, maxRequests int, window time.Duration, now time.Time) Result {
	result := Result{
		Success:   count < maxRequests,
		Limit:     maxRequests,
		Remaining: max(0, maxRequests-count-1),
		Reset:     ceilUnix(now.Add(window)),
	}

	// The oldest counted request has to age out of the whole window.
	if !result.Success {
		result.RetryAfter = ceilSeconds(window)
	}
	return result
}

func ceilUnix(t time.Time) int64 {
	return int64(math.Ceil(float64(t.UnixMilli()) / 1000))
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
