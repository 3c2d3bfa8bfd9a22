package counter

import (
	"time"

	"github.com/router-for-me/ChatQuota/internal/policy"
)

// bucketLayout formats a period bucket as a calendar date.
const bucketLayout = "2006-01-02"

// Bucket identifies the reset period containing now. The day boundary
// sits at resetHour o'clock local to now, so with resetHour=4 a request
// at 03:00 still consumes from the previous day's bucket.
func Bucket(now time.Time, resetHour int) string {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	return now.Add(-time.Duration(resetHour) * time.Hour).Format(bucketLayout)
}

// SecondsUntilReset returns the TTL from now to the next period
// boundary, always at least one second.
func SecondsUntilReset(now time.Time, resetHour int) time.Duration {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	ttl := next.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// ActivationDate identifies the window activation containing now: the
// calendar date the window opened. The after-midnight portion of an
// overnight window still belongs to the previous date, so one counter
// spans the whole activation instead of resetting at the day boundary.
func ActivationDate(now time.Time, w policy.TimeWindow) string {
	if w.Wraps() && now.Hour()*60+now.Minute() < w.EndClock() {
		return now.AddDate(0, 0, -1).Format(bucketLayout)
	}
	return now.Format(bucketLayout)
}

// SecondsUntilWindowEnd returns the TTL from now to the end of an
// active time window, crossing midnight when the window wraps.
func SecondsUntilWindowEnd(now time.Time, w policy.TimeWindow) time.Duration {
	nowMin := now.Hour()*60 + now.Minute()
	endMin := w.EndClock()
	if endMin <= nowMin {
		endMin += 24 * 60
	}
	ttl := time.Duration(endMin-nowMin)*time.Minute - time.Duration(now.Second())*time.Second
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
