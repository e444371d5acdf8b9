// Package scheduler decides when each domain's cookies are refreshed and
// runs the per-site refresh loops.
//
// The interval is adaptive: instead of a fixed timer, each cycle looks at
// the earliest expiry among the domain's still-valid cookies and schedules
// the next refresh at 75% of the remaining lifetime, clamped to [6h, 24h].
// The 0.75 coefficient trades a quarter of cookie lifetime as safety margin
// against refresh failure; the clamp prevents both busy-looping on very
// short lifetimes and starvation on very long ones.
package scheduler

import (
	"time"

	"github.com/mjans/cookie-injector/cookiestore"
)

const (
	// MinInterval is the shortest gap between two refreshes of one site.
	MinInterval = 6 * time.Hour

	// MaxInterval is the longest a site may go without a refresh.
	MaxInterval = 24 * time.Hour

	// StartupSkipThreshold: when the next scheduled refresh is at least
	// this far out, the immediate refresh at startup is skipped because
	// the persisted cookies are still fresh enough.
	StartupSkipThreshold = 6 * time.Hour

	// intervalFraction of the remaining cookie lifetime is spent waiting.
	intervalFraction = 0.75
)

// SleepForNext computes how long to sleep before domain's next refresh.
//
// It returns 0 (refresh immediately) when the jar file is missing, cannot
// be loaded, or contains no cookie that is still valid.  Otherwise it
// returns clamp(lifetime*0.75, MinInterval, MaxInterval), where lifetime is
// the time until the earliest valid expiry.
func SleepForNext(domain, cookieDir string) time.Duration {
	cookies, _, err := cookiestore.Load(cookiestore.JarPath(cookieDir, domain))
	if err != nil {
		return 0
	}

	now := time.Now().Unix()
	var valid []cookiestore.Cookie
	for _, c := range cookies {
		if c.Expires > now {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return 0
	}

	lifetime := time.Duration(cookiestore.EarliestExpiry(valid)-now) * time.Second
	interval := time.Duration(float64(lifetime) * intervalFraction)
	if interval < MinInterval {
		interval = MinInterval
	}
	if interval > MaxInterval {
		interval = MaxInterval
	}
	return interval
}
