package cookiestore

import "time"

// Status is the freshness classification of a cookie jar.
type Status string

const (
	// StatusExpired means no cookie in the jar is still valid.
	StatusExpired Status = "expired"
	// StatusExpiring means the earliest valid cookie expires within
	// ExpiringThreshold.
	StatusExpiring Status = "expiring"
	// StatusOK means every deadline is comfortably in the future.
	StatusOK Status = "ok"
)

// ExpiringThreshold is how close to expiry a jar may get before it is
// reported as "expiring".
const ExpiringThreshold = 24 * time.Hour

// Classify partitions cookies by freshness and returns the jar status
// together with the not-yet-expired subset, in input order.
//
// A cookie is valid when its expiry is strictly in the future; session
// sentinels (-1) are never valid here because classification runs on
// persisted jars, which the fix-up has already normalised.
func Classify(cookies []Cookie) (Status, []Cookie) {
	now := time.Now().Unix()

	var valid []Cookie
	for _, c := range cookies {
		if c.Expires > now {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return StatusExpired, nil
	}

	if EarliestExpiry(valid)-now < int64(ExpiringThreshold/time.Second) {
		return StatusExpiring, valid
	}
	return StatusOK, valid
}

// EarliestExpiry returns the smallest expiry among cookies.  The caller
// must pass a non-empty slice.
func EarliestExpiry(cookies []Cookie) int64 {
	min := cookies[0].Expires
	for _, c := range cookies[1:] {
		if c.Expires < min {
			min = c.Expires
		}
	}
	return min
}
