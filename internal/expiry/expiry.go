// Package expiry holds the post time-window policy: how long a post of a
// given kind stays live and how much time it has left.
package expiry

import (
	"errors"
	"time"
)

// Post kinds. Bot posts burn out much faster than human ones.
const (
	KindHuman = "user"
	KindBot   = "bot"
)

const (
	HumanTTL = 3 * time.Hour
	BotTTL   = 15 * time.Minute
)

// ErrZeroTime is returned when a creation instant was never set. Storing or
// evaluating a zero instant would silently make a post immortal or instantly
// expired depending on the caller, so it fails fast instead.
var ErrZeroTime = errors.New("created_at is not set")

// TTL returns the time-to-live for a post kind. Unknown kinds get the human
// TTL, matching how reads treat anything that is not explicitly a bot post.
func TTL(kind string) time.Duration {
	if kind == KindBot {
		return BotTTL
	}
	return HumanTTL
}

// ExpiresAt computes the instant a post stops being live.
func ExpiresAt(kind string, createdAt time.Time) (time.Time, error) {
	if createdAt.IsZero() {
		return time.Time{}, ErrZeroTime
	}
	return createdAt.UTC().Add(TTL(kind)), nil
}

// Remaining returns the whole seconds left before expiry, floored at zero.
func Remaining(now time.Time, kind string, createdAt time.Time) (int64, error) {
	exp, err := ExpiresAt(kind, createdAt)
	if err != nil {
		return 0, err
	}
	secs := int64(exp.Sub(now.UTC()) / time.Second)
	if secs < 0 {
		return 0, nil
	}
	return secs, nil
}

// Cutoff returns the oldest creation instant a post of the given kind may
// have and still be live at now.
func Cutoff(now time.Time, kind string) time.Time {
	return now.UTC().Add(-TTL(kind))
}
