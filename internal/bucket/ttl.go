package bucket

import (
	"time"

	"github.com/feverup/marketplace/internal/event"
)

// TTLPolicy is the tiered bucket expiry: the current month churns and gets a
// short TTL, recent months a normal one, deep-past months a long one.
type TTLPolicy struct {
	Current  time.Duration
	Normal   time.Duration
	LongTerm time.Duration
	Tiered   bool
}

// DefaultTTLPolicy returns the stock tiering (2h / 6h / 168h).
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Current:  2 * time.Hour,
		Normal:   6 * time.Hour,
		LongTerm: 168 * time.Hour,
		Tiered:   true,
	}
}

// For returns the TTL for a bucket of month m as of now. With tiering
// disabled every bucket gets the normal TTL.
func (p TTLPolicy) For(m event.Month, now time.Time) time.Duration {
	if !p.Tiered {
		return p.Normal
	}

	age := event.MonthOf(now).Sub(m)
	switch {
	case age <= 0:
		// Current month (or a future one, which churns just as much).
		return p.Current
	case age <= 3:
		return p.Normal
	default:
		return p.LongTerm
	}
}
