// Package expiry describes when a cached entry stops being fresh.
//
// An [Expiry] is a policy, not an instant: it is resolved against the current
// time once, when an entry is written, and the resulting instant is stored with
// the entry. Reads never extend it.
package expiry

import (
	"math"
	"time"
)

// Kind identifies the variant held by an Expiry.
type Kind uint8

const (
	KindNever Kind = iota
	KindAfter
	KindAt
)

func (k Kind) String() string {
	switch k {
	case KindNever:
		return "never"
	case KindAfter:
		return "after"
	case KindAt:
		return "at"
	default:
		return "unknown"
	}
}

// DistantFuture is the instant a Never policy resolves to. It is the largest
// instant representable as Unix nanoseconds so it survives on-disk encoding.
var DistantFuture = time.Unix(0, math.MaxInt64).UTC()

// Expiry is one of Never, After(d) or At(t). The zero value is Never.
type Expiry struct {
	kind  Kind
	after time.Duration
	at    time.Time
}

// Never is the policy for entries that do not expire.
var Never = Expiry{}

// After returns a policy expiring d after the write. A zero or negative d
// expires the entry as soon as it is written.
func After(d time.Duration) Expiry {
	return Expiry{kind: KindAfter, after: d}
}

// At returns a policy expiring at the fixed instant t.
func At(t time.Time) Expiry {
	return Expiry{kind: KindAt, at: t}
}

// Kind returns the variant of e.
func (e Expiry) Kind() Kind {
	return e.kind
}

// Duration returns the relative lifetime of an After policy and zero otherwise.
func (e Expiry) Duration() time.Duration {
	return e.after
}

// Time returns the fixed instant of an At policy and the zero time otherwise.
func (e Expiry) Time() time.Time {
	return e.at
}

// Resolve computes the concrete expiration instant for an entry written at now.
func (e Expiry) Resolve(now time.Time) time.Time {
	switch e.kind {
	case KindAfter:
		if e.after > 0 && e.after >= DistantFuture.Sub(now) {
			return DistantFuture
		}
		return now.Add(e.after)
	case KindAt:
		if e.at.After(DistantFuture) {
			return DistantFuture
		}
		return e.at
	default:
		return DistantFuture
	}
}

// IsExpiredAt reports whether an entry written at written under e is stale at now.
func (e Expiry) IsExpiredAt(written, now time.Time) bool {
	return IsExpired(e.Resolve(written), now)
}

// Equal reports whether two policies describe the same rule.
func (e Expiry) Equal(o Expiry) bool {
	return e.kind == o.kind && e.after == o.after && e.at.Equal(o.at)
}

// IsExpired reports whether now is at or past expires.
func IsExpired(expires, now time.Time) bool {
	return !now.Before(expires)
}
