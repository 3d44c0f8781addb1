package registry

import (
	"time"

	"github.com/isometry/usercheck/internal/identity"
)

// Classification is the verdict for an identifier.
type Classification int

const (
	Registered Classification = iota
	NotRegistered
)

// String returns the string representation of the classification.
func (c Classification) String() string {
	switch c {
	case Registered:
		return "registered"
	case NotRegistered:
		return "not_registered"
	default:
		return "unknown"
	}
}

// Result is an immutable cached verdict. A refresh always produces a new Result.
type Result struct {
	user           *identity.User
	classification Classification
	expiresAt      time.Time
}

// NewResult classifies a lookup outcome: a non-nil user is Registered and
// expires after positiveTTL, otherwise NotRegistered after negativeTTL. The
// result keeps its own copy of user.
func NewResult(user *identity.User, now time.Time, policy CachePolicy) *Result {
	if user != nil {
		return &Result{
			user:           user.Clone(),
			classification: Registered,
			expiresAt:      now.Add(policy.PositiveTTL),
		}
	}
	return &Result{
		classification: NotRegistered,
		expiresAt:      now.Add(policy.NegativeTTL),
	}
}

// User returns a copy of the resolved user, or nil when not registered.
func (r *Result) User() *identity.User {
	if r.classification != Registered {
		return nil
	}
	return r.user.Clone()
}

// Classification returns the verdict.
func (r *Result) Classification() Classification {
	return r.classification
}

// ExpiresAt returns the instant after which the result is inert.
func (r *Result) ExpiresAt() time.Time {
	return r.expiresAt
}

// Expired reports whether the expiry is strictly before now.
func (r *Result) Expired(now time.Time) bool {
	return r.expiresAt.Before(now)
}
