package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/isometry/usercheck/internal/identity"
)

// CachePolicy bounds how long and how many results are kept.
type CachePolicy struct {
	PositiveTTL time.Duration
	NegativeTTL time.Duration
	MaxEntries  int
}

// Validate checks the policy values.
func (p CachePolicy) Validate() error {
	if p.PositiveTTL < 0 {
		return NewConfigurationError("positiveResultTtl", "cannot be negative")
	}
	if p.NegativeTTL < 0 {
		return NewConfigurationError("negativeResultTtl", "cannot be negative")
	}
	if p.MaxEntries <= 0 {
		return NewConfigurationError("maxSize", fmt.Sprintf("must be positive, got %d", p.MaxEntries))
	}
	return nil
}

// ClassLabels are the class names handed back per classification.
type ClassLabels struct {
	Positive string
	Negative string
}

// Validate checks that both labels are set.
func (l ClassLabels) Validate() error {
	if l.Positive == "" {
		return NewConfigurationError("positiveResultClass", "cannot be blank")
	}
	if l.Negative == "" {
		return NewConfigurationError("negativeResultClass", "cannot be blank")
	}
	return nil
}

// DirectorySource is a store that can confirm whether an identifier is known.
// Alternate sources are added by implementing this interface.
type DirectorySource interface {
	// Open establishes the source. It is a no-op on an already open source
	// and fails with *ConnectionError, leaving the source closed.
	Open(ctx context.Context) error

	// Close releases the source. It is idempotent.
	Close()

	// IsOpen reports whether the source is ready for lookups.
	IsOpen() bool

	// LookupByIdentifier returns the user for id, or nil if unknown.
	// Failures are *LookupError.
	LookupByIdentifier(ctx context.Context, id identity.Identifier) (*identity.User, error)
}
