package registry

import (
	"errors"
	"fmt"

	"github.com/isometry/usercheck/internal/identity"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrConfiguration         = errors.New("configuration error")
	ErrConnection            = errors.New("directory connection error")
	ErrLookup                = errors.New("directory lookup error")
	ErrInternalInconsistency = errors.New("internal inconsistency")
)

// ConfigurationError reports a missing or invalid setting. It is returned by
// constructors and is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	msg := "invalid configuration"
	if e.Field != "" {
		msg += fmt.Sprintf(" for %q", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates a configuration error for a named setting.
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// ConnectionError reports a transport or bind failure while opening a source.
// The source is left closed and Open may be retried later.
type ConnectionError struct {
	Op    string
	Cause error
}

func (e *ConnectionError) Error() string {
	msg := "directory connection failed"
	if e.Op != "" {
		msg = fmt.Sprintf("directory %s failed", e.Op)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a connection error for the given operation.
func NewConnectionError(op string, cause error) *ConnectionError {
	return &ConnectionError{Op: op, Cause: cause}
}

// LookupError reports a query that failed after the source's own retry.
// Results of a failed lookup are never cached.
type LookupError struct {
	ID    identity.Identifier
	Cause error
}

func (e *LookupError) Error() string {
	msg := "directory lookup failed"
	if !e.ID.IsZero() {
		msg = fmt.Sprintf("directory lookup of %s %s failed", e.ID.Kind(), e.ID)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LookupError) Is(target error) bool {
	return target == ErrLookup
}

func (e *LookupError) Unwrap() error {
	return e.Cause
}

// NewLookupError creates a lookup error for the given identifier.
func NewLookupError(id identity.Identifier, cause error) *LookupError {
	return &LookupError{ID: id, Cause: cause}
}
