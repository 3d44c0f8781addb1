package ldap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func TestRetry(t *testing.T) {
	permanent := errors.New("permanent")

	tests := []struct {
		name      string
		maxTries  int
		results   []error
		wantCalls int
		wantErr   error
	}{
		{"first try succeeds", 3, []error{nil}, 1, nil},
		{"succeeds after transient failures", 3, []error{errTransient, errTransient, nil}, 3, nil},
		{"exhausts attempts", 3, []error{errTransient, errTransient, errTransient, nil}, 3, errTransient},
		{"permanent failure stops", 5, []error{permanent, nil}, 1, permanent},
		{"zero tries still runs once", 0, []error{errTransient}, 1, errTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			notified := 0
			err := retry(t.Context(), tt.maxTries, &backoff.ZeroBackOff{},
				func(err error) bool { return errors.Is(err, errTransient) },
				func(error, time.Duration) { notified++ },
				func() error {
					err := tt.results[calls]
					calls++
					return err
				})

			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantErr, err)
			if tt.wantErr == nil {
				assert.Equal(t, calls-1, notified)
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	calls := 0

	err := retry(ctx, 10, backoff.NewConstantBackOff(time.Hour),
		func(error) bool { return true },
		nil,
		func() error {
			calls++
			cancel()
			return errTransient
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNewExponentialBackOff(t *testing.T) {
	b := newExponentialBackOff(50 * time.Millisecond)
	exp, ok := b.(*backoff.ExponentialBackOff)
	if assert.True(t, ok) {
		assert.Equal(t, 50*time.Millisecond, exp.InitialInterval)
		assert.Equal(t, time.Second, exp.MaxInterval)
		assert.Equal(t, time.Duration(0), exp.MaxElapsedTime)
	}

	for range 20 {
		assert.LessOrEqual(t, b.NextBackOff(), time.Second+time.Second/2)
	}
}
