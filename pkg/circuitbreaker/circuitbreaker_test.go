package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errRemote = errors.New("remote unavailable")

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		Name:             "remote",
		MaxRequests:      1,
		Timeout:          time.Hour,
		FailureThreshold: 2,
	}, zaptest.NewLogger(t))

	ctx := context.Background()
	failing := func(context.Context) error { return errRemote }

	assert.ErrorIs(t, cb.Call(ctx, failing), errRemote)
	assert.ErrorIs(t, cb.Call(ctx, failing), errRemote)
	assert.ErrorIs(t, cb.Call(ctx, failing), gobreaker.ErrOpenState)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestIgnoredErrorsDoNotTrip(t *testing.T) {
	errMissing := errors.New("missing")
	cb := NewCircuitBreaker(&Config{
		Name:             "remote",
		Timeout:          time.Hour,
		FailureThreshold: 1,
		IgnoreError:      func(err error) bool { return errors.Is(err, errMissing) },
	}, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := cb.Call(ctx, func(context.Context) error { return errMissing })
		require.ErrorIs(t, err, errMissing)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCallHonoursCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestManagerReusesBreakers(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))
	a := m.GetOrCreate("firestore")
	b := m.GetOrCreate("firestore")
	assert.Same(t, a, b)
	assert.Equal(t, map[string]string{"firestore": "closed"}, m.States())
}
