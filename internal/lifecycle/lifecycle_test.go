package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readyFunc func(ctx context.Context) error

func (f readyFunc) Ready(ctx context.Context) error { return f(ctx) }

func TestProbes(t *testing.T) {
	var failing atomic.Bool
	p := NewProbes(readyFunc(func(context.Context) error {
		if failing.Load() {
			return errors.New("postgres down")
		}
		return nil
	}), nil)

	ctx := context.Background()
	assert.NoError(t, p.Liveness(ctx))
	assert.NoError(t, p.Readiness(ctx))

	failing.Store(true)
	assert.EqualError(t, p.Readiness(ctx), "postgres down")

	failing.Store(false)
	require.NoError(t, p.Drain(ctx))
	assert.ErrorIs(t, p.Readiness(ctx), ErrShuttingDown)
	assert.NoError(t, p.Liveness(ctx))
}

func TestShutdownRunsAllHooks(t *testing.T) {
	s := NewShutdown(nil)

	var ran atomic.Int32
	s.Register("http", func(context.Context) error {
		ran.Add(1)
		return nil
	})
	s.Register("bot", func(context.Context) error {
		ran.Add(1)
		return errors.New("stop timeout")
	})
	s.Register("nil", nil)

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot: stop timeout")
	assert.Equal(t, int32(2), ran.Load())
}

func TestShutdownRunsPhasesInOrder(t *testing.T) {
	s := NewShutdown(nil)

	var stopped atomic.Bool
	var releasedAfterStop atomic.Bool

	s.RegisterPhase(PhaseRelease, "database", func(context.Context) error {
		releasedAfterStop.Store(stopped.Load())
		return nil
	})
	s.Register("http", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		stopped.Store(true)
		return nil
	})

	require.NoError(t, s.Execute(context.Background()))
	assert.True(t, releasedAfterStop.Load())
}

func TestShutdownContinuesAfterFailedPhase(t *testing.T) {
	s := NewShutdown(nil)

	var released atomic.Bool
	s.Register("bot", func(context.Context) error { return errors.New("stuck") })
	s.RegisterPhase(PhaseRelease, "redis", func(context.Context) error {
		released.Store(true)
		return nil
	})

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, released.Load())
}
