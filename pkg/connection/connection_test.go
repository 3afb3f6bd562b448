package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
		Jitter:     0,
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}
	if b.Attempts() != len(want) {
		t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(want))
	}

	b.Reset()
	if b.Current() != 100*time.Millisecond || b.Attempts() != 0 {
		t.Errorf("after Reset: current=%v attempts=%d", b.Current(), b.Attempts())
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff()
	for i := 0; i < 50; i++ {
		base := b.Current()
		got := b.Next()
		if got < base || got > base+time.Duration(float64(base)*JitterFactor) {
			t.Fatalf("Next() = %v outside [%v, %v]", got, base, base+time.Duration(float64(base)*JitterFactor))
		}
	}
	if b.Current() != MaxBackoff {
		t.Errorf("Current() = %v, want cap %v", b.Current(), MaxBackoff)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Multiplier: 0.5, Jitter: -1})
	if b.Current() != InitialBackoff {
		t.Errorf("Current() = %v, want %v", b.Current(), InitialBackoff)
	}
	b.Next()
	if b.Current() != time.Duration(float64(InitialBackoff)*BackoffMultiplier) {
		t.Errorf("multiplier default not applied: %v", b.Current())
	}
}

func fastBackoff() BackoffConfig {
	return BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Jitter: 0}
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	err := Retry(context.Background(), NewBackoffWithConfig(fastBackoff()), 0, func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryGivesUp(t *testing.T) {
	boom := errors.New("refused")
	var calls int
	err := Retry(context.Background(), NewBackoffWithConfig(fastBackoff()), 2, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, NewBackoff(), 0, func(context.Context) error { return errors.New("refused") })
	assert.ErrorIs(t, err, context.Canceled)
}

type stateRecorder struct {
	mu          sync.Mutex
	transitions []State
}

func (r *stateRecorder) record(_, next State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, next)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.transitions...)
}

func TestSupervisorConnect(t *testing.T) {
	rec := &stateRecorder{}
	s := NewSupervisor(func(context.Context) error { return nil }, SupervisorConfig{
		Backoff:       fastBackoff(),
		OnStateChange: rec.record,
	})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())
	assert.ErrorIs(t, s.Connect(context.Background()), ErrAlreadyConnected)
	assert.Equal(t, []State{StateConnecting, StateConnected}, rec.snapshot())
}

func TestSupervisorConnectFails(t *testing.T) {
	boom := errors.New("refused")
	s := NewSupervisor(func(context.Context) error { return boom }, SupervisorConfig{Backoff: fastBackoff()})
	defer s.Close()

	assert.ErrorIs(t, s.Connect(context.Background()), boom)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSupervisorReconnects(t *testing.T) {
	var calls atomic.Int32
	s := NewSupervisor(func(context.Context) error {
		// First connect succeeds, the next two reconnects fail.
		n := calls.Add(1)
		if n == 2 || n == 3 {
			return errors.New("refused")
		}
		return nil
	}, SupervisorConfig{Backoff: fastBackoff()})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))

	s.NotifyConnectionLost()
	assert.Eventually(t, func() bool { return s.State() == StateConnected }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 0, s.Attempts())
}

func TestSupervisorLostWhileDisconnectedIsIgnored(t *testing.T) {
	s := NewSupervisor(func(context.Context) error { return nil }, SupervisorConfig{Backoff: fastBackoff()})
	defer s.Close()

	s.NotifyConnectionLost()
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSupervisorClose(t *testing.T) {
	s := NewSupervisor(func(context.Context) error { return errors.New("refused") }, SupervisorConfig{
		Backoff: BackoffConfig{Initial: time.Hour},
	})
	s.Close()
	s.Close()

	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Connect(context.Background()), ErrClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "RECONNECTING", StateReconnecting.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
