package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Supervisor errors.
var (
	ErrClosed           = errors.New("supervisor closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// State represents the link state.
type State uint8

const (
	// StateDisconnected indicates no active link.
	StateDisconnected State = iota

	// StateConnecting indicates a first connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active link.
	StateConnected

	// StateReconnecting indicates the link dropped and is being restored.
	StateReconnecting

	// StateClosed indicates the supervisor has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes the link. It returns nil on success.
type ConnectFunc func(ctx context.Context) error

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Backoff paces reconnect attempts.
	Backoff BackoffConfig

	// AttemptTimeout bounds a single connect attempt (default 10s).
	AttemptTimeout time.Duration

	// Logger for reconnect progress (optional).
	Logger *slog.Logger

	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(oldState, newState State)
}

// Supervisor owns the link lifecycle: first connect, loss detection
// hand-off, and background reconnection with backoff.
type Supervisor struct {
	mu sync.Mutex

	state     State
	backoff   *Backoff
	connectFn ConnectFunc
	config    SupervisorConfig

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	reconnectCh chan struct{}
}

// NewSupervisor creates a supervisor and starts its reconnect loop.
func NewSupervisor(connectFn ConnectFunc, config SupervisorConfig) *Supervisor {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		state:       StateDisconnected,
		backoff:     NewBackoffWithConfig(config.Backoff),
		connectFn:   connectFn,
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
		reconnectCh: make(chan struct{}, 1),
	}
	s.wg.Add(1)
	go s.reconnectLoop()
	return s
}

// State returns the current link state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect makes the first connection attempt synchronously.
func (s *Supervisor) Connect(ctx context.Context) error {
	old, err := s.transition(func(st State) (State, error) {
		switch st {
		case StateConnected:
			return st, ErrAlreadyConnected
		case StateClosed:
			return st, ErrClosed
		}
		return StateConnecting, nil
	})
	if err != nil {
		return err
	}
	s.notify(old, StateConnecting)

	if err := s.connectFn(ctx); err != nil {
		s.set(StateDisconnected)
		return err
	}
	s.backoff.Reset()
	s.set(StateConnected)
	return nil
}

// NotifyConnectionLost reports that the link died. A reconnect is scheduled.
func (s *Supervisor) NotifyConnectionLost() {
	old, err := s.transition(func(st State) (State, error) {
		if st != StateConnected {
			return st, ErrClosed
		}
		return StateReconnecting, nil
	})
	if err != nil {
		return
	}
	s.notify(old, StateReconnecting)

	select {
	case s.reconnectCh <- struct{}{}:
	default:
	}
}

// Attempts returns the number of reconnect attempts since the last success.
func (s *Supervisor) Attempts() int {
	return s.backoff.Attempts()
}

// Close stops reconnecting and waits for the loop to exit.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	old := s.state
	s.state = StateClosed
	s.mu.Unlock()

	s.notify(old, StateClosed)
	s.cancel()
	s.wg.Wait()
}

// transition applies fn to the state under the lock.
func (s *Supervisor) transition(fn func(State) (State, error)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.state
	next, err := fn(old)
	if err != nil {
		return old, err
	}
	s.state = next
	return old, nil
}

// set moves to next unless the supervisor was closed meanwhile.
func (s *Supervisor) set(next State) bool {
	s.mu.Lock()
	old := s.state
	if old == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()
	s.notify(old, next)
	return true
}

func (s *Supervisor) notify(old, next State) {
	if s.config.OnStateChange != nil && old != next {
		s.config.OnStateChange(old, next)
	}
}

func (s *Supervisor) reconnectLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.reconnectCh:
			s.reconnect()
		}
	}
}

func (s *Supervisor) reconnect() {
	for {
		if st := s.State(); st != StateReconnecting {
			return
		}

		delay := s.backoff.Next()
		if s.config.Logger != nil {
			s.config.Logger.Info("reconnecting to bridge",
				"attempt", s.backoff.Attempts(), "delay", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.config.AttemptTimeout)
		err := s.connectFn(ctx)
		cancel()

		if err == nil {
			s.backoff.Reset()
			s.set(StateConnected)
			return
		}
		if s.config.Logger != nil {
			s.config.Logger.Warn("reconnect failed", "error", err)
		}
	}
}
