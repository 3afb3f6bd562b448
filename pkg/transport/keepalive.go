package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive defaults. A dead link is noticed within
// PingInterval*MaxMissedPongs + PongTimeout (17s).
const (
	DefaultPingInterval   = 5 * time.Second
	DefaultPongTimeout    = 2 * time.Second
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// PongTimeout is how long a ping may stay unanswered before it counts
	// as missed.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of consecutive misses that kill the link.
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay is the longest time a dead link can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// KeepAlive pings the peer and calls onTimeout once after too many
// consecutive pings went unanswered.
type KeepAlive struct {
	config    KeepAliveConfig
	sendPing  func(seq uint32) error
	onTimeout func()

	sequence atomic.Uint32
	pongCh   chan uint32

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	missedPongs int
	pending     uint32 // seq of the unanswered ping, 0 if none
	pingSentAt  time.Time
	lastRTT     time.Duration
}

// NewKeepAlive creates a keep-alive monitor. Zero config fields take defaults.
func NewKeepAlive(config KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	def := DefaultKeepAliveConfig()
	if config.PingInterval == 0 {
		config.PingInterval = def.PingInterval
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = def.PongTimeout
	}
	if config.MaxMissedPongs == 0 {
		config.MaxMissedPongs = def.MaxMissedPongs
	}
	return &KeepAlive{
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		pongCh:    make(chan uint32, 4),
	}
}

// Start begins pinging until ctx is done, Stop is called, or the link
// times out.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	stop := ka.stopCh
	ka.mu.Unlock()

	go ka.loop(ctx, stop)
}

// Stop stops pinging. It is safe to call more than once.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

// PongReceived feeds a pong from the peer into the monitor.
func (ka *KeepAlive) PongReceived(seq uint32) {
	select {
	case ka.pongCh <- seq:
	default:
	}
}

// IsRunning returns true while the monitor is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// MissedPongs returns the current count of consecutive misses.
func (ka *KeepAlive) MissedPongs() int {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.missedPongs
}

// LastRTT returns the round trip of the last answered ping.
func (ka *KeepAlive) LastRTT() time.Duration {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.lastRTT
}

func (ka *KeepAlive) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	ka.ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case seq := <-ka.pongCh:
			ka.pong(seq)
		case <-ticker.C:
			if ka.tick() {
				ka.Stop()
				if ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
		}
	}
}

func (ka *KeepAlive) ping() {
	seq := ka.sequence.Add(1)

	ka.mu.Lock()
	ka.pending = seq
	ka.pingSentAt = time.Now()
	ka.mu.Unlock()

	// A failed send is treated like a lost pong.
	_ = ka.sendPing(seq)
}

// tick accounts for an unanswered ping and sends the next one.
// It returns true when the link is considered dead.
func (ka *KeepAlive) tick() bool {
	ka.mu.Lock()
	if ka.pending != 0 && time.Since(ka.pingSentAt) >= ka.config.PongTimeout {
		ka.pending = 0
		ka.missedPongs++
		if ka.missedPongs >= ka.config.MaxMissedPongs {
			ka.mu.Unlock()
			return true
		}
	}
	ka.mu.Unlock()

	ka.ping()
	return false
}

func (ka *KeepAlive) pong(seq uint32) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	// Late pongs for older pings are ignored.
	if ka.pending != 0 && seq == ka.pending {
		ka.lastRTT = time.Since(ka.pingSentAt)
		ka.pending = 0
		ka.missedPongs = 0
	}
}
