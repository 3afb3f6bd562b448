package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muzero-hyperloop/oelive/pkg/bridge"
	"github.com/muzero-hyperloop/oelive/pkg/log"
	"github.com/muzero-hyperloop/oelive/pkg/metrics"
	"github.com/muzero-hyperloop/oelive/pkg/model"
)

// Registry errors.
var (
	ErrRegistryClosed = errors.New("registry closed")
	ErrNilCallback    = errors.New("nil value callback")
)

// Default registry limits.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultTeardownTimeout  = 5 * time.Second
	DefaultMaxEarlyEvents   = 64
)

// SetupState is the setup phase of a key.
type SetupState uint8

const (
	// StateIdle means no listener exists and nobody is subscribed.
	StateIdle SetupState = iota

	// StatePending means a handshake is in flight.
	StatePending

	// StateReady means the listener is open.
	StateReady

	// StateFailed means the handshake failed or the link was lost.
	StateFailed
)

// String returns the state name.
func (s SetupState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePending:
		return "PENDING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ValueFunc receives values for a subscribed key.
type ValueFunc func(sample model.Sample)

// Config holds registry configuration.
type Config struct {
	// HandshakeTimeout bounds each bridge call made while opening a key.
	HandshakeTimeout time.Duration

	// TeardownTimeout bounds each CloseListener call.
	TeardownTimeout time.Duration

	// MaxEarlyEvents caps the number of distinct unknown streams whose
	// latest event is held while handshakes are pending.
	MaxEarlyEvents int

	// Logger for operational messages (optional).
	Logger *slog.Logger

	// ProtocolLogger captures setup state changes (optional).
	ProtocolLogger log.Logger

	// Metrics receives registry metrics (default: no-op).
	Metrics metrics.Collector
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: DefaultHandshakeTimeout,
		TeardownTimeout:  DefaultTeardownTimeout,
		MaxEarlyEvents:   DefaultMaxEarlyEvents,
	}
}

type consumer struct {
	id       uint64
	fn       ValueFunc
	released atomic.Bool
}

type entry struct {
	key             Key
	state           SetupState
	stream          bridge.StreamID
	consumers       []*consumer
	last            *model.Sample
	teardownPending bool

	// epoch and gen are the link epoch and resubscribe generation the
	// current handshake started in.
	epoch uint64
	gen   uint64

	queue       []delivery
	dispatching bool
}

// Registry multiplexes consumers over bridge listeners.
type Registry struct {
	backend bridge.Bridge
	config  Config
	metrics metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	entries   map[Key]*entry
	streams   map[bridge.StreamID]*entry
	parked    map[bridge.StreamID]model.Sample
	opening   int
	epoch     uint64
	gen       uint64
	nextID    uint64
	consumers int
	closed    bool
}

// NewRegistry creates a registry on top of backend. Listener events must
// be fed back through HandlePushEvent.
func NewRegistry(backend bridge.Bridge, config Config) *Registry {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.TeardownTimeout <= 0 {
		config.TeardownTimeout = DefaultTeardownTimeout
	}
	if config.MaxEarlyEvents <= 0 {
		config.MaxEarlyEvents = DefaultMaxEarlyEvents
	}
	mc := config.Metrics
	if mc == nil {
		mc = metrics.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		backend: backend,
		config:  config,
		metrics: mc,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[Key]*entry),
		streams: make(map[bridge.StreamID]*entry),
		parked:  make(map[bridge.StreamID]model.Sample),
	}
}

// Subscribe attaches onValue to key. The first subscriber of a cold key
// starts the bridge handshake; later subscribers share it and receive the
// cached value, if any, right away.
func (r *Registry) Subscribe(key Key, onValue ValueFunc) (*Handle, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if onValue == nil {
		return nil, ErrNilCallback
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	r.nextID++
	c := &consumer{id: r.nextID, fn: onValue}
	r.consumers++

	e, ok := r.entries[key]
	if !ok {
		e = &entry{key: key}
		r.entries[key] = e
		e.consumers = append(e.consumers, c)
		r.startHandshakeLocked(e)
	} else {
		e.consumers = append(e.consumers, c)
		if e.teardownPending {
			e.teardownPending = false
			r.debugLog("teardown cancelled by new subscriber", "key", key)
		}
		if e.state == StateReady && e.last != nil {
			r.enqueueLocked(e, *e.last, []*consumer{c})
		}
	}
	r.updateGaugesLocked()

	return &Handle{registry: r, key: key, consumer: c}, nil
}

// MustSubscribe is like Subscribe but panics if key is malformed or the
// registry is closed.
func (r *Registry) MustSubscribe(key Key, onValue ValueFunc) *Handle {
	h, err := r.Subscribe(key, onValue)
	if err != nil {
		panic(fmt.Sprintf("subscription: %v", err))
	}
	return h
}

// release detaches c from key. It is called once per handle.
func (r *Registry) release(key Key, c *consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.released.Store(true)

	e := r.entries[key]
	if e == nil {
		return
	}
	i := slices.Index(e.consumers, c)
	if i < 0 {
		return
	}
	e.consumers = slices.Delete(e.consumers, i, i+1)
	r.consumers--

	if len(e.consumers) == 0 {
		switch e.state {
		case StateReady:
			id := e.stream
			r.discardLocked(e, "released")
			r.closeListenerLocked(key, id, false)
		case StatePending:
			e.teardownPending = true
			r.debugLog("teardown deferred until setup resolves", "key", key)
		default:
			r.discardLocked(e, "released")
		}
	}
	r.updateGaugesLocked()
}

// HandlePushEvent routes a listener event to the consumers of its key.
// Events for streams nobody owns are dropped.
func (r *Registry) HandlePushEvent(id bridge.StreamID, sample model.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.streams[id]
	if e == nil {
		r.parkLocked(id, sample)
		return
	}

	e.last = &sample
	if e.state != StateReady {
		// The value reaches consumers when the setup resolves.
		return
	}
	targets := slices.Clone(e.consumers)
	r.enqueueLocked(e, sample, targets)
	r.metrics.RecordPush(len(targets))
}

// parkLocked holds an event for a stream that may belong to a handshake
// that has not recorded its stream id yet.
func (r *Registry) parkLocked(id bridge.StreamID, sample model.Sample) {
	if r.opening == 0 {
		r.metrics.RecordOrphanEvent()
		r.debugLog("dropping event for unknown stream", "stream", id)
		return
	}
	if _, ok := r.parked[id]; !ok && len(r.parked) >= r.config.MaxEarlyEvents {
		r.metrics.RecordEarlyEvent(true)
		r.debugLog("early event buffer full", "stream", id)
		return
	}
	r.parked[id] = sample
	r.metrics.RecordEarlyEvent(false)
}

// HandleDisconnect marks every open key as failed after the bridge link
// was lost. Pending handshakes fail on their own.
func (r *Registry) HandleDisconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.epoch++
	clear(r.parked)
	for _, e := range r.entries {
		if e.state != StateReady {
			continue
		}
		delete(r.streams, e.stream)
		e.stream = ""
		r.setStateLocked(e, StateFailed, "bridge disconnected")
	}
}

// Resubscribe restarts the handshake of every failed key that still has
// consumers and returns how many were restarted. Handshakes still running
// on a lost link are restarted as soon as they fail and are counted too.
func (r *Registry) Resubscribe() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}
	r.gen++
	n := 0
	for _, e := range r.entries {
		if len(e.consumers) == 0 {
			continue
		}
		switch {
		case e.state == StateFailed:
			e.last = nil
			r.startHandshakeLocked(e)
			n++
		case e.state == StatePending && e.epoch != r.epoch:
			n++
		}
	}
	return n
}

// Close releases every consumer, closes all open listeners and waits for
// in-flight handshakes and teardowns. Further Subscribe calls fail with
// ErrRegistryClosed.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, e := range r.entries {
		for _, c := range e.consumers {
			c.released.Store(true)
		}
		r.consumers -= len(e.consumers)
		e.consumers = nil
		switch e.state {
		case StateReady:
			id := e.stream
			r.discardLocked(e, "registry closed")
			r.closeListenerLocked(e.key, id, false)
		case StatePending:
			e.teardownPending = true
		default:
			r.discardLocked(e, "registry closed")
		}
	}
	r.updateGaugesLocked()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

// Len returns the number of keys with at least one consumer or a pending
// teardown.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RefCount returns the number of live consumers of key.
func (r *Registry) RefCount(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[key]; e != nil {
		return len(e.consumers)
	}
	return 0
}

// State returns the setup state of key.
func (r *Registry) State(key Key) SetupState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.entries[key]; e != nil {
		return e.state
	}
	return StateIdle
}

// discardLocked forgets e and resets it to Idle.
func (r *Registry) discardLocked(e *entry, reason string) {
	if r.entries[e.key] == e {
		delete(r.entries, e.key)
	}
	if e.stream != "" {
		delete(r.streams, e.stream)
	}
	e.stream = ""
	e.last = nil
	e.queue = nil
	e.teardownPending = false
	r.setStateLocked(e, StateIdle, reason)
}

// closeListenerLocked schedules CloseListener for id.
func (r *Registry) closeListenerLocked(key Key, id bridge.StreamID, deferred bool) {
	if id == "" {
		return
	}
	r.wg.Add(1)
	go r.closeListener(key, id, deferred)
}

func (r *Registry) closeListener(key Key, id bridge.StreamID, deferred bool) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), r.config.TeardownTimeout)
	defer cancel()

	err := r.backend.CloseListener(ctx, id)
	r.metrics.RecordTeardown(deferred)

	switch {
	case err == nil:
		r.debugLog("listener closed", "key", key, "stream", id, "deferred", deferred)
	case errors.Is(err, bridge.ErrUnknownStream):
		r.debugLog("listener already closed", "key", key, "stream", id)
	default:
		r.warnLog("close listener failed", "key", key, "stream", id, "error", err)
	}
}

func (r *Registry) updateGaugesLocked() {
	r.metrics.SetActiveKeys(len(r.entries))
	r.metrics.SetConsumers(r.consumers)
}

func (r *Registry) setStateLocked(e *entry, next SetupState, reason string) {
	old := e.state
	if old == next {
		return
	}
	e.state = next
	if r.config.ProtocolLogger == nil {
		return
	}
	r.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerRegistry,
		Category:  log.CategoryState,
		Node:      e.key.Node,
		Entry:     e.key.Entry,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: old.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

func (r *Registry) debugLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, args...)
	}
}

func (r *Registry) warnLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Warn(msg, args...)
	}
}
