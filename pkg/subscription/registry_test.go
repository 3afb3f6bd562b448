package subscription

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/muzero-hyperloop/oelive/pkg/bridge"
	"github.com/muzero-hyperloop/oelive/pkg/model"
)

const waitTimeout = 2 * time.Second

// fakeBridge is a scriptable bridge.Bridge.
type fakeBridge struct {
	mu       sync.Mutex
	opens    []Key
	requests []Key
	closes   []bridge.StreamID
	nextID   int

	gate       chan struct{}
	latest     *model.Sample
	value      model.Sample
	openErr    error
	requestErr error
	closeErr   error

	// Hooks run outside the lock before the call returns.
	onOpen    func(key Key, id bridge.StreamID)
	onRequest func(key Key)

	closed chan bridge.StreamID
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		value:  sample(5),
		closed: make(chan bridge.StreamID, 256),
	}
}

func (b *fakeBridge) OpenListener(ctx context.Context, node, entry string) (bridge.Listener, error) {
	key := NewKey(node, entry)

	b.mu.Lock()
	gate := b.gate
	b.opens = append(b.opens, key)
	b.nextID++
	id := bridge.StreamID(fmt.Sprintf("s%d", b.nextID))
	err, latest, hook := b.openErr, b.latest, b.onOpen
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return bridge.Listener{}, ctx.Err()
		}
	}
	if err != nil {
		return bridge.Listener{}, err
	}
	if hook != nil {
		hook(key, id)
	}
	return bridge.Listener{StreamID: id, Latest: latest}, nil
}

func (b *fakeBridge) RequestValue(_ context.Context, node, entry string) (model.Sample, error) {
	key := NewKey(node, entry)

	b.mu.Lock()
	b.requests = append(b.requests, key)
	v, err, hook := b.value, b.requestErr, b.onRequest
	b.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	return v, err
}

func (b *fakeBridge) CloseListener(_ context.Context, id bridge.StreamID) error {
	b.mu.Lock()
	b.closes = append(b.closes, id)
	err := b.closeErr
	b.mu.Unlock()
	b.closed <- id
	return err
}

func (b *fakeBridge) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.opens)
}

func (b *fakeBridge) requestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func (b *fakeBridge) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.closes)
}

func (b *fakeBridge) waitClosed(t *testing.T) bridge.StreamID {
	t.Helper()
	select {
	case id := <-b.closed:
		return id
	case <-time.After(waitTimeout):
		t.Fatal("CloseListener was not called")
		return ""
	}
}

func sample(v float64) model.Sample {
	return model.Sample{Value: model.RealValue(v)}
}

// recorder collects delivered values.
type recorder struct {
	mu  sync.Mutex
	got []float64
}

func (r *recorder) fn(s model.Sample) {
	v, _ := s.Value.Float64()
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
}

func (r *recorder) values() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.got...)
}

func (r *recorder) waitFor(t *testing.T, want ...float64) {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.values()) >= len(want) }, waitTimeout, time.Millisecond,
		"got %v, want %v", r.values(), want)
	assert.Equal(t, want, r.values())
}

func waitState(t *testing.T, r *Registry, key Key, want SetupState) {
	t.Helper()
	require.Eventually(t, func() bool { return r.State(key) == want }, waitTimeout, time.Millisecond,
		"state of %s is %s, want %s", key, r.State(key), want)
}

func newTestRegistry(t *testing.T, b bridge.Bridge, cfg Config) *Registry {
	t.Helper()
	r := NewRegistry(b, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

var keyA = NewKey("bms", "voltage")
var keyB = NewKey("inverter", "rpm")

func TestRegistryWidgetScenario(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})

	w1, w2 := &recorder{}, &recorder{}

	h1 := r.MustSubscribe(keyA, w1.fn)
	w1.waitFor(t, 5)
	waitState(t, r, keyA, StateReady)

	h2 := r.MustSubscribe(keyA, w2.fn)
	w2.waitFor(t, 5)
	assert.Equal(t, 1, b.openCount())
	assert.Equal(t, 2, r.RefCount(keyA))

	r.HandlePushEvent("s1", sample(7))
	w1.waitFor(t, 5, 7)
	w2.waitFor(t, 5, 7)

	h1.Release()
	assert.Equal(t, 1, r.RefCount(keyA))

	r.HandlePushEvent("s1", sample(9))
	w2.waitFor(t, 5, 7, 9)
	assert.Equal(t, []float64{5, 7}, w1.values())

	h2.Release()
	assert.Equal(t, bridge.StreamID("s1"), b.waitClosed(t))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, StateIdle, r.State(keyA))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, b.closeCount())
}

func TestRegistryCoalescedColdStart(t *testing.T) {
	b := newFakeBridge()
	b.gate = make(chan struct{})
	r := newTestRegistry(t, b, Config{})

	const n = 20
	recs := make([]*recorder, n)
	var wg sync.WaitGroup
	for i := range recs {
		recs[i] = &recorder{}
		wg.Add(1)
		go func(rec *recorder) {
			defer wg.Done()
			r.MustSubscribe(keyA, rec.fn)
		}(recs[i])
	}
	wg.Wait()

	assert.Equal(t, StatePending, r.State(keyA))
	assert.Equal(t, n, r.RefCount(keyA))

	close(b.gate)
	for _, rec := range recs {
		rec.waitFor(t, 5)
	}
	assert.Equal(t, 1, b.openCount())
	assert.Equal(t, 1, b.requestCount())
}

func TestRegistryListenerLatestSkipsRequest(t *testing.T) {
	b := newFakeBridge()
	latest := sample(3)
	b.latest = &latest
	r := newTestRegistry(t, b, Config{})

	rec := &recorder{}
	r.MustSubscribe(keyA, rec.fn)
	rec.waitFor(t, 3)
	assert.Equal(t, 0, b.requestCount())
}

func TestRegistryTeardownDuringSetup(t *testing.T) {
	b := newFakeBridge()
	b.gate = make(chan struct{})
	r := newTestRegistry(t, b, Config{})

	rec := &recorder{}
	h := r.MustSubscribe(keyA, rec.fn)
	h.Release()

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatePending, snap[0].State)
	assert.True(t, snap[0].TeardownPending)
	assert.Equal(t, 0, snap[0].RefCount)
	assert.Equal(t, 0, b.closeCount())

	close(b.gate)
	assert.Equal(t, bridge.StreamID("s1"), b.waitClosed(t))
	require.Eventually(t, func() bool { return r.Len() == 0 }, waitTimeout, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.values())
	assert.Equal(t, 1, b.closeCount())
	assert.Equal(t, 0, b.requestCount(), "no value is fetched for a key nobody wants")
}

func TestRegistryResubscribeCancelsDeferredTeardown(t *testing.T) {
	b := newFakeBridge()
	b.gate = make(chan struct{})
	r := newTestRegistry(t, b, Config{})

	first, second := &recorder{}, &recorder{}
	r.MustSubscribe(keyA, first.fn).Release()
	r.MustSubscribe(keyA, second.fn)

	close(b.gate)
	second.waitFor(t, 5)
	assert.Empty(t, first.values())
	assert.Equal(t, 1, b.openCount())
	assert.Equal(t, 0, b.closeCount())
	assert.Equal(t, StateReady, r.State(keyA))
}

func TestRegistryIdempotentRelease(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})

	h1 := r.MustSubscribe(keyA, func(model.Sample) {})
	h2 := r.MustSubscribe(keyA, func(model.Sample) {})
	waitState(t, r, keyA, StateReady)

	h1.Release()
	h1.Release()
	assert.True(t, h1.Released())
	assert.Equal(t, 1, r.RefCount(keyA))
	assert.Equal(t, 0, b.closeCount())

	h2.Release()
	b.waitClosed(t)
	h2.Release()
	h1.Release()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, b.closeCount())

	var nilHandle *Handle
	assert.NotPanics(t, nilHandle.Release)
}

func TestRegistryColdRestartIsFresh(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})

	rec := &recorder{}
	h := r.MustSubscribe(keyA, rec.fn)
	rec.waitFor(t, 5)
	r.HandlePushEvent("s1", sample(6))
	rec.waitFor(t, 5, 6)

	h.Release()
	b.waitClosed(t)

	b.mu.Lock()
	b.gate = make(chan struct{})
	b.mu.Unlock()

	again := &recorder{}
	r.MustSubscribe(keyA, again.fn)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, again.values(), "no value from the previous cycle may be replayed")
	assert.Equal(t, 2, b.openCount())

	close(b.gate)
	again.waitFor(t, 5)

	// The old stream id is gone.
	r.HandlePushEvent("s1", sample(1))
	r.HandlePushEvent("s2", sample(8))
	again.waitFor(t, 5, 8)
}

func TestRegistryNoCrossKeyLeakage(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})

	a, bb := &recorder{}, &recorder{}
	r.MustSubscribe(keyA, a.fn)
	a.waitFor(t, 5)
	r.MustSubscribe(keyB, bb.fn)
	bb.waitFor(t, 5)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	streamA := snap[0].StreamID
	require.Equal(t, keyA, snap[0].Key)

	r.HandlePushEvent(streamA, sample(11))
	a.waitFor(t, 5, 11)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []float64{5}, bb.values())
}

func TestRegistryPushOrderPerKey(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})

	rec := &recorder{}
	r.MustSubscribe(keyA, rec.fn)
	rec.waitFor(t, 5)

	want := []float64{5}
	for i := 1; i <= 200; i++ {
		r.HandlePushEvent("s1", sample(float64(i)))
		want = append(want, float64(i))
	}
	rec.waitFor(t, want...)
}

func TestRegistryOrphanEventDropped(t *testing.T) {
	mc := newMockCollector()
	r := newTestRegistry(t, newFakeBridge(), Config{Metrics: mc})

	assert.NotPanics(t, func() { r.HandlePushEvent("nobody", sample(1)) })
	mc.AssertCalled(t, "RecordOrphanEvent")
	assert.Equal(t, 0, r.Len())
}

func TestRegistryUnreachableLeavesFailed(t *testing.T) {
	b := newFakeBridge()
	b.openErr = fmt.Errorf("%w: unknown node", bridge.ErrUnreachable)
	r := newTestRegistry(t, b, Config{})

	rec := &recorder{}
	h := r.MustSubscribe(keyA, rec.fn)
	waitState(t, r, keyA, StateFailed)

	// A late joiner attaches without a second handshake.
	h2 := r.MustSubscribe(keyA, rec.fn)
	assert.Equal(t, 2, r.RefCount(keyA))
	assert.Equal(t, 1, b.openCount())

	h.Release()
	h2.Release()
	assert.Equal(t, 0, r.Len())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.values())
	assert.Equal(t, 0, b.closeCount())
}

func TestRegistryFailedSetupWithoutConsumersIsDiscarded(t *testing.T) {
	b := newFakeBridge()
	b.gate = make(chan struct{})
	b.openErr = bridge.ErrUnreachable
	r := newTestRegistry(t, b, Config{})

	r.MustSubscribe(keyA, func(model.Sample) {}).Release()
	close(b.gate)

	require.Eventually(t, func() bool { return r.Len() == 0 }, waitTimeout, time.Millisecond)
	assert.Equal(t, 0, b.closeCount())
}

func TestRegistryRequestValueFailureStaysReady(t *testing.T) {
	b := newFakeBridge()
	b.requestErr = bridge.ErrUnreachable
	r := newTestRegistry(t, b, Config{})

	rec := &recorder{}
	r.MustSubscribe(keyA, rec.fn)
	waitState(t, r, keyA, StateReady)
	assert.Empty(t, rec.values())

	r.HandlePushEvent("s1", sample(4))
	rec.waitFor(t, 4)
}

func TestRegistryEarlyEventBeforeStreamRecorded(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})
	b.onOpen = func(_ Key, id bridge.StreamID) {
		// The event overtakes the OpenListener reply.
		r.HandlePushEvent(id, sample(8))
	}

	rec := &recorder{}
	r.MustSubscribe(keyA, rec.fn)
	rec.waitFor(t, 8)
	assert.Equal(t, 0, b.requestCount())
}

func TestRegistryPushDuringValueRequestWins(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})
	b.onRequest = func(Key) {
		r.HandlePushEvent("s1", sample(9))
	}

	rec := &recorder{}
	r.MustSubscribe(keyA, rec.fn)
	rec.waitFor(t, 9)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []float64{9}, rec.values())
}

func TestRegistryEarlyEventBufferBounded(t *testing.T) {
	b := newFakeBridge()
	b.gate = make(chan struct{})
	mc := newMockCollector()
	r := newTestRegistry(t, b, Config{MaxEarlyEvents: 2, Metrics: mc})

	r.MustSubscribe(keyA, func(model.Sample) {})
	r.HandlePushEvent("x1", sample(1))
	r.HandlePushEvent("x2", sample(2))
	r.HandlePushEvent("x2", sample(3))
	r.HandlePushEvent("x3", sample(4))

	mc.AssertNumberOfCalls(t, "RecordEarlyEvent", 4)
	mc.AssertCalled(t, "RecordEarlyEvent", true)

	r.mu.Lock()
	assert.Len(t, r.parked, 2)
	r.mu.Unlock()

	close(b.gate)
	waitState(t, r, keyA, StateReady)

	r.mu.Lock()
	assert.Empty(t, r.parked, "parked events are dropped once no setup is opening")
	r.mu.Unlock()
}

func TestRegistryDisconnectAndResubscribe(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})

	rec := &recorder{}
	h := r.MustSubscribe(keyA, rec.fn)
	rec.waitFor(t, 5)

	r.HandleDisconnect()
	assert.Equal(t, StateFailed, r.State(keyA))
	r.HandlePushEvent("s1", sample(6))

	b.mu.Lock()
	b.value = sample(10)
	b.mu.Unlock()

	assert.Equal(t, 1, r.Resubscribe())
	rec.waitFor(t, 5, 10)
	assert.Equal(t, 2, b.openCount())

	h.Release()
	assert.Equal(t, bridge.StreamID("s2"), b.waitClosed(t))
}

func TestRegistryReleaseAfterDisconnectSkipsClose(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})

	h := r.MustSubscribe(keyA, func(model.Sample) {})
	waitState(t, r, keyA, StateReady)

	r.HandleDisconnect()
	h.Release()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, b.closeCount())
	assert.Equal(t, 0, r.Len())
}

func TestRegistryDisconnectDuringSetup(t *testing.T) {
	b := newFakeBridge()
	b.gate = make(chan struct{})
	r := newTestRegistry(t, b, Config{})

	rec := &recorder{}
	r.MustSubscribe(keyA, rec.fn)
	r.HandleDisconnect()
	close(b.gate)

	waitState(t, r, keyA, StateFailed)
	assert.Empty(t, rec.values())
}

func TestRegistryResubscribeDuringStaleSetup(t *testing.T) {
	b := newFakeBridge()
	gate := make(chan struct{})
	b.gate = gate
	r := newTestRegistry(t, b, Config{})

	rec := &recorder{}
	r.MustSubscribe(keyA, rec.fn)
	require.Eventually(t, func() bool { return b.openCount() == 1 }, waitTimeout, time.Millisecond)

	r.HandleDisconnect()
	assert.Equal(t, 1, r.Resubscribe())
	assert.Equal(t, StatePending, r.State(keyA))

	close(gate)
	rec.waitFor(t, 5)
	waitState(t, r, keyA, StateReady)
	assert.Equal(t, 2, b.openCount())
}

func TestRegistryResubscribeWhileSetupOnDeadLink(t *testing.T) {
	b := newFakeBridge()
	gate := make(chan struct{})
	b.gate = gate
	b.openErr = bridge.ErrUnreachable
	r := newTestRegistry(t, b, Config{})

	rec := &recorder{}
	r.MustSubscribe(keyA, rec.fn)
	require.Eventually(t, func() bool { return b.openCount() == 1 }, waitTimeout, time.Millisecond)

	// The link comes back while the first attempt is still failing.
	b.mu.Lock()
	b.openErr = nil
	b.mu.Unlock()
	assert.Equal(t, 0, r.Resubscribe())

	close(gate)
	rec.waitFor(t, 5)
	waitState(t, r, keyA, StateReady)
	assert.Equal(t, 2, b.openCount())
}

func TestRegistrySelfReleaseInCallback(t *testing.T) {
	b := newFakeBridge()
	b.gate = make(chan struct{})
	r := newTestRegistry(t, b, Config{})

	var self *Handle
	var calls int
	var mu sync.Mutex
	self = r.MustSubscribe(keyA, func(model.Sample) {
		mu.Lock()
		calls++
		mu.Unlock()
		self.Release()
	})
	other := &recorder{}
	r.MustSubscribe(keyA, other.fn)

	close(b.gate)
	other.waitFor(t, 5)

	r.HandlePushEvent("s1", sample(6))
	other.waitFor(t, 5, 6)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	assert.Equal(t, 1, r.RefCount(keyA))
}

func TestRegistrySubscribeFromCallback(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})

	nested := &recorder{}
	var once sync.Once
	r.MustSubscribe(keyA, func(model.Sample) {
		once.Do(func() { r.MustSubscribe(keyB, nested.fn) })
	})
	nested.waitFor(t, 5)
}

func TestRegistryPanickingCallback(t *testing.T) {
	b := newFakeBridge()
	mc := newMockCollector()
	r := newTestRegistry(t, b, Config{Metrics: mc})

	r.MustSubscribe(keyA, func(model.Sample) { panic("widget bug") })
	rec := &recorder{}
	r.MustSubscribe(keyA, rec.fn)

	rec.waitFor(t, 5)
	r.HandlePushEvent("s1", sample(6))
	rec.waitFor(t, 5, 6)
	require.Eventually(t, func() bool { return mc.panics.Load() == 2 }, waitTimeout, time.Millisecond)
}

func TestRegistryNoDeliveryAfterRelease(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})

	blocked := make(chan struct{})
	unblock := make(chan struct{})
	first := r.MustSubscribe(keyA, func(s model.Sample) {
		if v, _ := s.Value.Float64(); v == 7 {
			close(blocked)
			<-unblock
		}
	})
	defer first.Release()

	second := &recorder{}
	h := r.MustSubscribe(keyA, second.fn)
	second.waitFor(t, 5)

	// The push is dispatched to both; the first callback stalls the queue.
	r.HandlePushEvent("s1", sample(7))
	<-blocked
	h.Release()
	close(unblock)

	r.HandlePushEvent("s1", sample(8))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []float64{5}, second.values())
}

func TestRegistryInvalidKey(t *testing.T) {
	r := newTestRegistry(t, newFakeBridge(), Config{})

	for _, k := range []Key{{"", "x"}, {"bms", ""}, {" bms", "x"}, {"a/b", "c"}} {
		_, err := r.Subscribe(k, func(model.Sample) {})
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", k)
	}
	assert.Panics(t, func() { r.MustSubscribe(Key{}, func(model.Sample) {}) })

	_, err := r.Subscribe(keyA, nil)
	assert.ErrorIs(t, err, ErrNilCallback)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryClose(t *testing.T) {
	b := newFakeBridge()
	r := NewRegistry(b, Config{})

	rec := &recorder{}
	r.MustSubscribe(keyA, rec.fn)
	rec.waitFor(t, 5)

	b.mu.Lock()
	b.gate = make(chan struct{})
	b.mu.Unlock()
	r.MustSubscribe(keyB, func(model.Sample) {})

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(b.gate)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	assert.ElementsMatch(t, []bridge.StreamID{"s1", "s2"}, []bridge.StreamID{b.waitClosed(t), b.waitClosed(t)})
	assert.Equal(t, 0, r.Len())

	_, err := r.Subscribe(keyA, rec.fn)
	assert.ErrorIs(t, err, ErrRegistryClosed)
	assert.NoError(t, r.Close(ctx))
	assert.Equal(t, 0, r.Resubscribe())
}

func TestRegistryCloseListenerErrorsAreSwallowed(t *testing.T) {
	b := newFakeBridge()
	b.closeErr = fmt.Errorf("%w: s1", bridge.ErrUnknownStream)
	r := newTestRegistry(t, b, Config{})

	h := r.MustSubscribe(keyA, func(model.Sample) {})
	waitState(t, r, keyA, StateReady)
	assert.NotPanics(t, h.Release)
	b.waitClosed(t)
}

func TestRegistryConcurrentChurn(t *testing.T) {
	b := newFakeBridge()
	r := newTestRegistry(t, b, Config{})
	keys := []Key{keyA, keyB, NewKey("vcu", "state")}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var held []*Handle
			for i := 0; i < 200; i++ {
				if len(held) > 0 && rng.Intn(2) == 0 {
					j := rng.Intn(len(held))
					held[j].Release()
					held = append(held[:j], held[j+1:]...)
					continue
				}
				held = append(held, r.MustSubscribe(keys[rng.Intn(len(keys))], func(model.Sample) {}))
			}
			for _, h := range held {
				h.Release()
			}
		}(int64(g))
	}
	wg.Wait()

	require.Eventually(t, func() bool { return r.Len() == 0 }, waitTimeout, time.Millisecond)

	// Every opened listener is closed exactly once.
	require.Eventually(t, func() bool { return b.closeCount() == b.openCount() }, waitTimeout, time.Millisecond)
	b.mu.Lock()
	seen := make(map[bridge.StreamID]bool)
	for _, id := range b.closes {
		assert.False(t, seen[id], "stream %s closed twice", id)
		seen[id] = true
	}
	b.mu.Unlock()
}

func TestSetupStateString(t *testing.T) {
	assert.Equal(t, "PENDING", StatePending.String())
	assert.Equal(t, "UNKNOWN", SetupState(42).String())
}

// mockCollector records metrics calls.
type mockCollector struct {
	mock.Mock
	panics atomic.Int32
}

func newMockCollector() *mockCollector {
	m := &mockCollector{}
	for _, name := range []string{"SetActiveKeys", "SetConsumers", "RecordTeardown", "RecordPush", "RecordEarlyEvent"} {
		m.On(name, mock.Anything).Return().Maybe()
	}
	m.On("RecordHandshake", mock.Anything, mock.Anything).Return().Maybe()
	m.On("RecordOrphanEvent").Return().Maybe()
	m.On("RecordCallbackPanic").Return().Maybe()
	return m
}

func (m *mockCollector) SetActiveKeys(n int)                 { m.Called(n) }
func (m *mockCollector) SetConsumers(n int)                  { m.Called(n) }
func (m *mockCollector) RecordHandshake(r string, s float64) { m.Called(r, s) }
func (m *mockCollector) RecordTeardown(deferred bool)        { m.Called(deferred) }
func (m *mockCollector) RecordPush(delivered int)            { m.Called(delivered) }
func (m *mockCollector) RecordOrphanEvent()                  { m.Called() }
func (m *mockCollector) RecordEarlyEvent(dropped bool)       { m.Called(dropped) }

func (m *mockCollector) RecordCallbackPanic() {
	m.panics.Add(1)
	m.Called()
}
