package widget

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/muzero-hyperloop/oelive/pkg/bridge"
	"github.com/muzero-hyperloop/oelive/pkg/model"
	"github.com/muzero-hyperloop/oelive/pkg/subscription"
)

const waitFor = 2 * time.Second

type mockBridge struct {
	mock.Mock
}

func (m *mockBridge) RequestValue(_ context.Context, node, entry string) (model.Sample, error) {
	args := m.Called(node, entry)
	return args.Get(0).(model.Sample), args.Error(1)
}

func (m *mockBridge) OpenListener(_ context.Context, node, entry string) (bridge.Listener, error) {
	args := m.Called(node, entry)
	return args.Get(0).(bridge.Listener), args.Error(1)
}

func (m *mockBridge) CloseListener(_ context.Context, id bridge.StreamID) error {
	return m.Called(id).Error(0)
}

type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) printf(format string, args ...any) {
	l.mu.Lock()
	l.got = append(l.got, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *lines) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

func newBoard(t *testing.T, m *mockBridge) (*Board, *subscription.Registry, *lines) {
	t.Helper()
	reg := subscription.NewRegistry(m, subscription.DefaultConfig())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = reg.Close(ctx)
	})
	var out lines
	return NewBoard(reg, Config{Printf: out.printf}), reg, &out
}

func TestWatchPrintsValues(t *testing.T) {
	m := &mockBridge{}
	latest := model.NewSample(model.UnsignedValue(24000))
	m.On("OpenListener", "power_board24", "voltage").
		Return(bridge.Listener{StreamID: "s1", Latest: &latest}, nil).Once()
	m.On("CloseListener", bridge.StreamID("s1")).Return(nil).Maybe()

	board, reg, out := newBoard(t, m)
	w, err := board.Watch(subscription.NewKey("power_board24", "voltage"))
	require.NoError(t, err)
	assert.Equal(t, 1, w.ID)

	require.Eventually(t, func() bool { return w.Updates() == 1 }, waitFor, 5*time.Millisecond)
	reg.HandlePushEvent("s1", model.NewSample(model.UnsignedValue(24050)))
	require.Eventually(t, func() bool { return w.Updates() == 2 }, waitFor, 5*time.Millisecond)

	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, uint64(24050), last.Value.Unsigned)
	assert.Equal(t, subscription.StateReady, board.State(w))
	assert.Equal(t, []string{
		"[VALUE] #1 power_board24/voltage = 24000",
		"[VALUE] #1 power_board24/voltage = 24050",
	}, out.all())
	m.AssertExpectations(t)
}

func TestTwoWidgetsShareOneListener(t *testing.T) {
	m := &mockBridge{}
	latest := model.NewSample(model.RealValue(35))
	m.On("OpenListener", "power_board24", "cpu_temperature").
		Return(bridge.Listener{StreamID: "s1", Latest: &latest}, nil).Once()
	closed := make(chan struct{})
	m.On("CloseListener", bridge.StreamID("s1")).Return(nil).Once().
		Run(func(mock.Arguments) { close(closed) })

	board, reg, _ := newBoard(t, m)
	key := subscription.NewKey("power_board24", "cpu_temperature")
	a, err := board.Watch(key)
	require.NoError(t, err)
	b, err := board.Watch(key)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.Updates() == 1 && b.Updates() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 2, reg.RefCount(key))
	assert.Len(t, board.Widgets(), 2)

	require.NoError(t, board.Unwatch(a.ID))
	assert.Equal(t, 1, reg.RefCount(key))
	m.AssertNotCalled(t, "CloseListener", bridge.StreamID("s1"))

	board.Close()
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("listener was not closed")
	}
	assert.Empty(t, board.Widgets())
	m.AssertExpectations(t)
}

func TestUnwatchUnknown(t *testing.T) {
	board, _, _ := newBoard(t, &mockBridge{})
	assert.ErrorIs(t, board.Unwatch(42), ErrUnknownWidget)
}

func TestWatchInvalidKey(t *testing.T) {
	board, _, _ := newBoard(t, &mockBridge{})
	_, err := board.Watch(subscription.NewKey("", "voltage"))
	assert.ErrorIs(t, err, subscription.ErrInvalidKey)
	assert.Empty(t, board.Widgets())
}

func TestQuietBoard(t *testing.T) {
	m := &mockBridge{}
	latest := model.NewSample(model.EnumValue("IDLE"))
	m.On("OpenListener", "levitation_board1", "state").
		Return(bridge.Listener{StreamID: "s1", Latest: &latest}, nil).Once()
	m.On("CloseListener", bridge.StreamID("s1")).Return(nil).Maybe()

	reg := subscription.NewRegistry(m, subscription.DefaultConfig())
	defer reg.Close(context.Background())

	var out lines
	board := NewBoard(reg, Config{Printf: out.printf, Quiet: true})
	w, err := board.Watch(subscription.NewKey("levitation_board1", "state"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return w.Updates() == 1 }, waitFor, 5*time.Millisecond)
	assert.Empty(t, out.all())
}

// closingSubscriber closes the board in the middle of a Subscribe call.
type closingSubscriber struct {
	*subscription.Registry
	board *Board
}

func (s *closingSubscriber) Subscribe(key subscription.Key, fn subscription.ValueFunc) (*subscription.Handle, error) {
	h, err := s.Registry.Subscribe(key, fn)
	s.board.Close()
	return h, err
}

func TestWatchDuringClose(t *testing.T) {
	m := &mockBridge{}
	m.On("OpenListener", "power_board24", "voltage").
		Return(bridge.Listener{StreamID: "s1"}, nil).Maybe()
	m.On("RequestValue", "power_board24", "voltage").
		Return(model.NewSample(model.UnsignedValue(24000)), nil).Maybe()
	m.On("CloseListener", bridge.StreamID("s1")).Return(nil).Maybe()

	_, reg, _ := newBoard(t, m)
	subs := &closingSubscriber{Registry: reg}
	board := NewBoard(subs, Config{Quiet: true})
	subs.board = board

	key := subscription.NewKey("power_board24", "voltage")
	_, err := board.Watch(key)
	assert.ErrorIs(t, err, ErrBoardClosed)
	assert.Equal(t, 0, reg.RefCount(key))
	assert.Empty(t, board.Widgets())

	_, err = board.Watch(key)
	assert.ErrorIs(t, err, ErrBoardClosed)
}
