// Package widget provides the dashboard's value widgets: named consumers
// of live object entries that print every value they receive.
package widget

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/muzero-hyperloop/oelive/pkg/model"
	"github.com/muzero-hyperloop/oelive/pkg/subscription"
)

// Board errors.
var (
	ErrUnknownWidget = errors.New("unknown widget")
	ErrBoardClosed   = errors.New("board closed")
)

// Subscriber is the part of the subscription registry widgets need.
type Subscriber interface {
	Subscribe(key subscription.Key, onValue subscription.ValueFunc) (*subscription.Handle, error)
	State(key subscription.Key) subscription.SetupState
}

// Config configures a Board.
type Config struct {
	// Printf writes value lines (default log.Printf).
	Printf func(format string, args ...any)

	// Quiet suppresses value lines; widgets still track their last value.
	Quiet bool
}

// Board owns the open widgets.
type Board struct {
	subs   Subscriber
	config Config

	mu      sync.Mutex
	nextID  int
	widgets map[int]*Widget
	closed  bool
}

// Widget is one open view of an object entry.
type Widget struct {
	ID     int
	Key    subscription.Key
	Opened time.Time

	handle *subscription.Handle

	mu      sync.Mutex
	last    *model.Sample
	updates int
}

// NewBoard creates an empty board on top of subs.
func NewBoard(subs Subscriber, config Config) *Board {
	if config.Printf == nil {
		config.Printf = log.Printf
	}
	return &Board{
		subs:    subs,
		config:  config,
		widgets: make(map[int]*Widget),
	}
}

// Watch opens a widget for key.
func (b *Board) Watch(key subscription.Key) (*Widget, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBoardClosed
	}
	b.nextID++
	w := &Widget{ID: b.nextID, Key: key, Opened: time.Now()}
	b.mu.Unlock()

	h, err := b.subs.Subscribe(key, func(s model.Sample) { b.update(w, s) })
	if err != nil {
		return nil, err
	}
	w.handle = h

	b.mu.Lock()
	if b.closed {
		// Close ran while subscribing.
		b.mu.Unlock()
		h.Release()
		return nil, ErrBoardClosed
	}
	b.widgets[w.ID] = w
	b.mu.Unlock()
	return w, nil
}

// Unwatch closes the widget with the given ID.
func (b *Board) Unwatch(id int) error {
	b.mu.Lock()
	w, ok := b.widgets[id]
	delete(b.widgets, id)
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownWidget, id)
	}
	w.handle.Release()
	return nil
}

// Widgets returns the open widgets ordered by ID.
func (b *Board) Widgets() []*Widget {
	b.mu.Lock()
	out := make([]*Widget, 0, len(b.widgets))
	for _, w := range b.widgets {
		out = append(out, w)
	}
	b.mu.Unlock()

	slices.SortFunc(out, func(x, y *Widget) int { return x.ID - y.ID })
	return out
}

// State returns the setup state of the widget's key.
func (b *Board) State(w *Widget) subscription.SetupState {
	return b.subs.State(w.Key)
}

// Close closes every widget. Later Watch calls fail with ErrBoardClosed.
func (b *Board) Close() {
	b.mu.Lock()
	b.closed = true
	widgets := b.widgets
	b.widgets = make(map[int]*Widget)
	b.mu.Unlock()

	for _, w := range widgets {
		w.handle.Release()
	}
}

func (b *Board) update(w *Widget, s model.Sample) {
	w.mu.Lock()
	w.last = &s
	w.updates++
	w.mu.Unlock()

	if !b.config.Quiet {
		b.config.Printf("[VALUE] #%d %s = %s", w.ID, w.Key, s.Value)
	}
}

// Last returns the most recent value of the widget.
func (w *Widget) Last() (model.Sample, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return model.Sample{}, false
	}
	return *w.last, true
}

// Updates returns how many values the widget has received.
func (w *Widget) Updates() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updates
}
