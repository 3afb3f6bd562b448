package subscription

import (
	"context"
	"slices"
	"time"

	"github.com/muzero-hyperloop/oelive/pkg/bridge"
	"github.com/muzero-hyperloop/oelive/pkg/metrics"
	"github.com/muzero-hyperloop/oelive/pkg/model"
)

// startHandshakeLocked moves e to Pending and opens its listener in the
// background.
func (r *Registry) startHandshakeLocked(e *entry) {
	r.setStateLocked(e, StatePending, "subscribe")
	e.epoch = r.epoch
	e.gen = r.gen
	r.opening++
	r.wg.Add(1)
	go r.handshake(e, r.epoch, time.Now())
}

// handshake opens the listener for e, then fetches the current value if
// the bridge had none cached.
func (r *Registry) handshake(e *entry, epoch uint64, started time.Time) {
	defer r.wg.Done()
	key := e.key

	ctx, cancel := context.WithTimeout(r.ctx, r.config.HandshakeTimeout)
	l, err := r.backend.OpenListener(ctx, key.Node, key.Entry)
	cancel()

	r.mu.Lock()
	early, hasEarly := r.takeParkedLocked(l.StreamID, err == nil)
	if err != nil || epoch != r.epoch {
		if err == nil {
			err = bridge.ErrUnreachable
		}
		r.failLocked(e, err, started)
		r.mu.Unlock()
		return
	}

	e.stream = l.StreamID
	r.streams[l.StreamID] = e
	switch {
	case hasEarly:
		e.last = &early
	case l.Latest != nil:
		latest := *l.Latest
		e.last = &latest
	}
	needValue := e.last == nil && !e.teardownPending
	r.mu.Unlock()

	var valueErr error
	if needValue {
		ctx, cancel := context.WithTimeout(r.ctx, r.config.HandshakeTimeout)
		sample, err := r.backend.RequestValue(ctx, key.Node, key.Entry)
		cancel()

		r.mu.Lock()
		// A push that arrived meanwhile is newer than the reply.
		if err == nil && e.last == nil {
			e.last = &sample
		}
		r.mu.Unlock()
		valueErr = err
	}

	r.resolve(e, epoch, started, valueErr)
}

// takeParkedLocked ends the opening phase of one handshake and returns the
// newest event parked for id, if any.
func (r *Registry) takeParkedLocked(id bridge.StreamID, opened bool) (model.Sample, bool) {
	var (
		sample model.Sample
		ok     bool
	)
	if opened {
		sample, ok = r.parked[id]
		delete(r.parked, id)
	}
	r.opening--
	if r.opening == 0 {
		clear(r.parked)
	}
	return sample, ok
}

// resolve finishes a handshake whose listener is open.
func (r *Registry) resolve(e *entry, epoch uint64, started time.Time, valueErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.epoch {
		// The link dropped after the listener was opened; the stream is gone.
		delete(r.streams, e.stream)
		e.stream = ""
		r.failLocked(e, bridge.ErrUnreachable, started)
		return
	}

	r.setStateLocked(e, StateReady, "listener open")
	result := metrics.ResultReady
	if valueErr != nil {
		result = metrics.ResultNoInitValue
		r.warnLog("no initial value", "key", e.key, "error", valueErr)
	}
	r.metrics.RecordHandshake(result, time.Since(started).Seconds())

	if e.teardownPending || len(e.consumers) == 0 {
		id := e.stream
		r.discardLocked(e, "released during setup")
		r.closeListenerLocked(e.key, id, true)
		r.updateGaugesLocked()
		return
	}

	if e.last != nil {
		r.enqueueLocked(e, *e.last, slices.Clone(e.consumers))
	}
}

// failLocked records a failed handshake. Without consumers the entry is
// dropped. A handshake that started before the last Resubscribe is
// restarted on the new link; otherwise the entry stays Failed until
// released or resubscribed.
func (r *Registry) failLocked(e *entry, err error, started time.Time) {
	r.metrics.RecordHandshake(metrics.ResultFailed, time.Since(started).Seconds())
	r.warnLog("listener setup failed", "key", e.key, "error", err)

	if e.teardownPending || len(e.consumers) == 0 {
		r.discardLocked(e, "setup failed")
		r.updateGaugesLocked()
		return
	}
	if e.gen != r.gen && !r.closed {
		r.debugLog("restarting setup after reconnect", "key", e.key)
		e.last = nil
		r.startHandshakeLocked(e)
		return
	}
	r.setStateLocked(e, StateFailed, err.Error())
}
