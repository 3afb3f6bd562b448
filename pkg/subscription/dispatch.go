package subscription

import (
	"github.com/muzero-hyperloop/oelive/pkg/model"
)

type delivery struct {
	sample  model.Sample
	targets []*consumer
}

// enqueueLocked appends a delivery to e's queue and starts a drainer if
// none is running. Enqueue order is delivery order for the key.
func (r *Registry) enqueueLocked(e *entry, sample model.Sample, targets []*consumer) {
	if len(targets) == 0 {
		return
	}
	e.queue = append(e.queue, delivery{sample: sample, targets: targets})
	if !e.dispatching {
		e.dispatching = true
		go r.drain(e)
	}
}

func (r *Registry) drain(e *entry) {
	for {
		r.mu.Lock()
		if len(e.queue) == 0 {
			e.dispatching = false
			r.mu.Unlock()
			return
		}
		d := e.queue[0]
		e.queue[0] = delivery{}
		e.queue = e.queue[1:]
		r.mu.Unlock()

		for _, c := range d.targets {
			// Checked per call so that Release stops deliveries already queued.
			if c.released.Load() {
				continue
			}
			r.invoke(e.key, c, d.sample)
		}
	}
}

func (r *Registry) invoke(key Key, c *consumer, sample model.Sample) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.RecordCallbackPanic()
			if r.config.Logger != nil {
				r.config.Logger.Error("consumer callback panicked", "key", key, "consumer", c.id, "panic", p)
			}
		}
	}()
	c.fn(sample)
}
