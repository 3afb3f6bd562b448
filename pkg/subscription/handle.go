package subscription

import "sync"

// Handle is one consumer's attachment to a key.
type Handle struct {
	registry *Registry
	key      Key
	consumer *consumer
	once     sync.Once
}

// Key returns the subscribed key.
func (h *Handle) Key() Key {
	return h.key
}

// Release detaches the consumer. Once Release returns its callback is not
// started again. Release may be called more than once, from any goroutine
// and from inside the callback itself.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.registry.release(h.key, h.consumer)
	})
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	return h != nil && h.consumer.released.Load()
}
