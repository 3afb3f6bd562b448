package metrics

// Nop implements a no-op metrics collector.
type Nop struct{}

// Compile-time assertion that Nop implements Collector.
var _ Collector = Nop{}

// NewNop creates a new no-op metrics collector.
func NewNop() Nop {
	return Nop{}
}

// SetActiveKeys discards the active key count.
func (Nop) SetActiveKeys(int) {}

// SetConsumers discards the consumer count.
func (Nop) SetConsumers(int) {}

// RecordHandshake discards the handshake observation.
func (Nop) RecordHandshake(string, float64) {}

// RecordTeardown discards the teardown.
func (Nop) RecordTeardown(bool) {}

// RecordPush discards the push.
func (Nop) RecordPush(int) {}

// RecordOrphanEvent discards the orphan event.
func (Nop) RecordOrphanEvent() {}

// RecordEarlyEvent discards the early event.
func (Nop) RecordEarlyEvent(bool) {}

// RecordCallbackPanic discards the panic.
func (Nop) RecordCallbackPanic() {}
