// Package metrics records registry activity.
//
// Collector is implemented by Nop, which discards everything, and by
// PrometheusCollector, which registers its metrics lazily on first use.
package metrics

// Handshake results reported to RecordHandshake.
const (
	ResultReady       = "ready"
	ResultFailed      = "failed"
	ResultNoInitValue = "no_initial_value"
)

// Collector receives registry metrics. Implementations must be safe for
// concurrent use and must not block.
type Collector interface {
	// SetActiveKeys sets the number of keys with a live or pending listener.
	SetActiveKeys(n int)

	// SetConsumers sets the total number of live consumers.
	SetConsumers(n int)

	// RecordHandshake observes one listener setup and its duration.
	RecordHandshake(result string, seconds float64)

	// RecordTeardown counts a listener teardown. deferred is true when the
	// teardown waited for an in-flight setup.
	RecordTeardown(deferred bool)

	// RecordPush counts one pushed sample and the consumers it reached.
	RecordPush(delivered int)

	// RecordOrphanEvent counts an event for a stream nobody owns.
	RecordOrphanEvent()

	// RecordEarlyEvent counts an event that arrived before the setup
	// finished. dropped is true when the early buffer was full.
	RecordEarlyEvent(dropped bool)

	// RecordCallbackPanic counts a consumer callback that panicked.
	RecordCallbackPanic()
}
