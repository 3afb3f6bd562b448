// Package subscription multiplexes live object-entry subscriptions over a
// bridge.
//
// Any number of consumers may subscribe to the same (node, entry) key. The
// Registry keeps at most one bridge listener per key, counts references,
// caches the last value and fans pushed samples out to every attached
// consumer.
//
// # Setup
//
// The first Subscribe for a key starts a handshake in the background: the
// listener is opened first, then the current value is requested if the
// bridge did not report one. Consumers that attach while the handshake is
// pending receive the initial value together with the one that started it.
// A consumer attaching to a key that already has a value receives that
// value right away; existing consumers are not notified again.
//
// # Teardown
//
// Releasing the last Handle closes the listener exactly once. If the
// handshake is still pending, the close is deferred until it resolves. A
// later Subscribe starts a new cold period with no memory of the old one.
//
// # Delivery
//
// Callbacks never run under the registry lock and may subscribe or release
// from inside a callback. Deliveries for one key are made in order from a
// per-key queue; no order is guaranteed across keys. A released consumer
// is never called after Release returns, except for a call that had
// already started on another goroutine. A panicking callback is logged and
// does not affect the other consumers.
//
// # Failures
//
// Bridge failures never reach consumers. A failed handshake leaves the key
// in the Failed state; consumers stay attached and receive nothing until
// they release and subscribe again, or until Resubscribe retries the setup.
package subscription
