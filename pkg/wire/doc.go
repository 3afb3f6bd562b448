// Package wire defines the CBOR wire format spoken between the dashboard and
// a CAN bridge.
//
// Messages are CBOR maps with integer keys, length-prefixed by the transport
// package. Key 1 always carries the MessageType so a receiver can route a
// frame before decoding it fully.
//
// # Message Types
//
//   - Request: dashboard to bridge (read, listen, unlisten, set, metadata)
//   - Response: bridge to dashboard, correlated by message ID
//   - Event: bridge to dashboard, a new sample on an open listener stream
//   - Control: ping/pong/close, answered by the transport layer
//
// # Listener Streams
//
// OpenListener returns a bridge-assigned stream ID and, when the bridge
// already holds one, the latest sample. Every later Event for that entry
// carries the stream ID until CloseListener is sent. Streams belong to the
// connection that opened them and die with it.
package wire
