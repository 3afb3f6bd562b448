// Package bridge is the request/response boundary between the dashboard
// and a CAN bridge.
//
// The dashboard side is Client: it multiplexes requests over one
// transport.Conn, correlates responses by message ID and hands listener
// events to a single EventHandler. The bridge side is Handler: it decodes
// requests, dispatches them to a Backend and tracks the listener streams
// opened by each connection so that Publish can fan samples out to them.
//
// Errors returned by Client wrap ErrUnreachable whenever the bridge could
// not satisfy the request because the node, the entry or the link itself
// is unavailable. Callers that only care about reachability can test with
// errors.Is and ignore the details.
package bridge
