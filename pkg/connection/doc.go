// Package connection keeps the dashboard's bridge link alive.
//
// # Reconnection Strategy
//
// When the link drops, reconnect attempts back off exponentially:
//
//  1. Initial delay: 500 milliseconds
//  2. Doubling: 1s, 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds, repeated until success
//  4. Reset to the initial delay after a successful connect
//
// # Jitter
//
// Each delay is stretched by up to 25% so several dashboards restarted
// together do not hit the bridge in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// A reconnect is only half the recovery: streams opened on the old link are
// gone, so the owner of the link must also tell its subscription registry.
package connection
