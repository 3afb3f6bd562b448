// Package transport carries CBOR messages between the dashboard and a CAN
// bridge over TCP.
//
// # Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Messages (wire)      │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// The bridge link runs on a trusted vehicle network and is not encrypted.
//
// # Roles
//
// Conn is the dashboard side: Dial, Send, Receive. Server is the bridge side:
// it accepts connections, assigns each a UUID, answers pings itself and
// hands every other frame to OnMessage.
//
// # Keep-Alive
//
// KeepAlive sends pings on an interval and reports a dead link after a
// number of missed pongs. With the defaults (5s interval, 2s timeout, 3
// misses) loss is detected within 17 seconds.
package transport
