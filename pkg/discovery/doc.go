// Package discovery implements mDNS/DNS-SD discovery of CAN bridges.
//
// # Service
//
// Bridges advertise the service type _oebridge._tcp in the local domain.
// The instance name is free text, usually the bridge host name.
// TXT records:
//
//	net=<network name>   required, the CAN network served
//	ver=<protocol>       required, the wire protocol version
//
// # Usage
//
// A bridge (or the simulator) registers itself with an Advertiser. The
// dashboard uses Browser.Find to pick the first bridge answering, or
// Browser.Browse to follow bridges as they come and go.
package discovery
