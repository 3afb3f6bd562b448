package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of a bridge.
	ServiceType = "_oebridge._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default bridge port.
	DefaultPort = 9470

	// ProtocolVersion is the wire protocol version advertised in TXT records.
	ProtocolVersion = 1
)

// TXT record keys.
const (
	TXTKeyNetwork = "net" // CAN network name
	TXTKeyVersion = "ver" // Wire protocol version
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for Find.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInvalidVersion      = errors.New("unsupported protocol version")
	ErrEmptyInstanceName   = errors.New("empty instance name")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("bridge not found")
)

// BridgeInfo is what a bridge advertises about itself.
type BridgeInfo struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Network is the name of the CAN network the bridge serves.
	Network string

	// Port is the TCP port of the bridge (default: DefaultPort).
	Port uint16

	// Version is the wire protocol version (default: ProtocolVersion).
	Version int
}

// BridgeService is a bridge found on the network.
type BridgeService struct {
	Instance  string
	Host      string
	Port      uint16
	Addresses []string
	Network   string
	Version   int
}

// Addr returns a dialable host:port for the bridge. IPv4 addresses are
// preferred over IPv6 ones, and any address over the host name.
func (s *BridgeService) Addr() string {
	host := s.Host
	for _, a := range s.Addresses {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			host = a
			break
		}
		if host == s.Host {
			host = a
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
