package transport

import (
	"net"
	"time"
)

// MessageConn is a framed, message-oriented connection.
// Implemented by Conn.
type MessageConn interface {
	// ConnID returns the connection's UUID.
	ConnID() string

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr

	// Send writes one message.
	Send(data []byte) error

	// Receive reads one message, waiting at most timeout (0 = forever).
	Receive(timeout time.Duration) ([]byte, error)

	// SendPing sends a ping control message with the given sequence number.
	SendPing(seq uint32) error

	// Close closes the connection.
	Close() error
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ MessageConn     = (*Conn)(nil)
	_ FrameReadWriter = (*Framer)(nil)
)
