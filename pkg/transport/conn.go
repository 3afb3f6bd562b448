package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muzero-hyperloop/oelive/pkg/log"
	"github.com/muzero-hyperloop/oelive/pkg/wire"
)

// DefaultPort is the default bridge port.
const DefaultPort = 9470

// DefaultConnectTimeout bounds Dial when the context has no deadline.
const DefaultConnectTimeout = 10 * time.Second

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
)

// ClientConfig configures the dashboard side of a bridge link.
type ClientConfig struct {
	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// ConnectTimeout applies when the dial context has no deadline.
	ConnectTimeout time.Duration

	// Logger captures frames and connection state (optional).
	Logger log.Logger
}

// Conn is a framed connection from the dashboard to a bridge.
type Conn struct {
	conn   net.Conn
	framer *Framer
	connID string
	logger log.Logger

	closeCh   chan struct{}
	closeOnce sync.Once
	readMu    sync.Mutex
}

// Dial connects to a bridge at addr.
func Dial(ctx context.Context, addr string, config ClientConfig) (*Conn, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newConn(nc, config), nil
}

func newConn(nc net.Conn, config ClientConfig) *Conn {
	c := &Conn{
		conn:    nc,
		framer:  NewFramer(nc, config.MaxMessageSize),
		connID:  uuid.New().String(),
		logger:  config.Logger,
		closeCh: make(chan struct{}),
	}
	if c.logger != nil {
		c.framer.SetLogger(c.logger, c.connID, log.RoleDashboard)
	}
	logConnState(c.logger, c.connID, nc.RemoteAddr().String(), log.RoleDashboard, "", "CONNECTED", "")
	return c
}

// ConnID returns the connection's UUID.
func (c *Conn) ConnID() string {
	return c.connID
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closeCh
}

// Send writes one message.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Receive reads one message. A zero timeout blocks until a frame arrives
// or the connection closes.
func (c *Conn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	}

	data, err := c.framer.ReadFrame()
	if err != nil {
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
	}
	return data, err
}

// SendPing sends a ping control message.
func (c *Conn) SendPing(seq uint32) error {
	msg, err := EncodePing(seq)
	if err != nil {
		return err
	}
	logControl(c.logger, c.connID, c.conn.RemoteAddr().String(), log.RoleDashboard,
		wire.NewControlMessage(wire.ControlPing, seq), log.DirectionOut)
	return c.Send(msg)
}

// SendPong answers a ping from the bridge.
func (c *Conn) SendPong(seq uint32) error {
	msg, err := EncodePong(seq)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// LogControl records a received control message.
func (c *Conn) LogControl(msg *wire.ControlMessage) {
	logControl(c.logger, c.connID, c.conn.RemoteAddr().String(), log.RoleDashboard, msg, log.DirectionIn)
}

// Close sends a close control message (best effort) and closes the socket.
// It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if msg, encErr := EncodeClose(); encErr == nil {
			_ = c.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
			_ = c.framer.WriteFrame(msg)
		}
		close(c.closeCh)
		err = c.conn.Close()
		logConnState(c.logger, c.connID, c.conn.RemoteAddr().String(), log.RoleDashboard, "CONNECTED", "DISCONNECTED", "")
	})
	return err
}

// Abort closes the socket without the close handshake, e.g. after the
// peer closed first or keep-alive declared the link dead.
func (c *Conn) Abort(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
		logConnState(c.logger, c.connID, c.conn.RemoteAddr().String(), log.RoleDashboard, "CONNECTED", "DISCONNECTED", reason)
	})
	return err
}
