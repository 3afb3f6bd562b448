package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/muzero-hyperloop/oelive/pkg/log"
	"github.com/muzero-hyperloop/oelive/pkg/wire"
)

// ServerConfig configures the bridge side of the link.
type ServerConfig struct {
	// Address to listen on (e.g., ":9470" or "127.0.0.1:0").
	Address string

	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called after a connection's read loop ends.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for every non-control frame, on the
	// connection's read goroutine.
	OnMessage func(conn *ServerConn, msg []byte)

	// OnError is called for accept and read errors (conn may be nil).
	OnError func(conn *ServerConn, err error)
}

// Server accepts dashboard connections.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new server. It does not listen until Start.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and all connections and waits for their
// goroutines to finish.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(nc)
	}
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	sc := &ServerConn{
		conn:    nc,
		framer:  NewFramer(nc, s.config.MaxMessageSize),
		server:  s,
		closeCh: make(chan struct{}),
		connID:  uuid.New().String(),
	}
	if s.config.Logger != nil {
		sc.framer.SetLogger(s.config.Logger, sc.connID, log.RoleBridge)
	}
	remote := nc.RemoteAddr().String()
	logConnState(s.config.Logger, sc.connID, remote, log.RoleBridge, "", "CONNECTED", "")

	s.connsMu.Lock()
	if !s.running.Load() {
		s.connsMu.Unlock()
		nc.Close()
		return
	}
	s.conns[sc] = struct{}{}
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sc)
	}

	sc.readLoop()
	sc.Close()

	s.connsMu.Lock()
	delete(s.conns, sc)
	s.connsMu.Unlock()

	logConnState(s.config.Logger, sc.connID, remote, log.RoleBridge, "CONNECTED", "DISCONNECTED", "")

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sc)
	}
}

// ServerConn is one dashboard connection on the bridge side.
type ServerConn struct {
	conn      net.Conn
	framer    *Framer
	server    *Server
	closeCh   chan struct{}
	closeOnce sync.Once
	connID    string
}

// ConnID returns the connection's UUID.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one message to the client.
func (c *ServerConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection is closed.
func (c *ServerConn) Done() <-chan struct{} {
	return c.closeCh
}

func (c *ServerConn) readLoop() {
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			select {
			case <-c.closeCh:
			case <-c.server.ctx.Done():
			default:
				if err != io.EOF && c.server.config.OnError != nil {
					c.server.config.OnError(c, err)
				}
			}
			return
		}

		msgType, peekErr := wire.PeekMessageType(data)
		if peekErr == nil && msgType == wire.MessageTypeControl {
			if ctrl, err := wire.DecodeControlMessage(data); err == nil {
				if !c.handleControlMessage(ctrl) {
					return
				}
				continue
			}
		}

		if c.server.config.OnMessage != nil {
			c.server.config.OnMessage(c, data)
		}
	}
}

// handleControlMessage answers pings. It returns false when the peer
// closed the link.
func (c *ServerConn) handleControlMessage(msg *wire.ControlMessage) bool {
	logger := c.server.config.Logger
	remote := c.conn.RemoteAddr().String()
	logControl(logger, c.connID, remote, log.RoleBridge, msg, log.DirectionIn)

	switch msg.ControlType {
	case wire.ControlPing:
		if pong, err := EncodePong(msg.Sequence); err == nil {
			_ = c.Send(pong)
			logControl(logger, c.connID, remote, log.RoleBridge,
				wire.NewControlMessage(wire.ControlPong, msg.Sequence), log.DirectionOut)
		}
	case wire.ControlClose:
		return false
	}
	return true
}
