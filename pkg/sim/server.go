package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/muzero-hyperloop/oelive/pkg/bridge"
	"github.com/muzero-hyperloop/oelive/pkg/log"
	"github.com/muzero-hyperloop/oelive/pkg/model"
	"github.com/muzero-hyperloop/oelive/pkg/transport"
)

// DefaultInterval is the default random-walk tick interval.
const DefaultInterval = 500 * time.Millisecond

// Config configures a simulated bridge.
type Config struct {
	// Address to listen on. Defaults to the bridge port on all interfaces.
	Address string

	// Interval between random-walk ticks. Negative disables ticking.
	Interval time.Duration

	// Seed for the value generator.
	Seed uint64

	// Logger for operational messages (optional).
	Logger *slog.Logger

	// ProtocolLogger captures frames and decoded messages (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default simulator configuration.
func DefaultConfig() Config {
	return Config{
		Address:  fmt.Sprintf(":%d", transport.DefaultPort),
		Interval: DefaultInterval,
	}
}

// Server serves a simulated network over the bridge wire protocol.
type Server struct {
	config    Config
	network   *Network
	handler   *bridge.Handler
	transport *transport.Server

	mu    sync.Mutex
	conns map[string]*transport.ServerConn

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a simulator for the given network description.
func NewServer(network *model.NetworkConfig, config Config) (*Server, error) {
	if network == nil {
		return nil, errors.New("sim: nil network config")
	}
	if err := network.Validate(); err != nil {
		return nil, err
	}
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}

	s := &Server{
		config:  config,
		network: NewNetwork(network, config.Seed),
		conns:   make(map[string]*transport.ServerConn),
	}
	s.handler = bridge.NewHandler(s.network, s.sendEvent, bridge.HandlerConfig{
		Logger:         config.Logger,
		ProtocolLogger: config.ProtocolLogger,
	})
	s.network.OnUpdate(func(node, entry string, sample model.Sample) {
		s.handler.Publish(node, entry, sample)
	})
	s.transport = transport.NewServer(transport.ServerConfig{
		Address:      config.Address,
		Logger:       config.ProtocolLogger,
		OnConnect:    s.onConnect,
		OnDisconnect: s.onDisconnect,
		OnMessage:    s.onMessage,
		OnError: func(conn *transport.ServerConn, err error) {
			if conn != nil {
				s.debugLog("connection error", "conn_id", conn.ConnID(), "error", err)
				return
			}
			s.debugLog("server error", "error", err)
		},
	})
	return s, nil
}

// Start begins listening and ticking.
func (s *Server) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	if s.config.Interval > 0 {
		s.wg.Add(1)
		go s.tickLoop(ctx)
	}

	if s.config.Logger != nil {
		s.config.Logger.Info("simulated bridge started",
			"addr", s.transport.Addr().String(),
			"network", s.network.NetworkInfo().Name,
			"interval", s.config.Interval)
	}
	return nil
}

// Stop closes every connection and stops ticking.
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.transport.Stop()
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.transport.Addr()
}

// Network returns the simulated network.
func (s *Server) Network() *Network {
	return s.network
}

// ConnectionCount returns the number of connected dashboards.
func (s *Server) ConnectionCount() int {
	return s.transport.ConnectionCount()
}

// StreamCount returns the number of open listener streams.
func (s *Server) StreamCount() int {
	return s.handler.StreamCount()
}

func (s *Server) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.network.Tick()
		}
	}
}

func (s *Server) onConnect(conn *transport.ServerConn) {
	s.mu.Lock()
	s.conns[conn.ConnID()] = conn
	s.mu.Unlock()

	if s.config.Logger != nil {
		s.config.Logger.Info("dashboard connected", "conn_id", conn.ConnID(), "remote", conn.RemoteAddr().String())
	}
}

func (s *Server) onDisconnect(conn *transport.ServerConn) {
	s.mu.Lock()
	delete(s.conns, conn.ConnID())
	s.mu.Unlock()

	n := s.handler.DropConnection(conn.ConnID())
	if s.config.Logger != nil {
		s.config.Logger.Info("dashboard disconnected", "conn_id", conn.ConnID(), "streams_closed", n)
	}
}

func (s *Server) onMessage(conn *transport.ServerConn, msg []byte) {
	resp, err := s.handler.HandleMessage(context.Background(), conn.ConnID(), msg)
	if err != nil {
		s.debugLog("dropping malformed frame", "conn_id", conn.ConnID(), "error", err)
		return
	}
	if err := conn.Send(resp); err != nil {
		s.debugLog("send response failed", "conn_id", conn.ConnID(), "error", err)
	}
}

func (s *Server) sendEvent(connID string, data []byte) error {
	s.mu.Lock()
	conn := s.conns[connID]
	s.mu.Unlock()

	if conn == nil {
		return transport.ErrConnectionClosed
	}
	return conn.Send(data)
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
