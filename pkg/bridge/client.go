package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muzero-hyperloop/oelive/pkg/connection"
	"github.com/muzero-hyperloop/oelive/pkg/log"
	"github.com/muzero-hyperloop/oelive/pkg/model"
	"github.com/muzero-hyperloop/oelive/pkg/transport"
	"github.com/muzero-hyperloop/oelive/pkg/wire"
)

// DefaultRequestTimeout bounds a request when the context has no deadline.
const DefaultRequestTimeout = 5 * time.Second

// EventHandler receives samples pushed on listener streams.
type EventHandler func(id StreamID, sample model.Sample)

// ClientConfig configures a Client.
type ClientConfig struct {
	// RequestTimeout bounds each request (default 5s).
	RequestTimeout time.Duration

	// KeepAlive configures link supervision. Zero fields take defaults.
	KeepAlive transport.KeepAliveConfig

	// DisableKeepAlive turns off pinging, e.g. in tests.
	DisableKeepAlive bool

	// OnEvent receives listener events. It runs on the read loop and must
	// not block.
	OnEvent EventHandler

	// OnDisconnect is called once when the link dies for any reason other
	// than Close. It runs on the read loop and must not call Close.
	OnDisconnect func(err error)

	// Logger for operational messages (optional).
	Logger *slog.Logger

	// ProtocolLogger captures decoded messages (optional).
	ProtocolLogger log.Logger
}

type pendingRequest struct {
	ch     chan *wire.Response
	sentAt time.Time
}

// Client is the dashboard side of a bridge link.
type Client struct {
	conn    *transport.Conn
	config  ClientConfig
	timeout time.Duration

	nextMsgID atomic.Uint32

	pending   map[uint32]pendingRequest
	pendingMu sync.Mutex

	mu           sync.RWMutex
	onEvent      EventHandler
	onDisconnect func(error)

	keepAlive *transport.KeepAlive
	closing   atomic.Bool
	done      chan struct{}
	doneOnce  sync.Once
	doneErr   error
	wg        sync.WaitGroup
}

// Compile-time interface satisfaction checks.
var (
	_ Bridge   = (*Client)(nil)
	_ Metadata = (*Client)(nil)
	_ Writer   = (*Client)(nil)
)

// NewClient wraps an established connection and starts its read loop.
func NewClient(conn *transport.Conn, config ClientConfig) *Client {
	c := &Client{
		conn:         conn,
		config:       config,
		timeout:      config.RequestTimeout,
		pending:      make(map[uint32]pendingRequest),
		onEvent:      config.OnEvent,
		onDisconnect: config.OnDisconnect,
		done:         make(chan struct{}),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}

	if !config.DisableKeepAlive {
		c.keepAlive = transport.NewKeepAlive(config.KeepAlive, conn.SendPing, func() {
			c.shutdown(errors.New("keep-alive timeout"))
		})
		c.keepAlive.Start(context.Background())
	}

	c.wg.Add(1)
	go c.readLoop()
	return c
}

// DialConfig configures Dial.
type DialConfig struct {
	Transport transport.ClientConfig
	Client    ClientConfig

	// Backoff paces connection attempts.
	Backoff connection.BackoffConfig

	// MaxAttempts limits connection attempts (0 = until ctx is done).
	MaxAttempts int
}

// Dial connects to the bridge at addr, retrying with backoff.
func Dial(ctx context.Context, addr string, config DialConfig) (*Client, error) {
	if config.Transport.Logger == nil {
		config.Transport.Logger = config.Client.ProtocolLogger
	}

	var conn *transport.Conn
	err := connection.Retry(ctx, connection.NewBackoffWithConfig(config.Backoff), config.MaxAttempts,
		func(ctx context.Context) error {
			var err error
			conn, err = transport.Dial(ctx, addr, config.Transport)
			if err != nil && config.Client.Logger != nil {
				config.Client.Logger.Debug("bridge dial failed", "addr", addr, "error", err)
			}
			return err
		})
	if err != nil {
		return nil, unreachable(err)
	}
	return NewClient(conn, config.Client), nil
}

// SetEventHandler replaces the listener event handler.
func (c *Client) SetEventHandler(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = handler
}

// SetDisconnectHandler replaces the disconnect handler. See
// ClientConfig.OnDisconnect.
func (c *Client) SetDisconnectHandler(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = handler
}

// ConnID returns the underlying connection's ID.
func (c *Client) ConnID() string {
	return c.conn.ConnID()
}

// Done is closed once the link is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the link went down, or nil while it is up.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.doneErr
	default:
		return nil
	}
}

// LastRTT returns the round trip of the last keep-alive ping.
func (c *Client) LastRTT() time.Duration {
	if c.keepAlive == nil {
		return 0
	}
	return c.keepAlive.LastRTT()
}

// Close closes the link and fails all outstanding requests. The
// disconnect handler is not called.
func (c *Client) Close() error {
	c.closing.Store(true)
	err := c.conn.Close()
	c.shutdown(ErrClientClosed)
	c.wg.Wait()
	return err
}

// RequestValue asks the bridge to read an entry from the bus.
func (c *Client) RequestValue(ctx context.Context, node, entry string) (model.Sample, error) {
	resp, err := c.roundTrip(ctx, wire.CmdRequestValue, node, entry, nil)
	if err != nil {
		return model.Sample{}, err
	}
	return decode[model.Sample](resp)
}

// OpenListener starts a push stream for an entry.
func (c *Client) OpenListener(ctx context.Context, node, entry string) (Listener, error) {
	resp, err := c.roundTrip(ctx, wire.CmdOpenListener, node, entry, nil)
	if err != nil {
		return Listener{}, err
	}
	p, err := decode[wire.ListenerPayload](resp)
	if err != nil {
		return Listener{}, err
	}
	if p.StreamID == "" {
		return Listener{}, fmt.Errorf("%w: empty stream id", ErrUnexpectedReply)
	}
	return Listener{StreamID: StreamID(p.StreamID), Latest: p.Latest}, nil
}

// CloseListener stops a push stream.
func (c *Client) CloseListener(ctx context.Context, id StreamID) error {
	_, err := c.roundTrip(ctx, wire.CmdCloseListener, "", "", wire.CloseListenerPayload{StreamID: string(id)})
	return err
}

// SetValue writes an entry value to the bus.
func (c *Client) SetValue(ctx context.Context, node, entry string, v model.Value) error {
	_, err := c.roundTrip(ctx, wire.CmdSetValue, node, entry, wire.SetValuePayload{Value: v})
	return err
}

// NetworkInfo returns the network description.
func (c *Client) NetworkInfo(ctx context.Context) (model.NetworkInfo, error) {
	resp, err := c.roundTrip(ctx, wire.CmdNetworkInfo, "", "", nil)
	if err != nil {
		return model.NetworkInfo{}, err
	}
	return decode[model.NetworkInfo](resp)
}

// NodeInfo returns the description of one node.
func (c *Client) NodeInfo(ctx context.Context, node string) (model.NodeInfo, error) {
	resp, err := c.roundTrip(ctx, wire.CmdNodeInfo, node, "", nil)
	if err != nil {
		return model.NodeInfo{}, err
	}
	return decode[model.NodeInfo](resp)
}

// EntryInfo returns the description of one object entry.
func (c *Client) EntryInfo(ctx context.Context, node, entry string) (model.EntryInfo, error) {
	resp, err := c.roundTrip(ctx, wire.CmdEntryInfo, node, entry, nil)
	if err != nil {
		return model.EntryInfo{}, err
	}
	return decode[model.EntryInfo](resp)
}

func decode[T any](resp *wire.Response) (T, error) {
	v, err := wire.DecodePayload[T](resp.Payload)
	if err != nil {
		return v, fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}
	return v, nil
}

// nextMessageID returns the next non-zero message ID.
func (c *Client) nextMessageID() uint32 {
	for {
		if id := c.nextMsgID.Add(1); id != 0 {
			return id
		}
	}
}

// roundTrip sends a request and waits for its response. Unsuccessful
// statuses come back as *StatusError.
func (c *Client) roundTrip(ctx context.Context, cmd wire.Command, node, entry string, payload any) (*wire.Response, error) {
	select {
	case <-c.done:
		return nil, unreachable(ErrClientClosed)
	default:
	}

	req, err := wire.NewRequest(c.nextMessageID(), cmd, node, entry, payload)
	if err != nil {
		return nil, err
	}
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	respCh := make(chan *wire.Response, 1)
	sentAt := time.Now()

	c.pendingMu.Lock()
	c.pending[req.MessageID] = pendingRequest{ch: respCh, sentAt: sentAt}
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.MessageID)
		c.pendingMu.Unlock()
	}()

	c.logRequest(req)
	if err := c.conn.Send(data); err != nil {
		return nil, unreachable(err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, unreachable(ctx.Err())
	case <-timer.C:
		return nil, unreachable(ErrRequestTimeout)
	case <-c.done:
		return nil, unreachable(ErrClientClosed)
	case resp := <-respCh:
		if !resp.Status.IsSuccess() {
			return resp, statusError(resp)
		}
		return resp, nil
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		data, err := c.conn.Receive(0)
		if err != nil {
			if c.closing.Load() {
				err = ErrClientClosed
			}
			c.shutdown(err)
			return
		}
		if err := c.dispatch(data); err != nil {
			c.debugLog("dropping bridge message", "error", err)
		}
	}
}

func (c *Client) dispatch(data []byte) error {
	typ, err := wire.PeekMessageType(data)
	if err != nil {
		return err
	}

	switch typ {
	case wire.MessageTypeResponse:
		resp, err := wire.DecodeResponse(data)
		if err != nil {
			return err
		}
		return c.handleResponse(resp)

	case wire.MessageTypeEvent:
		ev, err := wire.DecodeEvent(data)
		if err != nil {
			return err
		}
		c.handleEvent(ev)
		return nil

	case wire.MessageTypeControl:
		msg, err := wire.DecodeControlMessage(data)
		if err != nil {
			return err
		}
		c.conn.LogControl(msg)
		switch msg.ControlType {
		case wire.ControlPing:
			return c.conn.SendPong(msg.Sequence)
		case wire.ControlPong:
			if c.keepAlive != nil {
				c.keepAlive.PongReceived(msg.Sequence)
			}
		case wire.ControlClose:
			c.shutdown(errors.New("closed by bridge"))
		}
		return nil

	default:
		return fmt.Errorf("%w: message type %s", ErrUnexpectedReply, typ)
	}
}

func (c *Client) handleResponse(resp *wire.Response) error {
	c.pendingMu.Lock()
	p, ok := c.pending[resp.MessageID]
	c.pendingMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: message id %d", ErrUnexpectedReply, resp.MessageID)
	}
	c.logResponse(resp, time.Since(p.sentAt))

	// Waiter channels are buffered for one reply and never closed.
	select {
	case p.ch <- resp:
	default:
	}
	return nil
}

func (c *Client) handleEvent(ev *wire.Event) {
	c.logEvent(ev)

	c.mu.RLock()
	handler := c.onEvent
	c.mu.RUnlock()

	if handler != nil {
		handler(StreamID(ev.StreamID), ev.Sample)
	}
}

// shutdown tears the link down once and fails all pending requests.
func (c *Client) shutdown(reason error) {
	c.doneOnce.Do(func() {
		c.doneErr = reason
		if c.keepAlive != nil {
			c.keepAlive.Stop()
		}
		_ = c.conn.Abort(reason.Error())
		close(c.done)

		// Waiters observe c.done.
		c.pendingMu.Lock()
		clear(c.pending)
		c.pendingMu.Unlock()

		if c.closing.Load() {
			return
		}

		c.mu.RLock()
		handler := c.onDisconnect
		c.mu.RUnlock()

		if c.config.Logger != nil {
			c.config.Logger.Warn("bridge link lost", "conn_id", c.conn.ConnID(), "reason", reason)
		}
		if handler != nil {
			handler(unreachable(reason))
		}
	})
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, args...)
	}
}

func (c *Client) logRequest(req *wire.Request) {
	if c.config.ProtocolLogger == nil {
		return
	}
	cmd := req.Command
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.conn.ConnID(),
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleDashboard,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Node:         req.Node,
		Entry:        req.Entry,
		Message: &log.MessageEvent{
			Type:      wire.MessageTypeRequest,
			MessageID: req.MessageID,
			Command:   &cmd,
		},
	})
}

func (c *Client) logResponse(resp *wire.Response, rtt time.Duration) {
	if c.config.ProtocolLogger == nil {
		return
	}
	status := resp.Status
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.conn.ConnID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleDashboard,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Message: &log.MessageEvent{
			Type:           wire.MessageTypeResponse,
			MessageID:      resp.MessageID,
			Status:         &status,
			ProcessingTime: &rtt,
		},
	})
}

func (c *Client) logEvent(ev *wire.Event) {
	if c.config.ProtocolLogger == nil {
		return
	}
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.conn.ConnID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleDashboard,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Message: &log.MessageEvent{
			Type:     wire.MessageTypeEvent,
			StreamID: ev.StreamID,
			Payload:  ev.Sample.Value.String(),
		},
	})
}
