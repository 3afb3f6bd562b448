package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/muzero-hyperloop/oelive/pkg/connection"
	"github.com/muzero-hyperloop/oelive/pkg/model"
)

// LinkConfig configures a Link.
type LinkConfig struct {
	// Dial configures each connection attempt. MaxAttempts applies to
	// the first connect only; reconnects are paced by Supervisor.Backoff.
	Dial DialConfig

	// Supervisor configures reconnection.
	Supervisor connection.SupervisorConfig

	// OnEvent receives listener events from whichever client is current.
	OnEvent EventHandler

	// OnDisconnect is called each time the current client is lost.
	OnDisconnect func(err error)

	// OnConnect is called after every successful (re)connect, once the
	// new client serves requests.
	OnConnect func(client *Client)

	// Logger for operational messages (optional).
	Logger *slog.Logger
}

// Link keeps a Client to one bridge address alive, replacing it after
// the connection drops. It implements Bridge, Metadata and Writer on
// top of whichever client is current; calls made while no client is
// connected fail with ErrUnreachable.
type Link struct {
	addr       string
	config     LinkConfig
	supervisor *connection.Supervisor

	mu     sync.RWMutex
	client *Client
}

// Compile-time interface satisfaction checks.
var (
	_ Bridge   = (*Link)(nil)
	_ Metadata = (*Link)(nil)
	_ Writer   = (*Link)(nil)
)

// NewLink creates a link to addr. Nothing is dialed until Connect.
func NewLink(addr string, config LinkConfig) *Link {
	l := &Link{addr: addr, config: config}

	sup := config.Supervisor
	if sup.Logger == nil {
		sup.Logger = config.Logger
	}
	onStateChange := sup.OnStateChange
	sup.OnStateChange = func(oldState, newState connection.State) {
		if onStateChange != nil {
			onStateChange(oldState, newState)
		}
		if newState == connection.StateConnected {
			l.connected()
		}
	}
	l.supervisor = connection.NewSupervisor(l.dial, sup)
	return l
}

// Connect makes the first connection. Once it succeeds, lost
// connections are restored in the background until Close.
func (l *Link) Connect(ctx context.Context) error {
	return l.supervisor.Connect(ctx)
}

// State returns the link state.
func (l *Link) State() connection.State {
	return l.supervisor.State()
}

// Addr returns the bridge address.
func (l *Link) Addr() string {
	return l.addr
}

// Client returns the current client, or nil while disconnected.
func (l *Link) Client() *Client {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.client
}

// Close stops reconnecting and closes the current client.
func (l *Link) Close() error {
	l.supervisor.Close()

	l.mu.Lock()
	client := l.client
	l.client = nil
	l.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

// RequestValue implements Bridge.
func (l *Link) RequestValue(ctx context.Context, node, entry string) (model.Sample, error) {
	c, err := l.current()
	if err != nil {
		return model.Sample{}, err
	}
	return c.RequestValue(ctx, node, entry)
}

// OpenListener implements Bridge.
func (l *Link) OpenListener(ctx context.Context, node, entry string) (Listener, error) {
	c, err := l.current()
	if err != nil {
		return Listener{}, err
	}
	return c.OpenListener(ctx, node, entry)
}

// CloseListener implements Bridge.
func (l *Link) CloseListener(ctx context.Context, id StreamID) error {
	c, err := l.current()
	if err != nil {
		return err
	}
	return c.CloseListener(ctx, id)
}

// SetValue implements Writer.
func (l *Link) SetValue(ctx context.Context, node, entry string, v model.Value) error {
	c, err := l.current()
	if err != nil {
		return err
	}
	return c.SetValue(ctx, node, entry, v)
}

// NetworkInfo implements Metadata.
func (l *Link) NetworkInfo(ctx context.Context) (model.NetworkInfo, error) {
	c, err := l.current()
	if err != nil {
		return model.NetworkInfo{}, err
	}
	return c.NetworkInfo(ctx)
}

// NodeInfo implements Metadata.
func (l *Link) NodeInfo(ctx context.Context, node string) (model.NodeInfo, error) {
	c, err := l.current()
	if err != nil {
		return model.NodeInfo{}, err
	}
	return c.NodeInfo(ctx, node)
}

// EntryInfo implements Metadata.
func (l *Link) EntryInfo(ctx context.Context, node, entry string) (model.EntryInfo, error) {
	c, err := l.current()
	if err != nil {
		return model.EntryInfo{}, err
	}
	return c.EntryInfo(ctx, node, entry)
}

func (l *Link) current() (*Client, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.client == nil {
		return nil, fmt.Errorf("%w: not connected to %s", ErrUnreachable, l.addr)
	}
	return l.client, nil
}

// dial is the supervisor's connect function.
func (l *Link) dial(ctx context.Context) error {
	cfg := l.config.Dial
	if l.supervisor != nil && l.supervisor.State() == connection.StateReconnecting {
		cfg.MaxAttempts = 1
	}

	client, err := Dial(ctx, l.addr, cfg)
	if err != nil {
		return err
	}
	client.SetEventHandler(l.config.OnEvent)
	client.SetDisconnectHandler(func(err error) { l.lost(client, err) })

	l.mu.Lock()
	old := l.client
	l.client = client
	l.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// connected runs after the supervisor reached StateConnected.
func (l *Link) connected() {
	client := l.Client()
	if client == nil {
		// Lost while the supervisor was still connecting.
		l.supervisor.NotifyConnectionLost()
		return
	}
	if client.Err() != nil {
		// The client died before the supervisor could notice.
		l.lost(client, unreachable(client.Err()))
		return
	}
	if l.config.Logger != nil {
		l.config.Logger.Info("connected to bridge", "addr", l.addr, "conn_id", client.ConnID())
	}
	if l.config.OnConnect != nil {
		l.config.OnConnect(client)
	}
}

func (l *Link) lost(client *Client, err error) {
	l.mu.Lock()
	if l.client != client {
		l.mu.Unlock()
		return
	}
	l.client = nil
	l.mu.Unlock()

	if l.config.OnDisconnect != nil {
		l.config.OnDisconnect(err)
	}
	l.supervisor.NotifyConnectionLost()
}
