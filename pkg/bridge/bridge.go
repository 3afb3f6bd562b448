package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/muzero-hyperloop/oelive/pkg/model"
	"github.com/muzero-hyperloop/oelive/pkg/wire"
)

// Bridge errors.
var (
	ErrUnreachable     = errors.New("bridge unreachable")
	ErrUnknownStream   = errors.New("unknown listener stream")
	ErrRequestTimeout  = errors.New("request timed out")
	ErrClientClosed    = errors.New("client is closed")
	ErrUnexpectedReply = errors.New("unexpected reply")

	// Backend errors, mapped to wire statuses by Handler.
	ErrReadOnly        = errors.New("entry is read-only")
	ErrNotSubscribable = errors.New("entry does not support listeners")
	ErrWriteOnly       = errors.New("entry is write-only")
	ErrBusOff          = errors.New("bus off")
	ErrNodeTimeout     = errors.New("node did not answer")
)

// StreamID identifies a listener stream opened on the bridge.
type StreamID string

// Listener is the result of opening a listener stream.
type Listener struct {
	StreamID StreamID

	// Latest is the bridge's cached value, if it has one.
	Latest *model.Sample
}

// Bridge is the subset of bridge operations needed to keep live
// subscriptions. Listener events are delivered out of band, see
// Client.SetEventHandler.
type Bridge interface {
	// RequestValue asks the bridge to read the entry from the bus.
	RequestValue(ctx context.Context, node, entry string) (model.Sample, error)

	// OpenListener starts a push stream for the entry.
	OpenListener(ctx context.Context, node, entry string) (Listener, error)

	// CloseListener stops a push stream.
	CloseListener(ctx context.Context, id StreamID) error
}

// Metadata answers structural queries about the network.
type Metadata interface {
	NetworkInfo(ctx context.Context) (model.NetworkInfo, error)
	NodeInfo(ctx context.Context, node string) (model.NodeInfo, error)
	EntryInfo(ctx context.Context, node, entry string) (model.EntryInfo, error)
}

// Writer sets entry values on the bus.
type Writer interface {
	SetValue(ctx context.Context, node, entry string, v model.Value) error
}

// StatusError represents an error response from the bridge.
type StatusError struct {
	Status  wire.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Status, e.Message)
	}
	return e.Status.String()
}

// Unwrap maps reachability statuses onto ErrUnreachable and stream
// statuses onto ErrUnknownStream.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case wire.StatusUnknownNode, wire.StatusUnknownEntry, wire.StatusTimeout, wire.StatusBusOff:
		return ErrUnreachable
	case wire.StatusUnknownStream:
		return ErrUnknownStream
	default:
		return nil
	}
}

// statusError creates an error from an unsuccessful response.
func statusError(resp *wire.Response) error {
	return &StatusError{Status: resp.Status, Message: resp.ErrorMessage()}
}

// unreachable wraps err so that it matches ErrUnreachable.
func unreachable(err error) error {
	if errors.Is(err, ErrUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}
