package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muzero-hyperloop/oelive/pkg/log"
	"github.com/muzero-hyperloop/oelive/pkg/model"
	"github.com/muzero-hyperloop/oelive/pkg/wire"
)

// Backend is the bus-facing side of a bridge.
type Backend interface {
	NetworkInfo() model.NetworkInfo
	NodeInfo(node string) (model.NodeInfo, error)
	EntryInfo(node, entry string) (model.EntryInfo, error)

	// Latest returns the last value seen on the bus, if any.
	Latest(node, entry string) (model.Sample, bool, error)

	// Read performs a bus read of the entry.
	Read(ctx context.Context, node, entry string) (model.Sample, error)

	// Write sets the entry on the bus.
	Write(ctx context.Context, node, entry string, v model.Value) error
}

// EventSender delivers an encoded event frame to one connection.
type EventSender func(connID string, data []byte) error

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Logger for operational messages (optional).
	Logger *slog.Logger

	// ProtocolLogger captures decoded messages (optional).
	ProtocolLogger log.Logger
}

type stream struct {
	connID string
	node   string
	entry  string
}

// Handler serves bridge requests from any number of connections and
// tracks their listener streams.
type Handler struct {
	backend Backend
	send    EventSender
	config  HandlerConfig

	mu      sync.Mutex
	streams map[StreamID]stream
	byEntry map[string]map[StreamID]struct{}
}

// NewHandler creates a handler serving backend. Events for open streams
// are written through send.
func NewHandler(backend Backend, send EventSender, config HandlerConfig) *Handler {
	return &Handler{
		backend: backend,
		send:    send,
		config:  config,
		streams: make(map[StreamID]stream),
		byEntry: make(map[string]map[StreamID]struct{}),
	}
}

// HandleMessage decodes a request frame from connID and returns the
// encoded response. Frames that are not requests are rejected.
func (h *Handler) HandleMessage(ctx context.Context, connID string, data []byte) ([]byte, error) {
	req, err := wire.DecodeRequest(data)
	if err != nil {
		return nil, err
	}
	h.logMessage(connID, log.DirectionIn, req.Node, req.Entry, &log.MessageEvent{
		Type:      wire.MessageTypeRequest,
		MessageID: req.MessageID,
		Command:   &req.Command,
	})

	start := time.Now()
	resp := h.HandleRequest(ctx, connID, req)

	elapsed := time.Since(start)
	h.logMessage(connID, log.DirectionOut, req.Node, req.Entry, &log.MessageEvent{
		Type:           wire.MessageTypeResponse,
		MessageID:      resp.MessageID,
		Status:         &resp.Status,
		ProcessingTime: &elapsed,
	})
	return wire.EncodeResponse(resp)
}

// HandleRequest processes one request and returns its response.
func (h *Handler) HandleRequest(ctx context.Context, connID string, req *wire.Request) *wire.Response {
	if err := req.Validate(); err != nil {
		return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidCommand, err.Error())
	}

	switch req.Command {
	case wire.CmdRequestValue:
		sample, err := h.backend.Read(ctx, req.Node, req.Entry)
		if err != nil {
			return errorResponse(req.MessageID, err)
		}
		return response(req.MessageID, sample)

	case wire.CmdOpenListener:
		return h.openListener(connID, req)

	case wire.CmdCloseListener:
		p, err := wire.DecodePayload[wire.CloseListenerPayload](req.Payload)
		if err != nil {
			return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidCommand, err.Error())
		}
		if err := h.closeListener(connID, StreamID(p.StreamID)); err != nil {
			return errorResponse(req.MessageID, err)
		}
		return response(req.MessageID, nil)

	case wire.CmdEntryInfo:
		info, err := h.backend.EntryInfo(req.Node, req.Entry)
		if err != nil {
			return errorResponse(req.MessageID, err)
		}
		return response(req.MessageID, info)

	case wire.CmdSetValue:
		p, err := wire.DecodePayload[wire.SetValuePayload](req.Payload)
		if err != nil {
			return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidValue, err.Error())
		}
		if err := h.backend.Write(ctx, req.Node, req.Entry, p.Value); err != nil {
			return errorResponse(req.MessageID, err)
		}
		return response(req.MessageID, nil)

	case wire.CmdNetworkInfo:
		return response(req.MessageID, h.backend.NetworkInfo())

	case wire.CmdNodeInfo:
		info, err := h.backend.NodeInfo(req.Node)
		if err != nil {
			return errorResponse(req.MessageID, err)
		}
		return response(req.MessageID, info)

	default:
		return wire.NewErrorResponse(req.MessageID, wire.StatusUnsupported, "unknown command")
	}
}

func (h *Handler) openListener(connID string, req *wire.Request) *wire.Response {
	info, err := h.backend.EntryInfo(req.Node, req.Entry)
	if err != nil {
		return errorResponse(req.MessageID, err)
	}
	if !info.Access.CanSubscribe() {
		return errorResponse(req.MessageID, ErrNotSubscribable)
	}

	payload := wire.ListenerPayload{StreamID: uuid.NewString()}
	id := StreamID(payload.StreamID)
	key := req.Node + "/" + req.Entry

	// Register before reading Latest so no publish falls in between.
	h.mu.Lock()
	h.streams[id] = stream{connID: connID, node: req.Node, entry: req.Entry}
	if h.byEntry[key] == nil {
		h.byEntry[key] = make(map[StreamID]struct{})
	}
	h.byEntry[key][id] = struct{}{}
	h.mu.Unlock()

	if latest, ok, err := h.backend.Latest(req.Node, req.Entry); err == nil && ok {
		payload.Latest = &latest
	}

	h.logStream(connID, req.Node, req.Entry, "", "OPEN", string(id))
	return response(req.MessageID, payload)
}

func (h *Handler) closeListener(connID string, id StreamID) error {
	h.mu.Lock()
	s, ok := h.streams[id]
	if !ok || s.connID != connID {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	h.removeLocked(id, s)
	h.mu.Unlock()

	h.logStream(connID, s.node, s.entry, "OPEN", "CLOSED", string(id))
	return nil
}

func (h *Handler) removeLocked(id StreamID, s stream) {
	delete(h.streams, id)
	key := s.node + "/" + s.entry
	if set := h.byEntry[key]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(h.byEntry, key)
		}
	}
}

// Publish pushes sample to every stream open on node/entry and returns
// the number of streams it was sent to.
func (h *Handler) Publish(node, entry string, sample model.Sample) int {
	type target struct {
		id     StreamID
		connID string
	}

	h.mu.Lock()
	set := h.byEntry[node+"/"+entry]
	targets := make([]target, 0, len(set))
	for id := range set {
		targets = append(targets, target{id: id, connID: h.streams[id].connID})
	}
	h.mu.Unlock()

	sent := 0
	for _, t := range targets {
		data, err := wire.EncodeEvent(wire.NewEvent(string(t.id), sample))
		if err != nil {
			h.debugLog("encode event failed", "stream", t.id, "error", err)
			continue
		}
		if err := h.send(t.connID, data); err != nil {
			h.debugLog("send event failed", "stream", t.id, "conn_id", t.connID, "error", err)
			continue
		}
		h.logMessage(t.connID, log.DirectionOut, node, entry, &log.MessageEvent{
			Type:     wire.MessageTypeEvent,
			StreamID: string(t.id),
			Payload:  sample.Value.String(),
		})
		sent++
	}
	return sent
}

// Listening reports whether any stream is open on node/entry.
func (h *Handler) Listening(node, entry string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byEntry[node+"/"+entry]) > 0
}

// DropConnection closes every stream owned by connID.
func (h *Handler) DropConnection(connID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for id, s := range h.streams {
		if s.connID == connID {
			h.removeLocked(id, s)
			n++
		}
	}
	return n
}

// StreamCount returns the number of open streams.
func (h *Handler) StreamCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

func response(id uint32, payload any) *wire.Response {
	resp, err := wire.NewResponse(id, payload)
	if err != nil {
		return wire.NewErrorResponse(id, wire.StatusInternal, err.Error())
	}
	return resp
}

func errorResponse(id uint32, err error) *wire.Response {
	return wire.NewErrorResponse(id, ErrorStatus(err), err.Error())
}

// ErrorStatus maps a backend error onto a wire status.
func ErrorStatus(err error) wire.Status {
	var se *StatusError
	switch {
	case err == nil:
		return wire.StatusSuccess
	case errors.As(err, &se):
		return se.Status
	case errors.Is(err, model.ErrUnknownNode):
		return wire.StatusUnknownNode
	case errors.Is(err, model.ErrUnknownEntry):
		return wire.StatusUnknownEntry
	case errors.Is(err, ErrUnknownStream):
		return wire.StatusUnknownStream
	case errors.Is(err, model.ErrKindMismatch),
		errors.Is(err, model.ErrOutOfRange),
		errors.Is(err, model.ErrUnknownVariant),
		errors.Is(err, model.ErrMissingAttribute):
		return wire.StatusInvalidValue
	case errors.Is(err, ErrReadOnly):
		return wire.StatusReadOnly
	case errors.Is(err, ErrNotSubscribable), errors.Is(err, ErrWriteOnly):
		return wire.StatusUnsupported
	case errors.Is(err, ErrBusOff):
		return wire.StatusBusOff
	case errors.Is(err, ErrNodeTimeout), errors.Is(err, context.DeadlineExceeded):
		return wire.StatusTimeout
	default:
		return wire.StatusInternal
	}
}

func (h *Handler) debugLog(msg string, args ...any) {
	if h.config.Logger != nil {
		h.config.Logger.Debug(msg, args...)
	}
}

func (h *Handler) logMessage(connID string, dir log.Direction, node, entry string, msg *log.MessageEvent) {
	if h.config.ProtocolLogger == nil {
		return
	}
	h.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleBridge,
		Node:         node,
		Entry:        entry,
		Message:      msg,
	})
}

func (h *Handler) logStream(connID, node, entry, oldState, newState, id string) {
	if h.config.ProtocolLogger == nil {
		return
	}
	h.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerWire,
		Category:     log.CategoryState,
		LocalRole:    log.RoleBridge,
		Node:         node,
		Entry:        entry,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityStream,
			OldState: oldState,
			NewState: newState,
			Reason:   id,
		},
	})
}
