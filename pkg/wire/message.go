package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/muzero-hyperloop/oelive/pkg/model"
)

// MessageType routes a decoded frame. It is stored at key 1 of every message.
type MessageType uint8

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeRequest
	MessageTypeResponse
	MessageTypeEvent
	MessageTypeControl
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeResponse:
		return "response"
	case MessageTypeEvent:
		return "event"
	case MessageTypeControl:
		return "control"
	default:
		return "unknown"
	}
}

// Command identifies what a request asks the bridge to do.
type Command uint8

const (
	// CmdRequestValue forces a fresh read of an entry.
	CmdRequestValue Command = 1

	// CmdOpenListener opens a push stream for an entry.
	CmdOpenListener Command = 2

	// CmdCloseListener closes a push stream.
	CmdCloseListener Command = 3

	// CmdEntryInfo returns entry metadata.
	CmdEntryInfo Command = 4

	// CmdSetValue writes an entry.
	CmdSetValue Command = 5

	// CmdNetworkInfo lists the network's nodes.
	CmdNetworkInfo Command = 6

	// CmdNodeInfo lists a node's entries.
	CmdNodeInfo Command = 7
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdRequestValue:
		return "REQUEST_VALUE"
	case CmdOpenListener:
		return "OPEN_LISTENER"
	case CmdCloseListener:
		return "CLOSE_LISTENER"
	case CmdEntryInfo:
		return "ENTRY_INFO"
	case CmdSetValue:
		return "SET_VALUE"
	case CmdNetworkInfo:
		return "NETWORK_INFO"
	case CmdNodeInfo:
		return "NODE_INFO"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", c)
	}
}

// IsValid returns true if the command is known.
func (c Command) IsValid() bool {
	return c >= CmdRequestValue && c <= CmdNodeInfo
}

// needsNode reports whether the command addresses a node.
func (c Command) needsNode() bool {
	switch c {
	case CmdRequestValue, CmdOpenListener, CmdEntryInfo, CmdSetValue, CmdNodeInfo:
		return true
	}
	return false
}

// needsEntry reports whether the command addresses an object entry.
func (c Command) needsEntry() bool {
	switch c {
	case CmdRequestValue, CmdOpenListener, CmdEntryInfo, CmdSetValue:
		return true
	}
	return false
}

// Request validation errors.
var (
	ErrReservedMessageID = errors.New("messageId 0 is reserved")
	ErrInvalidCommand    = errors.New("invalid command")
	ErrMissingTarget     = errors.New("missing node or entry")
	ErrEmptyPayload      = errors.New("empty payload")
)

// Request is sent from the dashboard to the bridge.
type Request struct {
	Type      MessageType     `cbor:"1,keyasint"`
	MessageID uint32          `cbor:"2,keyasint"`
	Command   Command         `cbor:"3,keyasint"`
	Node      string          `cbor:"4,keyasint,omitempty"`
	Entry     string          `cbor:"5,keyasint,omitempty"`
	Payload   cbor.RawMessage `cbor:"6,keyasint,omitempty"`
}

// NewRequest builds a request, encoding payload when it is non-nil.
func NewRequest(id uint32, cmd Command, node, entry string, payload any) (*Request, error) {
	req := &Request{
		Type:      MessageTypeRequest,
		MessageID: id,
		Command:   cmd,
		Node:      node,
		Entry:     entry,
	}
	if payload != nil {
		raw, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", cmd, err)
		}
		req.Payload = raw
	}
	return req, nil
}

// Validate checks the request is well formed.
func (r *Request) Validate() error {
	if r.MessageID == 0 {
		return ErrReservedMessageID
	}
	if !r.Command.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidCommand, r.Command)
	}
	if r.Command.needsNode() && r.Node == "" {
		return fmt.Errorf("%w: %s requires a node", ErrMissingTarget, r.Command)
	}
	if r.Command.needsEntry() && r.Entry == "" {
		return fmt.Errorf("%w: %s requires an entry", ErrMissingTarget, r.Command)
	}
	return nil
}

// Response answers a request with the same MessageID.
type Response struct {
	Type      MessageType     `cbor:"1,keyasint"`
	MessageID uint32          `cbor:"2,keyasint"`
	Status    Status          `cbor:"3,keyasint"`
	Payload   cbor.RawMessage `cbor:"4,keyasint,omitempty"`
}

// NewResponse builds a successful response carrying payload.
func NewResponse(id uint32, payload any) (*Response, error) {
	resp := &Response{Type: MessageTypeResponse, MessageID: id, Status: StatusSuccess}
	if payload != nil {
		raw, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode response payload: %w", err)
		}
		resp.Payload = raw
	}
	return resp, nil
}

// NewErrorResponse builds a failed response with a human-readable message.
func NewErrorResponse(id uint32, status Status, message string) *Response {
	resp := &Response{Type: MessageTypeResponse, MessageID: id, Status: status}
	if message != "" {
		// ErrorPayload only holds a string; encoding cannot fail.
		resp.Payload, _ = Marshal(ErrorPayload{Message: message})
	}
	return resp
}

// ErrorMessage returns the message of a failed response, if any.
func (r *Response) ErrorMessage() string {
	if r.Status.IsSuccess() || len(r.Payload) == 0 {
		return ""
	}
	var p ErrorPayload
	if err := Unmarshal(r.Payload, &p); err != nil {
		return ""
	}
	return p.Message
}

// Event pushes a new sample on an open listener stream.
type Event struct {
	Type     MessageType  `cbor:"1,keyasint"`
	StreamID string       `cbor:"2,keyasint"`
	Sample   model.Sample `cbor:"3,keyasint"`
}

// NewEvent builds a push event.
func NewEvent(streamID string, sample model.Sample) *Event {
	return &Event{Type: MessageTypeEvent, StreamID: streamID, Sample: sample}
}

// ListenerPayload is the OpenListener response payload.
type ListenerPayload struct {
	StreamID string `cbor:"1,keyasint"`

	// Latest is the bridge's cached sample, absent on a cold entry.
	Latest *model.Sample `cbor:"2,keyasint,omitempty"`
}

// CloseListenerPayload is the CloseListener request payload.
type CloseListenerPayload struct {
	StreamID string `cbor:"1,keyasint"`
}

// SetValuePayload is the SetValue request payload.
type SetValuePayload struct {
	Value model.Value `cbor:"1,keyasint"`
}

// ErrorPayload accompanies a non-success response.
type ErrorPayload struct {
	Message string `cbor:"1,keyasint"`
}

// ControlMessage is a transport-level message outside request/response.
type ControlMessage struct {
	Type        MessageType        `cbor:"1,keyasint"`
	ControlType ControlMessageType `cbor:"2,keyasint"`
	Sequence    uint32             `cbor:"3,keyasint,omitempty"`
}

// ControlMessageType represents the type of control message.
type ControlMessageType uint8

const (
	// ControlPing is sent to check connection liveness.
	ControlPing ControlMessageType = 1

	// ControlPong is the response to a ping.
	ControlPong ControlMessageType = 2

	// ControlClose initiates graceful connection close.
	ControlClose ControlMessageType = 3
)

// String returns the control message type name.
func (t ControlMessageType) String() string {
	switch t {
	case ControlPing:
		return "ping"
	case ControlPong:
		return "pong"
	case ControlClose:
		return "close"
	default:
		return "unknown"
	}
}

// NewControlMessage builds a control message.
func NewControlMessage(t ControlMessageType, seq uint32) *ControlMessage {
	return &ControlMessage{Type: MessageTypeControl, ControlType: t, Sequence: seq}
}
