package transport

import (
	"time"

	"github.com/muzero-hyperloop/oelive/pkg/log"
	"github.com/muzero-hyperloop/oelive/pkg/wire"
)

// EncodePing encodes a ping control message.
func EncodePing(seq uint32) ([]byte, error) {
	return wire.EncodeControlMessage(wire.NewControlMessage(wire.ControlPing, seq))
}

// EncodePong encodes a pong control message.
func EncodePong(seq uint32) ([]byte, error) {
	return wire.EncodeControlMessage(wire.NewControlMessage(wire.ControlPong, seq))
}

// EncodeClose encodes a close control message.
func EncodeClose() ([]byte, error) {
	return wire.EncodeControlMessage(wire.NewControlMessage(wire.ControlClose, 0))
}

// logControl records a control message on logger, if set.
func logControl(logger log.Logger, connID, remote string, role log.Role, msg *wire.ControlMessage, dir log.Direction) {
	if logger == nil {
		return
	}
	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		LocalRole:    role,
		RemoteAddr:   remote,
		ControlMsg: &log.ControlMsgEvent{
			Type:     msg.ControlType,
			Sequence: msg.Sequence,
		},
	})
}

// logConnState records a connection state change on logger, if set.
func logConnState(logger log.Logger, connID, remote string, role log.Role, oldState, newState, reason string) {
	if logger == nil {
		return
	}
	logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    role,
		RemoteAddr:   remote,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
