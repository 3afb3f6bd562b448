// Package log captures a machine-readable trace of the bridge link and the
// subscription registry.
//
// It is separate from operational logging (slog). Components accept a Logger
// in their config and emit one Event per frame, decoded message, control
// message, state change or error. The trace can be replayed offline with
// Reader and the oe-log tool.
//
// # Basic Usage
//
//	// Development: print events through slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Field runs: append to a binary file
//	fl, _ := log.NewFileLogger("run.oelog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Layers
//
//   - Transport: raw frame bytes (FrameEvent)
//   - Wire: decoded requests, responses and push events (MessageEvent)
//   - Registry: subscription and stream state changes (StateChangeEvent)
//
// # File Format
//
// A log file is a plain concatenation of CBOR-encoded Events, conventionally
// with the .oelog extension.
package log
