package log

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/muzero-hyperloop/oelive/pkg/wire"
)

type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	m := NewMultiLogger(a, nil, b)

	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}

	m.Log(Event{ConnectionID: "c1"})
	m.Log(Event{ConnectionID: "c2"})

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Errorf("got %d and %d events, want 2 each", len(a.events), len(b.events))
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	c := &captureLogger{}
	if OrNoop(c) != Logger(c) {
		t.Error("OrNoop should return a non-nil logger unchanged")
	}
}

func TestEventRoundTrip(t *testing.T) {
	cmd := wire.CmdOpenListener
	status := wire.StatusSuccess
	rtt := 3 * time.Millisecond
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

	original := Event{
		Timestamp:    ts,
		ConnectionID: "conn-1",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		LocalRole:    RoleDashboard,
		Node:         "levitation_board1",
		Entry:        "air_gap",
		Message: &MessageEvent{
			Type:           wire.MessageTypeResponse,
			MessageID:      42,
			Command:        &cmd,
			Status:         &status,
			StreamID:       "stream-1",
			ProcessingTime: &rtt,
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v (nanoseconds must survive)", decoded.Timestamp, ts)
	}
	if decoded.Key() != "levitation_board1/air_gap" {
		t.Errorf("Key() = %q", decoded.Key())
	}
	if decoded.Message == nil || decoded.Message.StreamID != "stream-1" {
		t.Fatalf("Message = %+v", decoded.Message)
	}
	if decoded.Message.Command == nil || *decoded.Message.Command != cmd {
		t.Errorf("Command = %v, want %v", decoded.Message.Command, cmd)
	}
	if decoded.Message.ProcessingTime == nil || *decoded.Message.ProcessingTime != rtt {
		t.Errorf("ProcessingTime = %v, want %v", decoded.Message.ProcessingTime, rtt)
	}
}

func TestSlogAdapterLogsStateChange(t *testing.T) {
	var buf bytes.Buffer
	slogger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogAdapter(slogger).Log(Event{
		Timestamp: time.Now(),
		Layer:     LayerRegistry,
		Category:  CategoryState,
		Node:      "power_board24",
		Entry:     "voltage",
		StateChange: &StateChangeEvent{
			Entity:   StateEntitySubscription,
			OldState: "PENDING",
			NewState: "READY",
		},
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["layer"] != "REGISTRY" {
		t.Errorf("layer: got %v, want REGISTRY", entry["layer"])
	}
	if entry["key"] != "power_board24/voltage" {
		t.Errorf("key: got %v", entry["key"])
	}
	if entry["entity"] != "SUBSCRIPTION" || entry["new_state"] != "READY" {
		t.Errorf("state fields: got %v -> %v", entry["entity"], entry["new_state"])
	}
	if _, ok := entry["conn_id"]; ok {
		t.Error("conn_id should be omitted for registry events")
	}
}

func TestSlogAdapterLogsFrame(t *testing.T) {
	var buf bytes.Buffer
	slogger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogAdapter(slogger).Log(Event{
		ConnectionID: "conn-9",
		Direction:    DirectionOut,
		Layer:        LayerTransport,
		Frame:        &FrameEvent{Size: 64},
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["direction"] != "OUT" || entry["frame_size"] != float64(64) {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func writeLog(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.oelog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Second close and late events are harmless.
	logger.Log(Event{ConnectionID: "late"})
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	defer r.Close()
	var out []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, e)
	}
}

func TestReaderFilters(t *testing.T) {
	now := time.Now()
	events := []Event{
		{Timestamp: now, ConnectionID: "c1", Layer: LayerTransport, Category: CategoryMessage},
		{Timestamp: now, ConnectionID: "c1", Layer: LayerWire, Category: CategoryMessage, Node: "n1", Entry: "e1"},
		{Timestamp: now, Layer: LayerRegistry, Category: CategoryState, Node: "n1", Entry: "e2"},
		{Timestamp: now, Layer: LayerRegistry, Category: CategoryState, Node: "n2", Entry: "e1"},
	}
	path := writeLog(t, events)

	all, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if got := readAll(t, all); len(got) != 4 {
		t.Fatalf("got %d events, want 4", len(got))
	}

	registry := LayerRegistry
	byLayer, _ := NewFilteredReader(path, Filter{Layer: &registry})
	if got := readAll(t, byLayer); len(got) != 2 {
		t.Errorf("layer filter: got %d events, want 2", len(got))
	}

	byNode, _ := NewFilteredReader(path, Filter{Node: "n1"})
	if got := readAll(t, byNode); len(got) != 2 {
		t.Errorf("node filter: got %d events, want 2", len(got))
	}

	byKey, _ := NewFilteredReader(path, Filter{Node: "n1", Entry: "e2"})
	got := readAll(t, byKey)
	if len(got) != 1 || got[0].Key() != "n1/e2" {
		t.Errorf("key filter: got %+v", got)
	}
}

func TestReaderTruncatedLog(t *testing.T) {
	data, err := EncodeEvent(Event{ConnectionID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	truncated := append(append([]byte{}, data...), data[:len(data)/2]...)

	r := NewStreamReader(io.NopCloser(bytes.NewReader(truncated)), Filter{})
	if got := readAll(t, r); len(got) != 1 {
		t.Errorf("got %d events, want 1", len(got))
	}
}

func TestParseLayerAndCategory(t *testing.T) {
	if l, ok := ParseLayer("WIRE"); !ok || l != LayerWire {
		t.Errorf("ParseLayer(WIRE) = %v, %v", l, ok)
	}
	if _, ok := ParseLayer("SERVICE"); ok {
		t.Error("ParseLayer(SERVICE) should fail")
	}
	if c, ok := ParseCategory("STATE"); !ok || c != CategoryState {
		t.Errorf("ParseCategory(STATE) = %v, %v", c, ok)
	}
}
