// Command oe-dashboard shows live object entry values of a CAN network
// served by a bridge.
//
// The dashboard keeps one listener per watched object entry no matter how
// many widgets show it, reconnects when the bridge link drops, and
// restores every open widget afterwards.
//
// Usage:
//
//	oe-dashboard [flags]
//
// Flags:
//
//	-addr string          Bridge address (default "localhost:9470")
//	-discover             Find the bridge over mDNS instead of -addr
//	-network string       With -discover, only accept bridges serving this network
//	-interface string     Network interface for mDNS (default all)
//	-watch node/entry     Open a widget on start (repeatable)
//	-interactive          Enable interactive command mode
//	-metrics-addr string  Serve Prometheus metrics on this address (e.g. ":9471")
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  File path for protocol event logging (CBOR format)
//
// Examples:
//
//	# Watch two entries of a local simulator
//	oe-dashboard -watch power_board24/voltage -watch power_board24/cpu_temperature
//
//	# Find the bridge on the LAN and explore interactively
//	oe-dashboard -discover -interactive
//
// Interactive Commands:
//
//	nodes       - List nodes
//	node <n>    - List object entries of a node
//	watch <n> <e> - Open a widget
//	unwatch <id>  - Close a widget
//	widgets     - List widgets
//	get <n> <e> - Request a fresh value
//	set <n> <e> <value> - Set an object entry
//	status      - Show link and subscription status
//	quit        - Exit the dashboard
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muzero-hyperloop/oelive/cmd/oe-dashboard/interactive"
	"github.com/muzero-hyperloop/oelive/cmd/oe-dashboard/widget"
	"github.com/muzero-hyperloop/oelive/pkg/bridge"
	"github.com/muzero-hyperloop/oelive/pkg/connection"
	"github.com/muzero-hyperloop/oelive/pkg/discovery"
	oelog "github.com/muzero-hyperloop/oelive/pkg/log"
	"github.com/muzero-hyperloop/oelive/pkg/metrics"
	"github.com/muzero-hyperloop/oelive/pkg/model"
	"github.com/muzero-hyperloop/oelive/pkg/subscription"
)

// Config holds the dashboard configuration.
type Config struct {
	Address     string
	Discover    bool
	Network     string
	Interface   string
	Watch       keyList
	Interactive bool
	MetricsAddr string
	LogLevel    string
	ProtocolLog string
}

// keyList collects repeated -watch flags.
type keyList []subscription.Key

func (l *keyList) String() string {
	keys := make([]string, len(*l))
	for i, k := range *l {
		keys[i] = k.String()
	}
	return strings.Join(keys, ",")
}

func (l *keyList) Set(s string) error {
	k, err := subscription.ParseKey(s)
	if err != nil {
		return err
	}
	*l = append(*l, k)
	return nil
}

var config Config

func init() {
	flag.StringVar(&config.Address, "addr", fmt.Sprintf("localhost:%d", discovery.DefaultPort), "Bridge address")
	flag.BoolVar(&config.Discover, "discover", false, "Find the bridge over mDNS instead of -addr")
	flag.StringVar(&config.Network, "network", "", "With -discover, only accept bridges serving this network")
	flag.StringVar(&config.Interface, "interface", "", "Network interface for mDNS (default all)")
	flag.Var(&config.Watch, "watch", "Open a widget on start, as node/entry (repeatable)")
	flag.BoolVar(&config.Interactive, "interactive", false, "Enable interactive command mode")
	flag.StringVar(&config.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. \":9471\")")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "File path for protocol event logging (CBOR format)")
}

func main() {
	flag.Parse()

	logger := setupLogging(config.LogLevel)

	log.Println("Object Entry Dashboard")
	log.Println("======================")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var protocolLogger oelog.Logger
	if config.ProtocolLog != "" {
		fileLogger, err := oelog.NewFileLogger(config.ProtocolLog)
		if err != nil {
			log.Fatalf("Failed to create protocol logger: %v", err)
		}
		defer fileLogger.Close()
		log.Printf("Protocol logging to: %s", config.ProtocolLog)
		protocolLogger = fileLogger
		if config.LogLevel == "debug" {
			protocolLogger = oelog.NewMultiLogger(fileLogger, oelog.NewSlogAdapter(logger))
		}
	}

	addr := config.Address
	if config.Discover {
		found, err := discover(ctx, logger)
		if err != nil {
			log.Fatalf("Bridge discovery failed: %v", err)
		}
		addr = found
	}
	log.Printf("Bridge: %s", addr)

	collector := metrics.Collector(metrics.NewNop())
	if config.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewPrometheus(reg, "oelive")
		srv := serveMetrics(config.MetricsAddr, reg)
		defer srv.Close()
	}

	// The registry and the link refer to each other: the registry opens
	// listeners through the link, the link feeds events back.
	var registry *subscription.Registry
	link := bridge.NewLink(addr, bridge.LinkConfig{
		Dial: bridge.DialConfig{
			Client: bridge.ClientConfig{
				Logger:         logger,
				ProtocolLogger: protocolLogger,
			},
			MaxAttempts: 3,
		},
		Supervisor: connection.SupervisorConfig{
			Backoff: connection.DefaultBackoffConfig(),
			OnStateChange: func(oldState, newState connection.State) {
				log.Printf("[LINK] %s -> %s", oldState, newState)
			},
		},
		OnEvent: func(id bridge.StreamID, sample model.Sample) {
			registry.HandlePushEvent(id, sample)
		},
		OnDisconnect: func(err error) {
			log.Printf("[EVENT] Bridge connection lost: %v", err)
			registry.HandleDisconnect()
		},
		OnConnect: func(client *bridge.Client) {
			if n := registry.Resubscribe(); n > 0 {
				log.Printf("[EVENT] Reconnected (%s), restoring %d listener(s)", client.ConnID(), n)
			}
		},
		Logger: logger,
	})

	regCfg := subscription.DefaultConfig()
	regCfg.Logger = logger
	regCfg.ProtocolLogger = protocolLogger
	regCfg.Metrics = collector
	registry = subscription.NewRegistry(link, regCfg)

	if err := link.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect to bridge: %v", err)
	}

	if netInfo, err := link.NetworkInfo(ctx); err == nil {
		log.Printf("Network: %s (%d nodes)", netInfo.Name, len(netInfo.Nodes))
	}

	board := widget.NewBoard(registry, widget.Config{})
	for _, key := range config.Watch {
		w, err := board.Watch(key)
		if err != nil {
			log.Printf("Failed to watch %s: %v", key, err)
			continue
		}
		log.Printf("Widget #%d watching %s", w.ID, key)
	}

	if config.Interactive {
		ic, err := interactive.New(link, registry, board)
		if err != nil {
			log.Fatalf("Failed to create interactive dashboard: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input
		log.SetOutput(ic.Stdout())
		go ic.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")

	board.Close()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), subscription.DefaultTeardownTimeout)
	if err := registry.Close(closeCtx); err != nil {
		log.Printf("Error closing listeners: %v", err)
	}
	closeCancel()

	if err := link.Close(); err != nil {
		log.Printf("Error closing bridge link: %v", err)
	}

	log.Println("Goodbye!")
}

// discover browses for a bridge and returns its address.
func discover(ctx context.Context, logger *slog.Logger) (string, error) {
	cfg := discovery.DefaultBrowserConfig()
	cfg.Interface = config.Interface
	cfg.Network = config.Network
	cfg.Logger = logger

	log.Printf("Browsing for %s...", discovery.ServiceType)
	svc, err := discovery.NewBrowser(cfg).Find(ctx)
	if err != nil {
		return "", err
	}
	log.Printf("[EVENT] Bridge discovered: %s (network: %s, host: %s:%d)", svc.Instance, svc.Network, svc.Host, svc.Port)
	return svc.Addr(), nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server failed: %v", err)
		}
	}()
	log.Printf("Metrics on http://%s/metrics", addr)
	return srv
}

// setupLogging configures the standard logger for the command's own
// output and returns a slog logger for the libraries. Library logs follow
// the standard logger's writer so they stay below the interactive prompt.
func setupLogging(level string) *slog.Logger {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	slogLevel := slog.LevelInfo
	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
		slogLevel = slog.LevelDebug
	case "warn":
		log.SetFlags(log.Ltime)
		slogLevel = slog.LevelWarn
	case "error":
		log.SetFlags(log.Ltime)
		slogLevel = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(logWriter{}, &slog.HandlerOptions{Level: slogLevel}))
}

// logWriter writes to the standard logger's current output.
type logWriter struct{}

var _ io.Writer = logWriter{}

func (logWriter) Write(p []byte) (int, error) {
	return log.Writer().Write(p)
}
