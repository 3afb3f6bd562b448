// Command oe-bridge-sim serves a simulated CAN network over the bridge
// wire protocol.
//
// Every readable object entry of the network description follows a
// bounded random walk; writable entries accept set requests. Dashboards
// connect over TCP, or find the simulator over mDNS when -advertise is
// set.
//
// Usage:
//
//	oe-bridge-sim [flags]
//
// Flags:
//
//	-config string        Network description (YAML) (default "configs/network.yaml")
//	-addr string          Listen address (default ":9470")
//	-interval duration    Random-walk tick interval, 0 disables (default 500ms)
//	-seed uint            Seed for the value generator (0 = time based)
//	-advertise            Advertise the bridge over mDNS
//	-instance string      mDNS instance name (default "oe-bridge-sim-<network>")
//	-interface string     Network interface for mDNS (default all)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  File path for protocol event logging (CBOR format)
//
// Examples:
//
//	# Serve the example network
//	oe-bridge-sim -config configs/network.yaml
//
//	# Fast ticking, discoverable, with a protocol capture
//	oe-bridge-sim -interval 50ms -advertise -protocol-log sim.oelog
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/muzero-hyperloop/oelive/pkg/discovery"
	oelog "github.com/muzero-hyperloop/oelive/pkg/log"
	"github.com/muzero-hyperloop/oelive/pkg/model"
	"github.com/muzero-hyperloop/oelive/pkg/sim"
)

// Config holds the simulator configuration.
type Config struct {
	ConfigFile  string
	Address     string
	Interval    time.Duration
	Seed        uint64
	Advertise   bool
	Instance    string
	Interface   string
	LogLevel    string
	ProtocolLog string
}

var config Config

func init() {
	flag.StringVar(&config.ConfigFile, "config", "configs/network.yaml", "Network description (YAML)")
	flag.StringVar(&config.Address, "addr", fmt.Sprintf(":%d", discovery.DefaultPort), "Listen address")
	flag.DurationVar(&config.Interval, "interval", sim.DefaultInterval, "Random-walk tick interval, 0 disables")
	flag.Uint64Var(&config.Seed, "seed", 0, "Seed for the value generator (0 = time based)")
	flag.BoolVar(&config.Advertise, "advertise", false, "Advertise the bridge over mDNS")
	flag.StringVar(&config.Instance, "instance", "", "mDNS instance name (default \"oe-bridge-sim-<network>\")")
	flag.StringVar(&config.Interface, "interface", "", "Network interface for mDNS (default all)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "File path for protocol event logging (CBOR format)")
}

func main() {
	flag.Parse()

	logger := setupLogging(config.LogLevel)

	log.Println("Object Entry Bridge Simulator")
	log.Println("=============================")

	network, err := model.LoadNetworkConfig(config.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load network: %v", err)
	}
	log.Printf("Network: %s (%d nodes)", network.Name, len(network.Nodes))

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

	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	interval := config.Interval
	if interval == 0 {
		interval = -1
	}

	srv, err := sim.NewServer(network, sim.Config{
		Address:        config.Address,
		Interval:       interval,
		Seed:           seed,
		Logger:         logger,
		ProtocolLogger: protocolLogger,
	})
	if err != nil {
		log.Fatalf("Failed to create simulator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start simulator: %v", err)
	}
	log.Printf("Listening on %s", srv.Addr())

	var advertiser *discovery.Advertiser
	if config.Advertise {
		advertiser = advertise(ctx, network.Name, srv.Addr(), logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down...")

	if advertiser != nil {
		advertiser.Stop()
	}
	if err := srv.Stop(); err != nil {
		log.Printf("Error stopping simulator: %v", err)
	}

	log.Println("Goodbye!")
}

func advertise(ctx context.Context, networkName string, addr net.Addr, logger *slog.Logger) *discovery.Advertiser {
	instance := config.Instance
	if instance == "" {
		instance = "oe-bridge-sim-" + networkName
	}

	var port uint16
	if _, p, err := net.SplitHostPort(addr.String()); err == nil {
		if n, err := strconv.ParseUint(p, 10, 16); err == nil {
			port = uint16(n)
		}
	}

	advCfg := discovery.DefaultAdvertiserConfig()
	advCfg.Interface = config.Interface
	advCfg.Logger = logger
	advertiser := discovery.NewAdvertiser(advCfg)

	err := advertiser.Advertise(ctx, &discovery.BridgeInfo{
		Instance: instance,
		Network:  networkName,
		Port:     port,
	})
	if err != nil {
		log.Printf("Warning: Failed to advertise bridge: %v", err)
		return nil
	}
	log.Printf("Advertising as %q (%s)", instance, discovery.ServiceType)
	return advertiser
}

// setupLogging configures the standard logger for the command's own
// output and returns a slog logger for the libraries.
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

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}
