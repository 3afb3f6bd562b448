// Package sim implements a simulated CAN bridge.
//
// A Network holds the object entries described by a model.NetworkConfig
// and moves them along a bounded random walk. A Server exposes the
// network over the bridge wire protocol so the dashboard can run without
// hardware:
//
//	cfg, _ := model.LoadNetworkConfig("configs/network.yaml")
//	srv, _ := sim.NewServer(cfg, sim.DefaultConfig())
//	srv.Start(ctx)
//	defer srv.Stop()
//
// Listener streams belong to the connection that opened them and are
// dropped when it goes away.
package sim
