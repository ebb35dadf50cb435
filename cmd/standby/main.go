// Command standby watches a primary's heartbeat and respawns it if it goes
// quiet, reporting the death to the discovery router so clients stop being
// handed the dead address. It never serves RPCs itself — it only
// exists to keep a primary alive.
package main

import (
	"fmt"
	"log"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/Luke-Grammer/Distributed-TinySNS/failover"
	"github.com/Luke-Grammer/Distributed-TinySNS/registry"
)

func main() {
	var (
		clientPort    int
		backendPort   int
		heartbeatPort int
		routerAddr    string
		primaryBinary string
	)

	root := &cobra.Command{
		Use:   "standby",
		Short: "Watch a TinySNS primary and respawn it on failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(clientPort, backendPort, heartbeatPort, routerAddr, primaryBinary)
		},
	}
	root.Flags().IntVarP(&clientPort, "client-port", "c", 3010, "primary's client-serving port (passed through on respawn)")
	root.Flags().IntVarP(&backendPort, "backend-port", "b", 3059, "router backend port to report the primary's death on")
	root.Flags().IntVarP(&heartbeatPort, "heartbeat-port", "h", 3076, "primary's heartbeat port to dial")
	root.Flags().StringVarP(&routerAddr, "router-addr", "a", "127.0.0.1", "discovery router's host")
	root.Flags().StringVar(&primaryBinary, "primary-binary", "primary", "path to the primary binary respawned on failure")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(clientPort, backendPort, heartbeatPort int, routerAddr, primaryBinary string) error {
	if clientPort == backendPort || clientPort == heartbeatPort || heartbeatPort == backendPort {
		return fmt.Errorf("invalid port selection, conflicting ports")
	}

	routerBackendAddr := net.JoinHostPort(routerAddr, fmt.Sprint(backendPort))
	disco := registry.NewRouterRegistry(routerBackendAddr, "", fmt.Sprint(clientPort))

	// The standby runs alongside its primary on the same host.
	primaryHeartbeatAddr := net.JoinHostPort("127.0.0.1", fmt.Sprint(heartbeatPort))

	supervisor := failover.NewSupervisor(primaryBinary, failover.Flags{
		ClientPort:    clientPort,
		BackendPort:   backendPort,
		HeartbeatPort: heartbeatPort,
		RouterAddr:    routerAddr,
	})

	onDeath := func() error {
		return disco.Deregister("SNS", primaryHeartbeatAddr)
	}
	monitor := failover.NewMonitor(failover.RoleStandby, &failover.DialEndpoint{Addr: primaryHeartbeatAddr}, supervisor, onDeath, nil)

	log.Printf("standby: watching primary heartbeat at %s", primaryHeartbeatAddr)
	return monitor.Run()
}
