// Command primary runs one primary replica of the TinySNS service: the RPC
// server (login, list, follow, unfollow, timeline), registration with the
// discovery router, and the heartbeat/failover monitor that watches the
// standby and respawns it if it stops answering.
//
// The router is not a separate program. When the router address is
// loopback there is no router to register with — this process IS the
// router: it binds the backend and client discovery ports and routes
// until killed. Any other address means a router is already reachable
// there, so the process registers with it and serves RPCs.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Luke-Grammer/Distributed-TinySNS/failover"
	"github.com/Luke-Grammer/Distributed-TinySNS/message"
	"github.com/Luke-Grammer/Distributed-TinySNS/middleware"
	"github.com/Luke-Grammer/Distributed-TinySNS/registry"
	"github.com/Luke-Grammer/Distributed-TinySNS/router"
	"github.com/Luke-Grammer/Distributed-TinySNS/server"
	"github.com/Luke-Grammer/Distributed-TinySNS/social"
)

func main() {
	var (
		clientPort    int
		backendPort   int
		heartbeatPort int
		routerAddr    string
		dataDir       string
		standbyBinary string
		loginRate     float64
		loginBurst    int
	)

	root := &cobra.Command{
		Use:   "primary",
		Short: "Run a TinySNS primary replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(clientPort, backendPort, heartbeatPort, routerAddr, dataDir, standbyBinary, loginRate, loginBurst)
		},
	}
	root.Flags().IntVarP(&clientPort, "client-port", "c", 3010, "port this replica serves RPCs on")
	root.Flags().IntVarP(&backendPort, "backend-port", "b", 3059, "router backend port to register on")
	root.Flags().IntVarP(&heartbeatPort, "heartbeat-port", "h", 3076, "port the standby's heartbeat connects to")
	root.Flags().StringVarP(&routerAddr, "router-addr", "a", "127.0.0.1", "discovery router's host; loopback makes this process the router")
	root.Flags().StringVar(&dataDir, "data-dir", "./data", "directory for user and timeline persistence")
	root.Flags().StringVar(&standbyBinary, "standby-binary", "standby", "path to the standby binary respawned on failure")
	root.Flags().Float64Var(&loginRate, "login-rate", 5, "sustained Login calls per second before throttling")
	root.Flags().IntVar(&loginBurst, "login-burst", 10, "Login burst allowance")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(clientPort, backendPort, heartbeatPort int, routerAddr, dataDir, standbyBinary string, loginRate float64, loginBurst int) error {
	if clientPort == backendPort || clientPort == heartbeatPort || heartbeatPort == backendPort {
		return fmt.Errorf("invalid port selection, conflicting ports")
	}

	// A loopback router address means there is no router to register with:
	// this process is the router. It routes until killed and never serves
	// RPCs; the replicas that do are launched with -a pointing here.
	if ip := net.ParseIP(routerAddr); ip != nil && ip.IsLoopback() {
		r := router.New()
		log.Printf("primary: router address %s is loopback, acting as the router (backend :%d, client :%d)", routerAddr, backendPort, clientPort)
		return r.Serve("tcp", fmt.Sprintf(":%d", backendPort), fmt.Sprintf(":%d", clientPort))
	}

	reg := social.NewRegistry(dataDir)
	if err := reg.Load(); err != nil {
		return fmt.Errorf("load persisted users: %w", err)
	}

	svr := server.NewServer()
	if err := svr.Register(server.NewSNS(reg)); err != nil {
		return fmt.Errorf("register SNS service: %w", err)
	}
	svr.UseTimeline(social.NewEngine(reg, dataDir))
	svr.Use(middleware.LoggingMiddleware())
	limitLogin := middleware.RateLimitMiddleware(loginRate, loginBurst)
	svr.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		limited := limitLogin(next)
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if req.ServiceMethod == "SNS.Login" {
				return limited(ctx, req)
			}
			return next(ctx, req)
		}
	})

	routerBackendAddr := net.JoinHostPort(routerAddr, fmt.Sprint(backendPort))
	routerClientAddr := net.JoinHostPort(routerAddr, fmt.Sprint(clientPort))
	disco := registry.NewRouterRegistry(routerBackendAddr, routerClientAddr, fmt.Sprint(clientPort))

	hbLn, err := net.Listen("tcp", fmt.Sprintf(":%d", heartbeatPort))
	if err != nil {
		return fmt.Errorf("listen heartbeat port: %w", err)
	}

	supervisor := failover.NewSupervisor(standbyBinary, failover.Flags{
		ClientPort:    clientPort,
		BackendPort:   backendPort,
		HeartbeatPort: heartbeatPort,
		RouterAddr:    routerAddr,
	})

	onRespawn := func() error {
		return disco.Register("SNS", registry.ServiceInstance{}, 0)
	}
	monitor := failover.NewMonitor(failover.RolePrimary, &failover.ListenEndpoint{Listener: hbLn}, supervisor, nil, onRespawn)

	go func() {
		if err := monitor.Run(); err != nil {
			log.Printf("primary: failover monitor stopped: %v", err)
		}
	}()

	advertiseAddr := net.JoinHostPort(routerAddr, fmt.Sprint(clientPort))
	log.Printf("primary: serving RPCs on :%d, advertising %s to router at %s", clientPort, advertiseAddr, routerAddr)

	// Give the standby (if launched alongside this process, e.g. by a
	// supervising script) a moment to bind its heartbeat dial before this
	// replica starts accepting client connections.
	time.Sleep(100 * time.Millisecond)

	return svr.Serve("tcp", fmt.Sprintf(":%d", clientPort), advertiseAddr, disco)
}
