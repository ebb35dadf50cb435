// Command client runs one interactive TinySNS session against a router,
// reading commands from stdin and printing replies and live timeline posts
// to stdout.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/Luke-Grammer/Distributed-TinySNS/loadbalance"
	"github.com/Luke-Grammer/Distributed-TinySNS/protocol"
	"github.com/Luke-Grammer/Distributed-TinySNS/registry"
	"github.com/Luke-Grammer/Distributed-TinySNS/session"
	"github.com/Luke-Grammer/Distributed-TinySNS/social"
)

func main() {
	var (
		routerAddr string
		username   string
		clientPort int
	)

	root := &cobra.Command{
		Use:   "client",
		Short: "Connect to the TinySNS router as one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(routerAddr, username, clientPort)
		},
	}
	root.Flags().StringVarP(&routerAddr, "router-addr", "r", "127.0.0.1", "discovery router's host")
	root.Flags().StringVarP(&username, "username", "u", "", "username to log in as (required)")
	root.Flags().IntVarP(&clientPort, "client-port", "p", 3010, "client port: the router's discovery port and, by convention, every primary's RPC port")
	root.MarkFlagRequired("username")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(routerAddr, username string, clientPort int) error {
	if !social.ValidUsername(username) {
		return fmt.Errorf("invalid username %q: letters, digits, '_', '.', and '-' only", username)
	}
	// One port number serves double duty: the router's client-discovery
	// socket listens on it, and the primary the router points at serves
	// its RPCs on it.
	routerClientAddr := net.JoinHostPort(routerAddr, fmt.Sprint(clientPort))
	// The client never registers or deregisters, so the backend address is
	// unused; it's left empty rather than invented.
	reg := registry.NewRouterRegistry("", routerClientAddr, fmt.Sprint(clientPort))

	s := session.New(username, reg, &loadbalance.RoundRobinBalancer{}, protocol.CodecTypeJSON, 1, os.Stdin, os.Stdout)
	return s.Run()
}
