// Command subhubd runs a single subhub node: one HTTP/websocket
// listener backed by seven per-topic subscription registries, bridged
// into the cluster over NATS. Grounded on the teacher's cmd/main.go
// (config load, server construct, blocking Start) plus automaxprocs
// from the sharded sibling example, since a registry's command loop
// benefits from GOMAXPROCS matching the container's real CPU quota.
package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/hevyhomie/subhub/internal/config"
	"github.com/hevyhomie/subhub/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start subhub: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "subhub exited with error: %v\n", err)
		os.Exit(1)
	}
}
