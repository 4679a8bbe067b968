package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// generateServerID falls back to hostname-uuid when server.id is left
// unset, so every node in a cluster still gets a stable-enough,
// human-legible identity for cluster gossip (internal/clusterbridge)
// without requiring an operator to assign one by hand.
func generateServerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "subhub"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
