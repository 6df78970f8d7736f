package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// osHostname is replaced in tests.
var osHostname = os.Hostname

// ResolveIdentity returns the configured identity, or hostname_<uuid> so
// that replicas on one host never share an identity.
func (le LeaderElectionConfig) ResolveIdentity() (string, error) {
	if le.Identity != "" {
		return le.Identity, nil
	}
	hostname, err := osHostname()
	if err != nil {
		return "", fmt.Errorf("failed to determine hostname for leader election identity: %w", err)
	}
	return hostname + "_" + uuid.NewString(), nil
}
