package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const installationIDFile = "installation_id"

// InstallationID returns the opaque identifier attached to telemetry events,
// creating and persisting a random one on first use. It carries nothing about
// the user or the machine.
func InstallationID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, installationIDFile)

	b, err := os.ReadFile(path)
	if err == nil {
		if id, perr := uuid.Parse(strings.TrimSpace(string(b))); perr == nil {
			return id.String(), nil
		}
		// Corrupt file: fall through and replace it.
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read installation id: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dataDir, err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write installation id: %w", err)
	}
	return id, nil
}
