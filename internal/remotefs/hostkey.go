package remotefs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyCallback builds a known_hosts based verifier. Candidates are
// checked in order: knownHostsPath (if set), ~/.ssh/known_hosts and
// /etc/ssh/ssh_known_hosts. When none exists the callback accepts any key,
// unless strict is set, in which case an error is returned.
func HostKeyCallback(knownHostsPath string, strict bool) (ssh.HostKeyCallback, error) {
	candidates := make([]string, 0, 3)
	if p := strings.TrimSpace(knownHostsPath); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".ssh", "known_hosts"))
	}
	candidates = append(candidates, "/etc/ssh/ssh_known_hosts")

	existing := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			existing = append(existing, candidate)
		}
	}

	if len(existing) > 0 {
		callback, err := knownhosts.New(existing...)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		return callback, nil
	}

	if strict {
		return nil, fmt.Errorf("ssh host key verification required: no known_hosts file found")
	}
	return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec
}
