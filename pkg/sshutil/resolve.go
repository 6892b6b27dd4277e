package sshutil

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/kevinburke/ssh_config"

	"github.com/tmckenzie51/sshkit/internal/security"
)

// matchWarningOnce ensures the SSH config Match directive warning is only shown once per process.
var matchWarningOnce sync.Once

// WarningHandler is a function that handles warning messages.
// If nil, warnings are printed to stderr via log.Printf.
var WarningHandler func(message string)

func emitWarning(message string) {
	if WarningHandler != nil {
		WarningHandler(message)
	} else {
		log.Printf("Warning: %s", message)
	}
}

// ResolveConfig builds a ConnectionConfig from a host string, which can be:
//   - An SSH config alias (e.g., "myserver")
//   - A hostname (e.g., "192.168.1.100")
//   - A user@hostname (e.g., "user@192.168.1.100")
//   - A hostname:port (e.g., "192.168.1.100:2222")
//
// Connection settings are resolved from ~/.ssh/config when available.
// The returned config defaults to agent auth; an IdentityFile entry
// switches it to key auth.
func ResolveConfig(host string) ConnectionConfig {
	cfg := ConnectionConfig{
		Port: 22,
		User: currentUser(),
		Auth: security.AuthAgent,
	}

	// Parse user@host:port format first (explicit user takes precedence).
	if atIdx := strings.Index(host, "@"); atIdx != -1 {
		cfg.User = host[:atIdx]
		host = host[atIdx+1:]
	}

	if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 {
		if port, err := strconv.Atoi(host[colonIdx+1:]); err == nil && port > 0 {
			cfg.Port = port
			host = host[:colonIdx]
		}
	}

	cfg.Host = host

	sshConfigPath := filepath.Join(homeDir(), ".ssh", "config")

	// The kevinburke/ssh_config library doesn't support Match directives,
	// so parse only the content before the first Match block.
	content, matchLine, err := preprocessSSHConfig(sshConfigPath)
	if err != nil {
		// Config doesn't exist or can't be read, that's fine.
		return cfg
	}

	parsed, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return cfg
	}

	hostFound := false

	if hostname, _ := parsed.Get(host, "HostName"); hostname != "" {
		cfg.Host = hostname
		hostFound = true
	}
	if port, _ := parsed.Get(host, "Port"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
		hostFound = true
	}
	if user, _ := parsed.Get(host, "User"); user != "" {
		cfg.User = user
		hostFound = true
	}
	if identity, _ := parsed.Get(host, "IdentityFile"); identity != "" {
		cfg.KeyPath = expandPath(identity)
		cfg.Auth = security.AuthKey
		hostFound = true
	}

	if matchLine > 0 && !hostFound {
		matchWarningOnce.Do(func() {
			emitWarning(fmt.Sprintf(
				"Host '%s' not found in SSH config (config has a Match block at line %d that may hide later entries). "+
					"If this host is defined after line %d, move it earlier in ~/.ssh/config.",
				host, matchLine, matchLine))
		})
	}

	return cfg
}

// preprocessSSHConfig reads the SSH config and returns content up to the first
// Match directive, plus the line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// DefaultKeyPaths returns the conventional private key locations to try
// when no identity file is configured.
func DefaultKeyPaths() []string {
	return []string{
		filepath.Join(homeDir(), ".ssh", "id_ed25519"),
		filepath.Join(homeDir(), ".ssh", "id_rsa"),
		filepath.Join(homeDir(), ".ssh", "id_ecdsa"),
	}
}
