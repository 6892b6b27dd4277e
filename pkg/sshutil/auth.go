package sshutil

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/internal/security"
)

// buildClientConfig creates the protocol engine's client config from a
// normalized ConnectionConfig, wiring the auth methods the config asks for.
func buildClientConfig(cfg ConnectionConfig, keyData []byte) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch cfg.Auth {
	case security.AuthPassword:
		authMethods = append(authMethods,
			ssh.Password(cfg.Password),
			// Some servers only offer keyboard-interactive; answer every
			// prompt with the password for compatibility.
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		)

	case security.AuthKey:
		keyAuth, err := parseKeyAuth(cfg.KeyPath, keyData, cfg.KeyPassphrase)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				return nil, errors.WrapWithCode(err, errors.ErrAuth,
					fmt.Sprintf("SSH key at %s is encrypted", cfg.KeyPath),
					fmt.Sprintf("Provide the passphrase, or add the key to the agent: ssh-add %s", cfg.KeyPath))
			}
			return nil, errors.WrapWithCode(err, errors.ErrAuth,
				fmt.Sprintf("Couldn't load the private key at %s", cfg.KeyPath),
				"Check the key file exists and is readable")
		}
		authMethods = append(authMethods, keyAuth)

	case security.AuthAgent:
		agentAuth := sshAgentAuth()
		if agentAuth == nil {
			return nil, errors.New(errors.ErrAuth,
				"No SSH agent available or the agent has no keys",
				"Check your keys are loaded: ssh-add -l")
		}
		authMethods = append(authMethods, agentAuth)

	default:
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown authentication method '%s'", cfg.Auth),
			"Use one of: password, key, agent")
	}

	hostKeyCallback, err := hostKeyCallbackFor(cfg)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:              cfg.User,
		Auth:              authMethods,
		HostKeyCallback:   hostKeyCallback,
		Timeout:           cfg.DialTimeout,
		HostKeyAlgorithms: cfg.HostKeyAlgorithms,
		Config: ssh.Config{
			Ciphers:      cfg.Ciphers,
			KeyExchanges: cfg.KeyExchanges,
		},
	}, nil
}

// parseKeyAuth turns private key material into an auth method.
// Returns EncryptedKeyError if the key needs a passphrase that wasn't given.
func parseKeyAuth(keyPath string, keyData []byte, passphrase string) (ssh.AuthMethod, error) {
	var signer ssh.Signer
	var err error

	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		if passphrase == "" && isEncryptedKey(err, keyData) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

func isEncryptedKey(err error, keyData []byte) bool {
	var passErr *ssh.PassphraseMissingError
	if stderrors.As(err, &passErr) {
		return true
	}
	return strings.Contains(err.Error(), "encrypted") ||
		strings.Contains(err.Error(), "passphrase") ||
		bytes.Contains(keyData, []byte("ENCRYPTED"))
}

// agentConn holds the reusable SSH agent connection.
var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method using the SSH agent if available.
// The agent connection is reused across multiple SSH connections.
// Returns nil if the agent has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})

	if agentClient == nil {
		return nil
	}

	// Only return agent auth if the agent actually has keys.
	// An empty agent causes auth failures when placed before other methods.
	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the SSH agent connection if one is open.
// This should be called when the application is shutting down.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

// hostKeyCallbackFor returns the host-key verification callback for a config.
func hostKeyCallbackFor(cfg ConnectionConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureSkipHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // Caller explicitly disabled host key checking
	}

	knownHostsPath := cfg.KnownHostsPath
	if knownHostsPath == "" {
		knownHostsPath = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}

	// Create an empty known_hosts if missing so first use doesn't fail.
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		dir := filepath.Dir(knownHostsPath)
		if mkErr := os.MkdirAll(dir, 0700); mkErr != nil {
			return nil, errors.WrapWithCode(mkErr, errors.ErrConfig,
				"Couldn't create the .ssh directory", "Check directory permissions")
		}
		if wrErr := os.WriteFile(knownHostsPath, []byte{}, 0600); wrErr != nil {
			return nil, errors.WrapWithCode(wrErr, errors.ErrConfig,
				"Couldn't create known_hosts", "Check file permissions")
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't load known_hosts", "Check the file isn't corrupted")
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if stderrors.As(err, &keyErr) {
			if len(keyErr.Want) > 0 {
				return errors.WrapWithCode(err, errors.ErrHostKeyMismatch,
					fmt.Sprintf("Host key mismatch for %s: server sent a %s key", hostname, key.Type()),
					fmt.Sprintf("Verify the key out of band, then update known_hosts:\n"+
						"  ssh-keyscan -t rsa,ecdsa,ed25519 %s >> %s\n"+
						"Or remove the stale entry:\n"+
						"  ssh-keygen -R %s", hostname, knownHostsPath, hostname))
			}
			return errors.WrapWithCode(err, errors.ErrHostKeyUnknown,
				fmt.Sprintf("Unknown host key for %s (%s)", hostname, ssh.FingerprintSHA256(key)),
				fmt.Sprintf("Verify the host key, then add it:\n  ssh-keyscan %s >> %s", hostname, knownHostsPath))
		}
		return err
	}, nil
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}
