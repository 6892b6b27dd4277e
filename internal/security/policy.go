// Package security gates connection attempts, commands, and host-key trust
// against a process-wide policy. The policy is runtime-mutable: readers see
// an atomically-swapped immutable snapshot, so validation never observes a
// half-updated rule set.
package security

import "time"

// AuthMethod identifies how a connection authenticates.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
	AuthAgent    AuthMethod = "agent"
)

// Policy is the rule set consulted by every validation call site.
// Empty allow-lists mean "no restriction". A Policy value is treated as
// immutable once installed; use Validator.UpdatePolicy to change rules.
type Policy struct {
	AllowedPorts    []int    `yaml:"allowed_ports"`
	TrustedHosts    []string `yaml:"trusted_hosts"`
	AllowedCommands []string `yaml:"allowed_commands"` // prefix allow-list
	BlockedCommands []string `yaml:"blocked_commands"` // substring block-list

	AllowPasswordAuth bool `yaml:"allow_password_auth"`
	AllowKeyAuth      bool `yaml:"allow_key_auth"`
	AllowAgentAuth    bool `yaml:"allow_agent_auth"`

	MinPasswordLength int `yaml:"min_password_length"`

	MaxConnectionAttempts   int           `yaml:"max_connection_attempts"`
	ConnectionAttemptWindow time.Duration `yaml:"connection_attempt_window"`

	// Zero means unlimited.
	MaxConnectionTime time.Duration `yaml:"max_connection_time"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`

	AllowUnknownHosts bool `yaml:"allow_unknown_hosts"`
}

// DefaultBlockedCommands covers destructive filesystem, disk, and power
// operations. The dangerous-command heuristic in validator.go backs this
// list up for variations that dodge plain substring matching.
var DefaultBlockedCommands = []string{
	"rm -rf /",
	"rm -fr /",
	"mkfs",
	"dd if=/dev/zero",
	"dd if=/dev/random",
	":(){",
	"> /dev/sda",
	"shutdown",
	"reboot",
	"halt",
	"poweroff",
	"init 0",
	"chmod -R 777 /",
}

// weakPasswords are rejected outright regardless of complexity rules.
var weakPasswords = []string{
	"password", "password1", "123456", "12345678", "123456789",
	"qwerty", "abc123", "letmein", "admin", "welcome", "monkey",
	"111111", "dragon", "master", "iloveyou",
}

// DefaultPolicy returns the policy installed at process start.
func DefaultPolicy() *Policy {
	return &Policy{
		BlockedCommands:         append([]string(nil), DefaultBlockedCommands...),
		AllowPasswordAuth:       true,
		AllowKeyAuth:            true,
		AllowAgentAuth:          true,
		MinPasswordLength:       8,
		MaxConnectionAttempts:   5,
		ConnectionAttemptWindow: 1 * time.Minute,
	}
}

// Patch describes a partial policy update. Nil fields are left unchanged.
type Patch struct {
	AllowedPorts    *[]int    `yaml:"allowed_ports"`
	TrustedHosts    *[]string `yaml:"trusted_hosts"`
	AllowedCommands *[]string `yaml:"allowed_commands"`
	BlockedCommands *[]string `yaml:"blocked_commands"`

	AllowPasswordAuth *bool `yaml:"allow_password_auth"`
	AllowKeyAuth      *bool `yaml:"allow_key_auth"`
	AllowAgentAuth    *bool `yaml:"allow_agent_auth"`

	MinPasswordLength *int `yaml:"min_password_length"`

	MaxConnectionAttempts   *int           `yaml:"max_connection_attempts"`
	ConnectionAttemptWindow *time.Duration `yaml:"connection_attempt_window"`

	MaxConnectionTime *time.Duration `yaml:"max_connection_time"`
	MaxIdleTime       *time.Duration `yaml:"max_idle_time"`

	AllowUnknownHosts *bool `yaml:"allow_unknown_hosts"`
}

// apply copies p and overlays the non-nil patch fields onto the copy.
func (patch Patch) apply(p *Policy) *Policy {
	next := *p
	next.AllowedPorts = append([]int(nil), p.AllowedPorts...)
	next.TrustedHosts = append([]string(nil), p.TrustedHosts...)
	next.AllowedCommands = append([]string(nil), p.AllowedCommands...)
	next.BlockedCommands = append([]string(nil), p.BlockedCommands...)

	if patch.AllowedPorts != nil {
		next.AllowedPorts = append([]int(nil), (*patch.AllowedPorts)...)
	}
	if patch.TrustedHosts != nil {
		next.TrustedHosts = append([]string(nil), (*patch.TrustedHosts)...)
	}
	if patch.AllowedCommands != nil {
		next.AllowedCommands = append([]string(nil), (*patch.AllowedCommands)...)
	}
	if patch.BlockedCommands != nil {
		next.BlockedCommands = append([]string(nil), (*patch.BlockedCommands)...)
	}
	if patch.AllowPasswordAuth != nil {
		next.AllowPasswordAuth = *patch.AllowPasswordAuth
	}
	if patch.AllowKeyAuth != nil {
		next.AllowKeyAuth = *patch.AllowKeyAuth
	}
	if patch.AllowAgentAuth != nil {
		next.AllowAgentAuth = *patch.AllowAgentAuth
	}
	if patch.MinPasswordLength != nil {
		next.MinPasswordLength = *patch.MinPasswordLength
	}
	if patch.MaxConnectionAttempts != nil {
		next.MaxConnectionAttempts = *patch.MaxConnectionAttempts
	}
	if patch.ConnectionAttemptWindow != nil {
		next.ConnectionAttemptWindow = *patch.ConnectionAttemptWindow
	}
	if patch.MaxConnectionTime != nil {
		next.MaxConnectionTime = *patch.MaxConnectionTime
	}
	if patch.MaxIdleTime != nil {
		next.MaxIdleTime = *patch.MaxIdleTime
	}
	if patch.AllowUnknownHosts != nil {
		next.AllowUnknownHosts = *patch.AllowUnknownHosts
	}

	return &next
}
