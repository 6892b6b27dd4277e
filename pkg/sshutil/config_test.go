package sshutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tmckenzie51/sshkit/internal/security"
)

func TestConnectionConfigKey(t *testing.T) {
	cfg := ConnectionConfig{Host: "web-01", Port: 2222, User: "deploy"}
	assert.Equal(t, "deploy@web-01:2222", cfg.Key())
	assert.Equal(t, "web-01:2222", cfg.Address())
}

func TestConnectionConfigAddressIPv6(t *testing.T) {
	cfg := ConnectionConfig{Host: "fe80::1", Port: 22}
	assert.Equal(t, "[fe80::1]:22", cfg.Address())
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := ConnectionConfig{Host: "web-01"}.normalize()

	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, security.AuthAgent, cfg.Auth)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultCommandTimeout, cfg.CommandTimeout)
	assert.Equal(t, DefaultConnectRetryDelay, cfg.ConnectRetryDelay)
	assert.Zero(t, cfg.KeepAlive, "keep-alive stays off unless asked for")
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := ConnectionConfig{
		Host:           "web-01",
		Port:           2222,
		Auth:           security.AuthPassword,
		DialTimeout:    time.Second,
		CommandTimeout: 5 * time.Second,
		ConnectRetries: 4,
		KeepAlive:      15 * time.Second,
	}.normalize()

	assert.Equal(t, 2222, cfg.Port)
	assert.Equal(t, security.AuthPassword, cfg.Auth)
	assert.Equal(t, time.Second, cfg.DialTimeout)
	assert.Equal(t, 5*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 4, cfg.ConnectRetries)
	assert.Equal(t, 15*time.Second, cfg.KeepAlive)
}

func TestNormalizeClampsNegativeRetries(t *testing.T) {
	cfg := ConnectionConfig{Host: "web-01", ConnectRetries: -3}.normalize()
	assert.Equal(t, 0, cfg.ConnectRetries)
}
