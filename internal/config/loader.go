package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/tmckenzie51/sshkit/internal/errors"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = ".sshkit.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/sshkit"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
)

// Load reads config from the specified path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Create a .sshkit.yaml, or specify one with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. .sshkit.yaml in current directory
// 3. .sshkit.yaml in parent directories (stops at git root or home)
// 4. ~/.config/sshkit/config.yaml (global defaults)
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	localConfig := filepath.Join(cwd, ConfigFileName)
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	// Walk up to parent directories.
	home, _ := os.UserHomeDir()
	dir := cwd
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		if home != "" && parent == home {
			// Don't go above home directory
			break
		}
		dir = parent

		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Stop at git root
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break
		}
	}

	if home != "" {
		globalConfig := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", nil
}

// LoadOrDefault loads config from the found path, or returns defaults
// when no config file exists anywhere in the search order.
func LoadOrDefault() (*Config, error) {
	path, err := Find("")
	if err != nil {
		return nil, err
	}

	if path == "" {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	setDefaults(v)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	return cfg, nil
}

// setDefaults registers the values merged in for keys the file omits.
func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.max_connections", 10)
	v.SetDefault("pool.idle_timeout", "5m")
	v.SetDefault("pool.sweep_interval", "60s")
	v.SetDefault("reconnect.enabled", true)
	v.SetDefault("reconnect.max_attempts", 5)
	v.SetDefault("reconnect.initial_delay", "1s")
	v.SetDefault("reconnect.max_delay", "30s")
	v.SetDefault("reconnect.backoff_factor", 2.0)
	v.SetDefault("reconnect.jitter", true)
	v.SetDefault("security.allow_password_auth", true)
	v.SetDefault("security.allow_key_auth", true)
	v.SetDefault("security.allow_agent_auth", true)
	v.SetDefault("security.min_password_length", 8)
	v.SetDefault("security.max_connection_attempts", 5)
	v.SetDefault("security.connection_attempt_window", "1m")
	v.SetDefault("connection.dial_timeout", "10s")
	v.SetDefault("connection.command_timeout", "30s")
	v.SetDefault("connection.keep_alive", "30s")
}
