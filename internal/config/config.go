// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads clustertrust settings from defaults, configuration
// files, CLUSTERTRUST_* environment variables and command line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// FileName is the configuration file name without extension.
	FileName = "clustertrust"
	// EnvPrefix prefixes environment overrides, e.g. CLUSTERTRUST_SSH_USER.
	EnvPrefix = "clustertrust"
)

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Clustertrust")
		default: // Linux, macOS, etc.
			configDir = "/etc/clustertrust"
		}
	} else {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(dir, "clustertrust")
	}
	return filepath.Join(configDir, FileName+".yaml"), nil
}

// FlagBinding maps a command line flag onto a configuration key whose name
// differs from the flag's, e.g. --concurrency onto provision.concurrency.
type FlagBinding struct {
	Key  string
	Flag string
}

// LoadConfig resolves the configuration into T. explicitPath, when set,
// replaces the search of the standard locations. Flags are bound by name and
// through bindings; only flags the user changed override other sources.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, explicitPath *string, bindings ...FlagBinding) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	if explicitPath != nil && *explicitPath != "" {
		v.SetConfigFile(*explicitPath)
	} else {
		if userConfigPath, err := GetConfigPath(false); err == nil {
			v.AddConfigPath(filepath.Dir(userConfigPath))
		}
		if systemConfigPath, err := GetConfigPath(true); err == nil {
			v.AddConfigPath(filepath.Dir(systemConfigPath))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("failed to read configuration: %w", err)
		}
	} else {
		cfgLogf("using configuration file %s", v.ConfigFileUsed())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
		for _, b := range bindings {
			f := cmd.Flags().Lookup(b.Flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(b.Key, f); err != nil {
				return c, err
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return c, nil
}

// WriteConfigFile persists c as YAML to the user or system configuration
// path and returns the path written.
func WriteConfigFile[T any](c *T, system bool) (string, error) {
	path, err := GetConfigPath(system)
	if err != nil {
		return "", err
	}
	return path, WriteConfigFileTo(c, path)
}

// WriteConfigFileTo persists c as YAML at path with mode 0600.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	// The file may carry a database DSN with credentials.
	return os.WriteFile(path, data, 0o600)
}
