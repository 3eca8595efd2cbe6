// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/toeirei/clustertrust/internal/logging"
	"github.com/toeirei/clustertrust/internal/model"
)

// Config is the resolved clustertrust configuration.
type Config struct {
	KeyDir     string          `mapstructure:"key_dir" yaml:"key_dir"`
	KeyComment string          `mapstructure:"key_comment" yaml:"key_comment"`
	SSH        SSHConfig       `mapstructure:"ssh" yaml:"ssh"`
	Provision  ProvisionConfig `mapstructure:"provision" yaml:"provision"`
	Database   DatabaseConfig  `mapstructure:"database" yaml:"database"`
	History    HistoryConfig   `mapstructure:"history" yaml:"history"`
	Language   string          `mapstructure:"language" yaml:"language"`
	LogLevel   string          `mapstructure:"log_level" yaml:"log_level"`
}

// SSHConfig controls how nodes are reached.
type SSHConfig struct {
	User                  string `mapstructure:"user" yaml:"user"`
	Port                  int    `mapstructure:"port" yaml:"port"`
	AuthSock              string `mapstructure:"auth_sock" yaml:"auth_sock,omitempty"`
	IdentityFile          string `mapstructure:"identity_file" yaml:"identity_file,omitempty"`
	KnownHosts            string `mapstructure:"known_hosts" yaml:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`
	AuthorizedKeysPath    string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path"`
}

// ProvisionConfig tunes a provisioning run.
type ProvisionConfig struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	NodeTimeout time.Duration `mapstructure:"node_timeout" yaml:"node_timeout"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries     int           `mapstructure:"retries" yaml:"retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	RequireAll  bool          `mapstructure:"require_all" yaml:"require_all"`
}

// DatabaseConfig selects the history backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// HistoryConfig toggles run history.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultKeyDir is where the cluster keypair lives unless configured.
func DefaultKeyDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".clustertrust"
	}
	return filepath.Join(dir, "clustertrust")
}

// Defaults returns the default value of every configuration key.
func Defaults() map[string]any {
	keyDir := DefaultKeyDir()
	return map[string]any{
		"key_dir":                      keyDir,
		"key_comment":                  "clustertrust",
		"ssh.user":                     "root",
		"ssh.port":                     model.DefaultSSHPort,
		"ssh.auth_sock":                "",
		"ssh.identity_file":            "",
		"ssh.known_hosts":              "",
		"ssh.insecure_ignore_host_key": false,
		"ssh.authorized_keys_path":     ".ssh/authorized_keys",
		"provision.concurrency":        0,
		"provision.node_timeout":       "30s",
		"provision.timeout":            "0s",
		"provision.retries":            0,
		"provision.retry_delay":        "2s",
		"provision.require_all":        false,
		"database.type":                "sqlite",
		"database.dsn":                 filepath.Join(keyDir, "history.db"),
		"history.enabled":              true,
		"language":                     "en",
		"log_level":                    "info",
	}
}

var databaseTypes = []string{"sqlite", "postgres", "mysql"}

// Validate reports the first invalid setting as a *model.ConfigError.
func (c Config) Validate() error {
	switch {
	case c.KeyDir == "":
		return &model.ConfigError{Field: "key_dir", Err: errors.New("must not be empty")}
	case c.SSH.Port < 1 || c.SSH.Port > 65535:
		return &model.ConfigError{Field: "ssh.port", Err: fmt.Errorf("port %d out of range", c.SSH.Port)}
	case c.Provision.Concurrency < 0:
		return &model.ConfigError{Field: "provision.concurrency", Err: errors.New("must not be negative")}
	case c.Provision.Retries < 0:
		return &model.ConfigError{Field: "provision.retries", Err: errors.New("must not be negative")}
	case c.Provision.NodeTimeout < 0 || c.Provision.Timeout < 0 || c.Provision.RetryDelay < 0:
		return &model.ConfigError{Field: "provision", Err: errors.New("durations must not be negative")}
	case c.History.Enabled && !slices.Contains(databaseTypes, c.Database.Type):
		return &model.ConfigError{Field: "database.type", Err: fmt.Errorf("unsupported database type %q", c.Database.Type)}
	case !c.SSH.InsecureIgnoreHostKey && c.SSH.KnownHosts != "":
		if _, err := os.Stat(c.SSH.KnownHosts); err != nil {
			return &model.ConfigError{Field: "ssh.known_hosts", Err: err}
		}
	}
	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			return &model.ConfigError{Field: "log_level", Err: err}
		}
	}
	return nil
}

func cfgLogf(format string, v ...any) {
	logging.Debugf("config: "+format, v...)
}
