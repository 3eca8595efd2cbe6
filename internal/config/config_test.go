// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/cobra"
	cfg "github.com/toeirei/clustertrust/internal/config"
	"github.com/toeirei/clustertrust/internal/model"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	return tmp
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)
	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.SSH.Port != 22 || c.SSH.User != "root" {
		t.Fatalf("unexpected ssh defaults: %+v", c.SSH)
	}
	if c.Provision.NodeTimeout != 30*time.Second || c.Provision.RetryDelay != 2*time.Second {
		t.Fatalf("unexpected provision defaults: %+v", c.Provision)
	}
	if !c.History.Enabled || c.Database.Type != "sqlite" {
		t.Fatalf("unexpected history defaults: %+v %+v", c.History, c.Database)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadConfig_ReadsExplicitFile(t *testing.T) {
	tmp := isolate(t)
	file := writeFile(t, tmp, "cfg.yaml", `
key_dir: /srv/keys
ssh:
  user: deploy
  port: 2222
provision:
  concurrency: 4
  node_timeout: 5s
  require_all: true
database:
  type: postgres
  dsn: postgresql://user@/db
language: de
`)

	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.KeyDir != "/srv/keys" || c.SSH.User != "deploy" || c.SSH.Port != 2222 {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.Provision.Concurrency != 4 || c.Provision.NodeTimeout != 5*time.Second || !c.Provision.RequireAll {
		t.Fatalf("provision values not applied: %+v", c.Provision)
	}
	if c.Database.Type != "postgres" || c.Language != "de" {
		t.Fatalf("unexpected database/language: %+v %q", c.Database, c.Language)
	}
	// Keys absent from the file keep their defaults.
	if c.SSH.AuthorizedKeysPath != ".ssh/authorized_keys" {
		t.Fatalf("default lost: %q", c.SSH.AuthorizedKeysPath)
	}
}

func TestLoadConfig_SearchesUserConfigDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only drives os.UserConfigDir on linux")
	}
	tmp := isolate(t)
	dir := filepath.Join(tmp, "clustertrust")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, dir, "clustertrust.yaml", "ssh:\n  user: found\n")

	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.SSH.User != "found" {
		t.Fatalf("user config file not used, user = %q", c.SSH.User)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	tmp := isolate(t)
	file := writeFile(t, tmp, "cfg.yaml", "ssh:\n  user: deploy\nprovision:\n  retries: 1\n")
	t.Setenv("CLUSTERTRUST_SSH_USER", "ops")
	t.Setenv("CLUSTERTRUST_PROVISION_RETRIES", "3")

	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.SSH.User != "ops" || c.Provision.Retries != 3 {
		t.Fatalf("env overrides not applied: user=%q retries=%d", c.SSH.User, c.Provision.Retries)
	}
}

func TestLoadConfig_FlagBindings(t *testing.T) {
	tmp := isolate(t)
	file := writeFile(t, tmp, "cfg.yaml", "provision:\n  concurrency: 4\n  retries: 2\n")

	cmd := &cobra.Command{Use: "provision"}
	cmd.Flags().Int("concurrency", 0, "")
	cmd.Flags().Int("retries", 0, "")
	if err := cmd.Flags().Set("concurrency", "7"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	c, err := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), &file,
		cfg.FlagBinding{Key: "provision.concurrency", Flag: "concurrency"},
		cfg.FlagBinding{Key: "provision.retries", Flag: "retries"},
		cfg.FlagBinding{Key: "provision.timeout", Flag: "missing"},
	)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Provision.Concurrency != 7 {
		t.Fatalf("changed flag should win, concurrency = %d", c.Provision.Concurrency)
	}
	if c.Provision.Retries != 2 {
		t.Fatalf("unchanged flag must not override the file, retries = %d", c.Provision.Retries)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	tmp := isolate(t)
	file := writeFile(t, tmp, "cfg.yaml", "ssh: [unterminated\n")
	if _, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file); err == nil {
		t.Fatalf("expected error for malformed configuration")
	}
}

func TestWriteConfigFileTo_RoundTrip(t *testing.T) {
	tmp := isolate(t)
	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	c.SSH.User = "deploy"
	c.Provision.NodeTimeout = 45 * time.Second

	path := filepath.Join(tmp, "nested", "clustertrust.yaml")
	if err := cfg.WriteConfigFileTo(&c, path); err != nil {
		t.Fatalf("WriteConfigFileTo: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o600 {
		t.Fatalf("config file perm = %o, want 600", info.Mode().Perm())
	}

	back, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if back.SSH.User != "deploy" || back.Provision.NodeTimeout != 45*time.Second {
		t.Fatalf("round trip lost values: %+v", back)
	}
}

func TestWriteConfigFile_UserPath(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only drives os.UserConfigDir on linux")
	}
	isolate(t)
	c := cfg.Config{Language: "en"}
	path, err := cfg.WriteConfigFile(&c, false)
	if err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}
	want, _ := cfg.GetConfigPath(false)
	if path != want {
		t.Fatalf("wrote %s, want %s", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file at %s: %v", path, err)
	}
}

func TestValidate(t *testing.T) {
	base := func() cfg.Config {
		return cfg.Config{
			KeyDir:   "/keys",
			SSH:      cfg.SSHConfig{Port: 22},
			Database: cfg.DatabaseConfig{Type: "sqlite"},
			History:  cfg.HistoryConfig{Enabled: true},
			LogLevel: "info",
		}
	}
	tests := []struct {
		name   string
		mutate func(*cfg.Config)
		field  string
	}{
		{"valid", func(*cfg.Config) {}, ""},
		{"empty key dir", func(c *cfg.Config) { c.KeyDir = "" }, "key_dir"},
		{"port zero", func(c *cfg.Config) { c.SSH.Port = 0 }, "ssh.port"},
		{"port too large", func(c *cfg.Config) { c.SSH.Port = 70000 }, "ssh.port"},
		{"negative concurrency", func(c *cfg.Config) { c.Provision.Concurrency = -1 }, "provision.concurrency"},
		{"negative retries", func(c *cfg.Config) { c.Provision.Retries = -2 }, "provision.retries"},
		{"negative timeout", func(c *cfg.Config) { c.Provision.NodeTimeout = -time.Second }, "provision"},
		{"unknown database", func(c *cfg.Config) { c.Database.Type = "oracle" }, "database.type"},
		{"unknown database without history", func(c *cfg.Config) { c.Database.Type = "oracle"; c.History.Enabled = false }, ""},
		{"missing known_hosts", func(c *cfg.Config) { c.SSH.KnownHosts = "/nonexistent/known_hosts" }, "ssh.known_hosts"},
		{"bad log level", func(c *cfg.Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			err := c.Validate()
			if tc.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			ce, ok := err.(*model.ConfigError)
			if !ok || ce.Field != tc.field {
				t.Fatalf("expected config error for %s, got %v", tc.field, err)
			}
		})
	}
}
