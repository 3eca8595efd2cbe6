//go:build !windows

// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/toeirei/clustertrust/internal/installer"
	"github.com/toeirei/clustertrust/internal/keypair"
	"github.com/toeirei/clustertrust/internal/testutil"
)

func TestProvisionCommand_EndToEnd(t *testing.T) {
	dir := isolate(t)
	ag := testutil.NewAgent(t)
	t.Setenv("CLUSTERTRUST_SSH_AUTH_SOCK", ag.Serve(t))
	srv1 := testutil.NewSSHServer(t, ag.PublicKey)
	srv2 := testutil.NewSSHServer(t, ag.PublicKey)
	keyDir := filepath.Join(dir, "keys")

	apps, deploy := writeDescriptors(t, dir, map[string][]string{
		srv1.Address().String(): {"web"},
		srv2.Address().String(): {"web", "db"},
	})
	args := []string{"provision", "-a", apps, "-d", deploy,
		"--key-dir", keyDir, "--user", "tester", "--insecure-ignore-host-key"}

	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("provision: %v\n%s", err, out)
	}
	if strings.Count(out, "installed") != 2 || !strings.Contains(out, "completed") {
		t.Fatalf("unexpected summary:\n%s", out)
	}

	pub, err := os.ReadFile(filepath.Join(keyDir, keypair.PublicKeyFile))
	if err != nil {
		t.Fatalf("read public key: %v", err)
	}
	for _, srv := range []*testutil.SSHServer{srv1, srv2} {
		if got := srv.ReadFile(t, installer.DefaultAuthorizedKeysPath); !bytes.Equal(got, pub) {
			t.Fatalf("remote store = %q, want %q", got, pub)
		}
	}

	out, err = runCLI(t, args...)
	if err != nil {
		t.Fatalf("second provision: %v\n%s", err, out)
	}
	if strings.Count(out, "already present") != 2 {
		t.Fatalf("expected both nodes already present:\n%s", out)
	}

	out, err = runCLI(t, "history", "list")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if strings.Count(out, "completed") != 2 {
		t.Fatalf("expected two recorded runs:\n%s", out)
	}
}

func TestProvisionCommand_PartialFailure(t *testing.T) {
	dir := isolate(t)
	ag := testutil.NewAgent(t)
	t.Setenv("CLUSTERTRUST_SSH_AUTH_SOCK", ag.Serve(t))
	srv := testutil.NewSSHServer(t, ag.PublicKey)
	host, port := testutil.ClosedPort(t)
	down := host + ":" + strconv.Itoa(port)

	apps, deploy := writeDescriptors(t, dir, map[string][]string{
		srv.Address().String(): {"web"},
		down:                   {"db"},
	})
	args := []string{"provision", "-a", apps, "-d", deploy,
		"--key-dir", filepath.Join(dir, "keys"), "--user", "tester", "--insecure-ignore-host-key"}

	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("advisory run should succeed, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "partially-failed") || !strings.Contains(out, "connection") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
	if len(srv.ReadFile(t, installer.DefaultAuthorizedKeysPath)) == 0 {
		t.Fatalf("healthy node was not provisioned")
	}

	out, err = runCLI(t, append(args, "--require-all")...)
	if ExitCode(err) != ExitFailure {
		t.Fatalf("expected exit code 1 with --require-all, got %d (%v)\n%s", ExitCode(err), err, out)
	}
}

func TestProvisionCommand_UnwritableKeyDirIsFatal(t *testing.T) {
	dir := isolate(t)
	ag := testutil.NewAgent(t)
	t.Setenv("CLUSTERTRUST_SSH_AUTH_SOCK", ag.Serve(t))
	srv := testutil.NewSSHServer(t, ag.PublicKey)

	// A regular file where the key directory should be.
	keyDir := filepath.Join(dir, "keys")
	if err := os.WriteFile(keyDir, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	apps, deploy := writeDescriptors(t, dir, map[string][]string{srv.Address().String(): {"web"}})

	out, err := runCLI(t, "provision", "-a", apps, "-d", deploy,
		"--key-dir", keyDir, "--user", "tester", "--insecure-ignore-host-key")
	if ExitCode(err) != ExitFailure {
		t.Fatalf("expected exit code 1, got %d (%v)", ExitCode(err), err)
	}
	if !strings.Contains(out, "failed") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if srv.Logins() != 0 {
		t.Fatalf("no node may be contacted after a fatal error")
	}
}
