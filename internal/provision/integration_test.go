// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package provision_test

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/toeirei/clustertrust/internal/deployment"
	"github.com/toeirei/clustertrust/internal/installer"
	"github.com/toeirei/clustertrust/internal/keypair"
	"github.com/toeirei/clustertrust/internal/model"
	"github.com/toeirei/clustertrust/internal/provision"
	"github.com/toeirei/clustertrust/internal/testutil"
)

func newInstaller(t *testing.T, ag *testutil.Agent, timeout time.Duration) *installer.Installer {
	t.Helper()
	hk, err := installer.HostKeyCallback(true)
	if err != nil {
		t.Fatalf("HostKeyCallback: %v", err)
	}
	inst, err := installer.New(installer.Config{
		User:            "tester",
		Auth:            ag.AuthMethods(),
		HostKeyCallback: hk,
		Timeout:         timeout,
	})
	if err != nil {
		t.Fatalf("installer.New: %v", err)
	}
	return inst
}

func placement(nodes ...model.NodeAddress) deployment.Model {
	m := deployment.Model{Nodes: map[string][]string{}}
	for _, n := range nodes {
		m.Nodes[n.String()] = []string{"web"}
	}
	return m
}

func TestProvision_EndToEndSingleNode(t *testing.T) {
	ag := testutil.NewAgent(t)
	srv := testutil.NewSSHServer(t, ag.PublicKey)
	store := keypair.NewStore(t.TempDir())

	p := provision.New(store, newInstaller(t, ag, 5*time.Second), provision.Options{RequireAll: true})
	report, err := p.Provision(context.Background(), placement(srv.Address()))
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if report.State != model.StateCompleted {
		t.Fatalf("state = %s", report.State)
	}

	_, pubPath := store.Paths()
	local, err := os.ReadFile(pubPath)
	if err != nil {
		t.Fatalf("read local public key: %v", err)
	}
	if remote := srv.ReadFile(t, installer.DefaultAuthorizedKeysPath); !bytes.Equal(remote, local) {
		t.Fatalf("remote store %q does not match local public key %q", remote, local)
	}

	// A second run finds the key in place.
	report, err = p.Provision(context.Background(), placement(srv.Address()))
	if err != nil || report.Nodes[0].Status != model.NodePresent {
		t.Fatalf("second run: %+v (%v)", report.Nodes, err)
	}
}

func TestProvision_UnreachableNodeIsIsolated(t *testing.T) {
	ag := testutil.NewAgent(t)
	first := testutil.NewSSHServer(t, ag.PublicKey)
	third := testutil.NewSSHServer(t, ag.PublicKey)
	host, port := testutil.ClosedPort(t)
	down := model.NodeAddress{Host: host, Port: port}

	p := provision.New(keypair.NewStore(t.TempDir()), newInstaller(t, ag, 5*time.Second), provision.Options{})
	report, err := p.Provision(context.Background(), placement(first.Address(), down, third.Address()))
	if err != nil {
		t.Fatalf("advisory run returned %v", err)
	}
	if report.State != model.StatePartiallyFailed {
		t.Fatalf("state = %s", report.State)
	}
	for _, n := range report.Nodes {
		if n.Node == down {
			if model.KindOf(n.Err) != model.KindConnection {
				t.Fatalf("down node: expected connection error, got %v", n.Err)
			}
			continue
		}
		if n.Status != model.NodeInstalled {
			t.Fatalf("%s: %s (%v)", n.Node, n.Status, n.Err)
		}
	}
	for _, srv := range []*testutil.SSHServer{first, third} {
		if len(srv.ReadFile(t, installer.DefaultAuthorizedKeysPath)) == 0 {
			t.Fatalf("%s did not receive the key", srv.Address())
		}
	}
}

func TestProvision_SilentNodeDoesNotBlockOthers(t *testing.T) {
	ag := testutil.NewAgent(t)
	healthy := testutil.NewSSHServer(t, ag.PublicKey)
	host, port := testutil.SilentListener(t)
	silent := model.NodeAddress{Host: host, Port: port}

	p := provision.New(keypair.NewStore(t.TempDir()), newInstaller(t, ag, time.Second), provision.Options{})
	start := time.Now()
	report, _ := p.Provision(context.Background(), placement(healthy.Address(), silent))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run took %s", elapsed)
	}

	for _, n := range report.Nodes {
		switch n.Node {
		case silent:
			if model.KindOf(n.Err) != model.KindTimeout {
				t.Fatalf("silent node: expected timeout, got %v", n.Err)
			}
		default:
			if !n.OK() {
				t.Fatalf("healthy node failed: %v", n.Err)
			}
		}
	}
}
