//go:build !windows
// +build !windows

// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package sshagent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/toeirei/clustertrust/internal/installer"
	"github.com/toeirei/clustertrust/internal/testutil"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

func TestDial_ListsKeyringSigners(t *testing.T) {
	ta := testutil.NewAgent(t)
	sock := ta.Serve(t)

	ag, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer ag.Close()

	signers, err := ag.Signers()
	if err != nil {
		t.Fatalf("Signers failed: %v", err)
	}
	if len(signers) != 1 {
		t.Fatalf("expected 1 signer, got %d", len(signers))
	}
	if string(signers[0].PublicKey().Marshal()) != string(ta.PublicKey.Marshal()) {
		t.Fatalf("agent returned an unexpected key")
	}
}

func TestDial_Errors(t *testing.T) {
	if _, err := Dial(""); !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent for empty socket, got %v", err)
	}
	if _, err := Dial(filepath.Join(t.TempDir(), "missing.sock")); !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent for missing socket, got %v", err)
	}
}

func writeIdentity(t *testing.T) (string, ssh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}
	idFile := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(idFile, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return idFile, signer.PublicKey()
}

func TestAuthMethods_Errors(t *testing.T) {
	if _, err := AuthMethods(nil, ""); !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent without credentials, got %v", err)
	}
	if _, err := AuthMethods(nil, filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing identity file")
	}
}

func TestAuthMethods_ReachesNode(t *testing.T) {
	ta := testutil.NewAgent(t)
	idFile, idKey := writeIdentity(t)

	tests := []struct {
		name       string
		withAgent  bool
		identity   string
		authorized ssh.PublicKey
	}{
		{"agent key", true, "", ta.PublicKey},
		{"identity key with agent connected", true, idFile, idKey},
		{"agent key with identity configured", true, idFile, ta.PublicKey},
		{"identity key without agent", false, idFile, idKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ag agent.Agent
			if tt.withAgent {
				conn, err := Dial(ta.Serve(t))
				if err != nil {
					t.Fatalf("Dial: %v", err)
				}
				defer conn.Close()
				ag = conn
			}
			methods, err := AuthMethods(ag, tt.identity)
			if err != nil {
				t.Fatalf("AuthMethods: %v", err)
			}

			srv := testutil.NewSSHServer(t, tt.authorized)
			hk, err := installer.HostKeyCallback(true)
			if err != nil {
				t.Fatalf("HostKeyCallback: %v", err)
			}
			inst, err := installer.New(installer.Config{User: "tester", Auth: methods, HostKeyCallback: hk, Timeout: 5 * time.Second})
			if err != nil {
				t.Fatalf("installer.New: %v", err)
			}
			line := ssh.MarshalAuthorizedKey(idKey)
			if res := inst.Install(context.Background(), srv.Address(), line); !res.OK() {
				t.Fatalf("install failed: %v", res.Err)
			}
		})
	}
}
