// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil provides in-process SSH fixtures for tests: an SSH server
// that serves SFTP out of a temporary home directory, an in-memory agent and
// listeners that misbehave in useful ways.
package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"strconv"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Agent is an in-memory SSH agent holding one ed25519 identity.
type Agent struct {
	Keyring   agent.Agent
	PublicKey ssh.PublicKey
}

// NewAgent returns an agent keyring loaded with a fresh key.
func NewAgent(t testing.TB) *Agent {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate agent key: %v", err)
	}
	keyring := agent.NewKeyring()
	if err := keyring.Add(agent.AddedKey{PrivateKey: priv, Comment: "testutil"}); err != nil {
		t.Fatalf("add agent key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return &Agent{Keyring: keyring, PublicKey: signer.PublicKey()}
}

// AuthMethods returns the client auth methods backed by the keyring.
func (a *Agent) AuthMethods() []ssh.AuthMethod {
	return []ssh.AuthMethod{ssh.PublicKeysCallback(a.Keyring.Signers)}
}

// ClosedPort returns a loopback address on which nothing listens.
func ClosedPort(t testing.TB) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port = splitAddr(t, ln.Addr().String())
	_ = ln.Close()
	return host, port
}

// SilentListener accepts TCP connections and never speaks SSH, so clients
// block in the handshake until their deadline.
func SilentListener(t testing.TB) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	var conns []net.Conn
	go func() {
		defer close(done)
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, c)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return splitAddr(t, ln.Addr().String())
}

func splitAddr(t testing.TB, addr string) (string, int) {
	t.Helper()
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %s: %v", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatalf("port %s: %v", p, err)
	}
	return host, port
}
