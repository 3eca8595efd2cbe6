// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"github.com/toeirei/clustertrust/internal/model"
	"golang.org/x/crypto/ssh"
)

// SSHServer is an SSH server on loopback whose SFTP subsystem is rooted at
// Home, standing in for a cluster node.
type SSHServer struct {
	Host    string
	Port    int
	Home    string
	HostKey ssh.PublicKey

	readOnly bool
	logins   atomic.Int64
}

// ServerOption customizes an SSHServer.
type ServerOption func(*SSHServer)

// ReadOnly makes every SFTP write fail with permission denied.
func ReadOnly() ServerOption {
	return func(s *SSHServer) { s.readOnly = true }
}

// NewSSHServer starts a server that accepts only clients presenting
// authorized. It is shut down when the test ends.
func NewSSHServer(t testing.TB, authorized ssh.PublicKey, opts ...ServerOption) *SSHServer {
	t.Helper()
	s := &SSHServer{Home: t.TempDir()}
	for _, o := range opts {
		o(s)
	}

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	s.HostKey = hostSigner.PublicKey()

	want := authorized.Marshal()
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), want) {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.Host, s.Port = splitAddr(t, ln.Addr().String())

	var (
		mu    sync.Mutex
		conns []net.Conn
		wg    sync.WaitGroup
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleConn(c, config)
			}()
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		<-done
		mu.Lock()
		for _, c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
		wg.Wait()
	})
	return s
}

// Address returns the node address of the server.
func (s *SSHServer) Address() model.NodeAddress {
	return model.NodeAddress{Host: s.Host, Port: s.Port}
}

// Logins returns the number of completed SSH handshakes.
func (s *SSHServer) Logins() int64 { return s.logins.Load() }

// Path returns the local path of a file relative to Home.
func (s *SSHServer) Path(rel string) string {
	return filepath.Join(s.Home, filepath.FromSlash(rel))
}

// ReadFile returns the content of a file relative to Home.
func (s *SSHServer) ReadFile(t testing.TB, rel string) []byte {
	t.Helper()
	b, err := os.ReadFile(s.Path(rel))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return b
}

// WriteFile creates a file relative to Home, including parent directories.
func (s *SSHServer) WriteFile(t testing.TB, rel string, data []byte, perm os.FileMode) {
	t.Helper()
	p := s.Path(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, data, perm); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func (s *SSHServer) handleConn(c net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(c, config)
	if err != nil {
		_ = c.Close()
		return
	}
	defer sshConn.Close()
	s.logins.Add(1)
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *SSHServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "subsystem" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Name string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		opts := []sftp.ServerOption{sftp.WithServerWorkingDirectory(s.Home)}
		if s.readOnly {
			opts = append(opts, sftp.ReadOnly())
		}
		server, err := sftp.NewServer(ch, opts...)
		if err != nil {
			return
		}
		if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
			_ = server.Close()
		}
		return
	}
}
