// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package installer connects to a single node over SSH and makes sure the
// cluster public key is listed in that node's authorized_keys file.
//
// All remote file work goes through SFTP so the installer also works against
// accounts restricted to internal-sftp. The file is only rewritten when the
// key is missing, and then via upload to a temporary file and rename.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/toeirei/clustertrust/internal/logging"
	"github.com/toeirei/clustertrust/internal/model"
	"github.com/toeirei/clustertrust/internal/sshkey"
	"golang.org/x/crypto/ssh"
)

const (
	// DefaultAuthorizedKeysPath is relative to the remote user's home.
	DefaultAuthorizedKeysPath = ".ssh/authorized_keys"
	// DefaultUser is the login used for nodes without a user override.
	DefaultUser = "root"

	tempPrefix = ".authorized_keys.clustertrust."
)

// Config describes how nodes are reached.
type Config struct {
	// User is the remote login unless the node address names one.
	User string
	// Auth holds the ambient credentials, typically the agent's signers.
	Auth []ssh.AuthMethod
	// HostKeyCallback verifies node host keys. Required.
	HostKeyCallback ssh.HostKeyCallback
	// AuthorizedKeysPath is the remote store, relative to the login's home
	// unless absolute.
	AuthorizedKeysPath string
	// Timeout bounds one Install call, connection included. Zero means the
	// caller's context is the only limit.
	Timeout time.Duration
}

// Installer installs a public key on one node per call. It is safe for
// concurrent use by multiple goroutines.
type Installer struct {
	cfg    Config
	dialer net.Dialer
}

// New validates cfg and returns an Installer.
func New(cfg Config) (*Installer, error) {
	if len(cfg.Auth) == 0 {
		return nil, &model.ConfigError{Field: "ssh.auth", Err: errors.New("no authentication method available")}
	}
	if cfg.HostKeyCallback == nil {
		return nil, &model.ConfigError{Field: "ssh.known_hosts", Err: errors.New("no host key policy configured")}
	}
	if cfg.User == "" {
		cfg.User = DefaultUser
	}
	if cfg.AuthorizedKeysPath == "" {
		cfg.AuthorizedKeysPath = DefaultAuthorizedKeysPath
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	return &Installer{cfg: cfg}, nil
}

// Install ensures publicKey (an authorized_keys line) is present on node.
// Failures are reported in the returned NodeResult, typically as
// ConnectionError, PermissionError or TimeoutError.
func (i *Installer) Install(ctx context.Context, node model.NodeAddress, publicKey []byte) model.NodeResult {
	start := time.Now()
	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()
	}

	status, err := i.install(ctx, node, publicKey)
	res := model.NodeResult{Node: node, Status: status, Attempts: 1, Duration: time.Since(start)}
	if err != nil {
		res.Status = model.NodeFailed
		res.Err = err
		logging.Debugf("install on %s failed after %s: %v", node, res.Duration.Round(time.Millisecond), err)
		return res
	}
	logging.Debugf("install on %s: %s", node, status)
	return res
}

func (i *Installer) install(ctx context.Context, node model.NodeAddress, publicKey []byte) (model.NodeStatus, error) {
	if _, err := sshkey.ParsePublicKey(publicKey); err != nil {
		return "", fmt.Errorf("invalid cluster public key: %w", err)
	}

	client, err := i.connect(ctx, node)
	if err != nil {
		return "", err
	}
	defer client.Close()

	// Closing the client aborts SFTP requests still in flight.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	status, err := i.ensureKey(client, node, publicKey)
	if err != nil && ctx.Err() != nil {
		return "", i.timeoutError(ctx, node)
	}
	return status, err
}

// connect dials node and completes the SSH handshake within ctx.
func (i *Installer) connect(ctx context.Context, node model.NodeAddress) (*ssh.Client, error) {
	addr := node.HostPort()
	user := node.User
	if user == "" {
		user = i.cfg.User
	}

	conn, err := i.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, i.connectError(ctx, node, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            i.cfg.Auth,
		HostKeyCallback: i.cfg.HostKeyCallback,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, i.connectError(ctx, node, err)
	}
	if ctx.Err() != nil {
		_ = sshConn.Close()
		return nil, i.timeoutError(ctx, node)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (i *Installer) connectError(ctx context.Context, node model.NodeAddress, err error) error {
	if ctx.Err() != nil {
		return i.timeoutError(ctx, node)
	}
	if IsConnectionTimeoutError(err) {
		return &model.TimeoutError{Node: node.String(), After: i.cfg.Timeout, Err: err}
	}
	return ClassifyConnectionError(node.String(), err)
}

func (i *Installer) timeoutError(ctx context.Context, node model.NodeAddress) error {
	var after time.Duration
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		after = i.cfg.Timeout
	}
	return &model.TimeoutError{Node: node.String(), After: after, Err: ctx.Err()}
}

// ensureKey runs the read, check and write steps over one SFTP session.
func (i *Installer) ensureKey(client *ssh.Client, node model.NodeAddress, publicKey []byte) (model.NodeStatus, error) {
	sc, err := sftp.NewClient(client)
	if err != nil {
		return "", &model.ConnectionError{Node: node.String(), Reason: ReasonSFTP, Err: err}
	}
	defer sc.Close()

	p := i.cfg.AuthorizedKeysPath
	content, err := readRemote(sc, p)
	if err != nil {
		return "", remoteError(node.String(), "read", p, err)
	}

	updated, changed, err := sshkey.Ensure(content, publicKey)
	if err != nil {
		return "", err
	}
	if !changed {
		warnExistingEntry(node, content, publicKey)
		return model.NodePresent, nil
	}

	dir := path.Dir(p)
	if err := ensureRemoteDir(sc, dir); err != nil {
		return "", remoteError(node.String(), "mkdir", dir, err)
	}
	if err := writeRemoteAtomic(sc, p, updated); err != nil {
		return "", remoteError(node.String(), "write", p, err)
	}
	return model.NodeInstalled, nil
}

// warnExistingEntry reports an existing cluster key entry that carries
// options or is listed more than once. The entry is left as it is.
func warnExistingEntry(node model.NodeAddress, content, publicKey []byte) {
	key, err := sshkey.ParsePublicKey(publicKey)
	if err != nil {
		return
	}
	if opts, _ := sshkey.KeyOptions(content, key); opts != "" {
		logging.Warnf("%s: cluster key is present with options %q; later commands may be restricted", node, opts)
	}
	if n := sshkey.CountKey(content, key); n > 1 {
		logging.Warnf("%s: cluster key is listed %d times", node, n)
	}
}

// readRemote returns the file content, or nil when it does not exist.
func readRemote(sc *sftp.Client, p string) ([]byte, error) {
	f, err := sc.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ensureRemoteDir creates dir with mode 0700 when it is missing. An existing
// directory keeps its permissions.
func ensureRemoteDir(sc *sftp.Client, dir string) error {
	if dir == "." || dir == "/" {
		return nil
	}
	info, err := sc.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := sc.MkdirAll(dir); err != nil {
		return err
	}
	return sc.Chmod(dir, 0o700)
}

// writeRemoteAtomic uploads data next to p and renames it over p. The
// temporary file is removed on any failure.
func writeRemoteAtomic(sc *sftp.Client, p string, data []byte) (err error) {
	tmp := path.Join(path.Dir(p), fmt.Sprintf("%s%d", tempPrefix, time.Now().UnixNano()))
	defer func() {
		if err != nil {
			_ = sc.Remove(tmp)
		}
	}()

	f, err := sc.Create(tmp)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = sc.Chmod(tmp, 0o600); err != nil {
		return err
	}
	if err = sc.PosixRename(tmp, p); err != nil {
		// Servers without the posix-rename extension.
		if rerr := sc.Rename(tmp, p); rerr != nil {
			return err
		}
	}
	return nil
}
