// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/toeirei/clustertrust/internal/db"
	"github.com/toeirei/clustertrust/internal/installer"
	"github.com/toeirei/clustertrust/internal/keypair"
	"github.com/toeirei/clustertrust/internal/logging"
	"github.com/toeirei/clustertrust/internal/model"
	"github.com/toeirei/clustertrust/internal/sshagent"
	"golang.org/x/crypto/ssh/agent"
)

func (a *app) keyStore() *keypair.Store {
	return keypair.NewStore(a.cfg.KeyDir, keypair.WithComment(a.cfg.KeyComment))
}

// newInstaller wires the agent, host key policy and installer settings. The
// returned func releases the agent connection.
func (a *app) newInstaller() (*installer.Installer, func(), error) {
	sock := a.cfg.SSH.AuthSock
	if sock == "" {
		sock = sshagent.DefaultSocket()
	}

	release := func() {}
	var ag agent.Agent
	if conn, err := sshagent.Dial(sock); err == nil {
		ag = conn
		release = func() { _ = conn.Close() }
	} else {
		logging.Debugf("ssh agent unavailable: %v", err)
	}

	auth, err := sshagent.AuthMethods(ag, a.cfg.SSH.IdentityFile)
	if err != nil {
		release()
		return nil, nil, &model.ConfigError{Field: "ssh.auth_sock", Err: err}
	}

	knownHosts := a.cfg.SSH.KnownHosts
	if knownHosts == "" {
		knownHosts = installer.DefaultKnownHostsPath()
	}
	hostKeys, err := installer.HostKeyCallback(a.cfg.SSH.InsecureIgnoreHostKey, knownHosts)
	if err != nil {
		release()
		return nil, nil, err
	}

	inst, err := installer.New(installer.Config{
		User:               a.cfg.SSH.User,
		Auth:               auth,
		HostKeyCallback:    hostKeys,
		AuthorizedKeysPath: a.cfg.SSH.AuthorizedKeysPath,
		Timeout:            a.cfg.Provision.NodeTimeout,
	})
	if err != nil {
		release()
		return nil, nil, err
	}
	return inst, release, nil
}

// openHistory opens the history store, or returns nil when history is
// disabled.
func (a *app) openHistory() (db.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	dsn := a.cfg.Database.Dsn
	if a.cfg.Database.Type == "sqlite" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, &model.StorageError{Op: "mkdir", Path: filepath.Dir(dsn), Err: err}
		}
	}
	return db.NewStoreFromDSN(a.cfg.Database.Type, dsn)
}
