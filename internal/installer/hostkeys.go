// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package installer

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/toeirei/clustertrust/internal/logging"
	"github.com/toeirei/clustertrust/internal/model"
	"github.com/toeirei/clustertrust/internal/sshkey"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var errHostKeyRejected = errors.New("host key rejected")

// DefaultKnownHostsPath returns ~/.ssh/known_hosts, or "" when the home
// directory cannot be determined.
func DefaultKnownHostsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

// HostKeyCallback builds the host key policy. With insecure set every host
// key is accepted after a single warning; otherwise keys are verified against
// the given known_hosts files.
func HostKeyCallback(insecure bool, knownHostsFiles ...string) (ssh.HostKeyCallback, error) {
	var cb ssh.HostKeyCallback
	if insecure {
		logging.Warnf("host key verification is disabled; nodes are trusted on first contact")
		cb = func(hostname string, _ net.Addr, key ssh.PublicKey) error {
			logging.Debugf("accepting %s host key %s for %s", key.Type(), ssh.FingerprintSHA256(key), hostname)
			return nil
		}
	} else {
		files := make([]string, 0, len(knownHostsFiles))
		for _, f := range knownHostsFiles {
			if f != "" {
				files = append(files, f)
			}
		}
		if len(files) == 0 {
			return nil, &model.ConfigError{Field: "ssh.known_hosts", Err: errors.New("no known_hosts file configured")}
		}
		kh, err := knownhosts.New(files...)
		if err != nil {
			return nil, &model.ConfigError{Field: "ssh.known_hosts", Err: err}
		}
		cb = func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if err := kh(hostname, remote, key); err != nil {
				return fmt.Errorf("%w for %s: %w", errHostKeyRejected, hostname, err)
			}
			return nil
		}
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if warn := sshkey.CheckHostKeyAlgorithm(key); warn != "" {
			logging.Warnf("%s: %s", hostname, warn)
		}
		return cb(hostname, remote, key)
	}, nil
}
