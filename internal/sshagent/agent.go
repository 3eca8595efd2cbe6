// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshagent connects to the SSH agent that holds the ambient credential
// used to reach cluster nodes. The socket location is always passed in
// explicitly; only the CLI consults SSH_AUTH_SOCK.
package sshagent

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// EnvAuthSock is the conventional environment variable naming the agent socket.
const EnvAuthSock = "SSH_AUTH_SOCK"

// ErrNoAgent is returned when no agent can be reached.
var ErrNoAgent = errors.New("no SSH agent available")

// Agent is a connected SSH agent.
type Agent struct {
	agent.Agent
	closer io.Closer
}

// Close releases the agent connection.
func (a *Agent) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Dial connects to the agent listening on socket. On Windows an empty socket
// selects Pageant or the default OpenSSH pipe.
func Dial(socket string) (*Agent, error) {
	ag, closer, err := dial(socket)
	if err != nil {
		return nil, err
	}
	return &Agent{Agent: ag, closer: closer}, nil
}

// DefaultSocket returns the socket named by SSH_AUTH_SOCK, or "".
func DefaultSocket() string {
	return os.Getenv(EnvAuthSock)
}

// AuthMethods builds the client auth method: every signer the agent holds,
// followed by the key in identityFile when one is configured. All signers go
// through a single publickey method because the ssh client tries each method
// name only once.
func AuthMethods(ag agent.Agent, identityFile string) ([]ssh.AuthMethod, error) {
	var identity ssh.Signer
	if identityFile != "" {
		pem, err := os.ReadFile(identityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		identity, err = ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse identity file %s: %w", identityFile, err)
		}
	}
	if ag == nil && identity == nil {
		return nil, ErrNoAgent
	}
	return []ssh.AuthMethod{ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
		return collectSigners(ag, identity)
	})}, nil
}

// collectSigners lists the agent's signers followed by identity. An agent that
// fails to answer is skipped when identity can still be offered.
func collectSigners(ag agent.Agent, identity ssh.Signer) ([]ssh.Signer, error) {
	var signers []ssh.Signer
	if ag != nil {
		fromAgent, err := ag.Signers()
		if err != nil && identity == nil {
			return nil, err
		}
		signers = append(signers, fromAgent...)
	}
	if identity != nil {
		signers = append(signers, identity)
	}
	return signers, nil
}
