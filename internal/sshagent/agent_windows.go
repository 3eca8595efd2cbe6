//go:build windows
// +build windows

// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package sshagent

import (
	"fmt"
	"io"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

const defaultPipe = `\\.\pipe\openssh-ssh-agent`

// dial tries Pageant-compatible agents first when no socket is configured,
// then the OpenSSH for Windows named pipe.
func dial(socket string) (agent.Agent, io.Closer, error) {
	if socket == "" && pageant.Available() {
		return pageant.New(), nil, nil
	}
	if socket == "" {
		socket = defaultPipe
	}
	conn, err := winio.DialPipe(socket, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoAgent, err)
	}
	return agent.NewClient(conn), conn, nil
}
