//go:build !windows
// +build !windows

// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package sshagent

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/ssh/agent"
)

// dial connects to a Unix domain socket agent.
func dial(socket string) (agent.Agent, io.Closer, error) {
	if socket == "" {
		return nil, nil, ErrNoAgent
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoAgent, err)
	}
	return agent.NewClient(conn), conn, nil
}
