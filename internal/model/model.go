// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the value types shared by the provisioning packages:
// node addresses, the cluster keypair, per-node results and the run report.
package model

import (
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
)

// DefaultSSHPort is used for nodes whose address carries no explicit port.
const DefaultSSHPort = 22

// NodeAddress identifies one target node. User is an optional per-node login
// override; when empty the installer's configured user is used.
type NodeAddress struct {
	User string
	Host string
	Port int
}

// HostPort returns the dialable host:port form, bracketing IPv6 literals.
func (n NodeAddress) HostPort() string {
	port := n.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(n.Host, strconv.Itoa(port))
}

// String returns the canonical key of the node (user@host:port, user omitted
// when empty). Two addresses with the same key are the same node.
func (n NodeAddress) String() string {
	if n.User != "" {
		return n.User + "@" + n.HostPort()
	}
	return n.HostPort()
}

// Keypair is the cluster identity. PublicKey holds the exact bytes of the
// persisted public key file (authorized_keys format).
type Keypair struct {
	PrivateKeyPEM []byte
	PublicKey     []byte
	Fingerprint   string
}

// NodeStatus is the outcome class of a single node installation.
type NodeStatus string

const (
	// NodeInstalled means the key was appended to the node's store.
	NodeInstalled NodeStatus = "installed"
	// NodePresent means the key was already there and nothing was written.
	NodePresent NodeStatus = "present"
	// NodeFailed means the node could not be provisioned; see NodeResult.Err.
	NodeFailed NodeStatus = "failed"
)

// NodeResult is the per-node provisioning outcome.
type NodeResult struct {
	Node     NodeAddress
	Status   NodeStatus
	Err      error
	Attempts int
	Duration time.Duration
}

// OK reports whether the node trusts the cluster key after the run.
func (r NodeResult) OK() bool {
	return r.Status == NodeInstalled || r.Status == NodePresent
}

// State is a provisioning run state.
type State int

const (
	StateIdle State = iota
	StateKeypairReady
	StateDispatching
	StateJoining
	StateCompleted
	StatePartiallyFailed
	// StateFailed is terminal: a fatal precondition (storage or config)
	// failed and no node work was dispatched.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateKeypairReady:
		return "keypair-ready"
	case StateDispatching:
		return "dispatching"
	case StateJoining:
		return "joining"
	case StateCompleted:
		return "completed"
	case StatePartiallyFailed:
		return "partially-failed"
	case StateFailed:
		return "failed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StatePartiallyFailed || s == StateFailed
}

// Report is the aggregated outcome of one provisioning run.
type Report struct {
	State       State
	Fatal       error
	Nodes       []NodeResult
	Fingerprint string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// SortNodes orders the node results by canonical node key.
func (r *Report) SortNodes() {
	sort.Slice(r.Nodes, func(i, j int) bool {
		return r.Nodes[i].Node.String() < r.Nodes[j].Node.String()
	})
}

// Succeeded returns the results of nodes that trust the cluster key.
func (r *Report) Succeeded() []NodeResult {
	return lo.Filter(r.Nodes, func(n NodeResult, _ int) bool { return n.OK() })
}

// Failed returns the results of nodes that could not be provisioned.
func (r *Report) Failed() []NodeResult {
	return lo.Filter(r.Nodes, func(n NodeResult, _ int) bool { return !n.OK() })
}

// Complete reports whether every node was provisioned.
func (r *Report) Complete() bool {
	return r.State == StateCompleted
}

// Err returns nil for a completed run, the fatal error for a failed run, and
// the aggregated per-node failures otherwise.
func (r *Report) Err() error {
	if r.Fatal != nil {
		return r.Fatal
	}
	var result *multierror.Error
	for _, n := range r.Failed() {
		result = multierror.Append(result, n.Err)
	}
	return result.ErrorOrNil()
}
