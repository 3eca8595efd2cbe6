// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"time"

	"github.com/toeirei/clustertrust/internal/model"
)

// Store defines the history operations. Implementations are safe for
// concurrent use.
type Store interface {
	// RecordRun persists a finished run. It satisfies provision.Recorder.
	RecordRun(ctx context.Context, report *model.Report) error
	// ListRuns returns the most recent runs first, with their node results.
	// A limit of 0 returns every run.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	// GetRun returns one run or ErrNotFound.
	GetRun(ctx context.Context, id int64) (*RunRecord, error)
	// PruneRuns keeps the newest keep runs and deletes the rest.
	PruneRuns(ctx context.Context, keep int) (int, error)
	Close() error
}

// RunRecord is a stored provisioning run.
type RunRecord struct {
	ID          int64        `json:"id"`
	State       string       `json:"state"`
	Fatal       string       `json:"fatal,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Nodes       []NodeRecord `json:"nodes"`
}

// Failed counts the failed node records.
func (r RunRecord) Failed() int {
	n := 0
	for _, node := range r.Nodes {
		if node.Status == string(model.NodeFailed) {
			n++
		}
	}
	return n
}

// NodeRecord is the stored outcome of one node.
type NodeRecord struct {
	Node      string        `json:"node"`
	Status    string        `json:"status"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
}
