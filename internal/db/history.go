// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/toeirei/clustertrust/internal/model"
	"github.com/uptrace/bun"
)

// RunModel maps the provision_runs table.
type RunModel struct {
	bun.BaseModel `bun:"table:provision_runs"`
	ID            int64     `bun:"id,pk,autoincrement"`
	State         string    `bun:"state"`
	Fatal         string    `bun:"fatal"`
	Fingerprint   string    `bun:"fingerprint"`
	NodeCount     int       `bun:"node_count"`
	FailedCount   int       `bun:"failed_count"`
	StartedAt     time.Time `bun:"started_at"`
	FinishedAt    time.Time `bun:"finished_at"`
}

// NodeResultModel maps the provision_node_results table.
type NodeResultModel struct {
	bun.BaseModel `bun:"table:provision_node_results"`
	ID            int64  `bun:"id,pk,autoincrement"`
	RunID         int64  `bun:"run_id"`
	Node          string `bun:"node"`
	Status        string `bun:"status"`
	ErrorKind     string `bun:"error_kind"`
	Error         string `bun:"error"`
	Attempts      int    `bun:"attempts"`
	DurationMS    int64  `bun:"duration_ms"`
}

// BunStore is the Bun implementation of Store.
type BunStore struct {
	bun *bun.DB
}

// BunDB exposes the underlying handle for maintenance tasks.
func (s *BunStore) BunDB() *bun.DB { return s.bun }

// Close releases the database handle.
func (s *BunStore) Close() error { return s.bun.Close() }

// RecordRun writes report and its node results in one transaction.
func (s *BunStore) RecordRun(ctx context.Context, report *model.Report) error {
	if report == nil {
		return errors.New("nil report")
	}
	run := runToModel(report)
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(run).Returning("id").Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert run: %w", MapDBError(err))
		}
		if len(report.Nodes) == 0 {
			return nil
		}
		nodes := make([]NodeResultModel, 0, len(report.Nodes))
		for _, n := range report.Nodes {
			nodes = append(nodes, nodeResultToModel(run.ID, n))
		}
		if _, err := tx.NewInsert().Model(&nodes).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert node results: %w", MapDBError(err))
		}
		dbLogf("recorded run %d with %d node result(s)", run.ID, len(nodes))
		return nil
	})
}

// ListRuns returns up to limit runs, newest first.
func (s *BunStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var runs []RunModel
	q := s.bun.NewSelect().Model(&runs).OrderExpr("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	var nodes []NodeResultModel
	if err := s.bun.NewSelect().Model(&nodes).
		Where("run_id IN (?)", bun.In(ids)).
		OrderExpr("run_id, node").
		Scan(ctx); err != nil {
		return nil, err
	}
	byRun := make(map[int64][]NodeRecord, len(runs))
	for _, n := range nodes {
		byRun[n.RunID] = append(byRun[n.RunID], nodeResultModelToRecord(n))
	}

	out := make([]RunRecord, 0, len(runs))
	for _, r := range runs {
		out = append(out, runModelToRecord(r, byRun[r.ID]))
	}
	return out, nil
}

// GetRun returns the run with id.
func (s *BunStore) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	var run RunModel
	if err := s.bun.NewSelect().Model(&run).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, err
	}
	var nodes []NodeResultModel
	if err := s.bun.NewSelect().Model(&nodes).Where("run_id = ?", id).OrderExpr("node").Scan(ctx); err != nil {
		return nil, err
	}
	records := make([]NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		records = append(records, nodeResultModelToRecord(n))
	}
	rec := runModelToRecord(run, records)
	return &rec, nil
}

// PruneRuns deletes everything but the newest keep runs and returns the
// number of runs removed.
func (s *BunStore) PruneRuns(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	var removed int
	err := WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		var cutoff []int64
		if err := tx.NewSelect().Model((*RunModel)(nil)).Column("id").
			OrderExpr("id DESC").Offset(keep).Limit(1).
			Scan(ctx, &cutoff); err != nil {
			return err
		}
		if len(cutoff) == 0 {
			return nil
		}
		if _, err := tx.NewDelete().Model((*NodeResultModel)(nil)).Where("run_id <= ?", cutoff[0]).Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewDelete().Model((*RunModel)(nil)).Where("id <= ?", cutoff[0]).Exec(ctx)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed = int(n)
		return nil
	})
	return removed, err
}

// --- Mapping helpers ---

func runToModel(report *model.Report) *RunModel {
	run := &RunModel{
		State:       report.State.String(),
		Fingerprint: report.Fingerprint,
		NodeCount:   len(report.Nodes),
		FailedCount: len(report.Failed()),
		StartedAt:   report.StartedAt.UTC(),
		FinishedAt:  report.FinishedAt.UTC(),
	}
	if report.Fatal != nil {
		run.Fatal = report.Fatal.Error()
	}
	return run
}

func nodeResultToModel(runID int64, n model.NodeResult) NodeResultModel {
	m := NodeResultModel{
		RunID:      runID,
		Node:       n.Node.String(),
		Status:     string(n.Status),
		Attempts:   n.Attempts,
		DurationMS: n.Duration.Milliseconds(),
	}
	if n.Err != nil {
		m.ErrorKind = string(model.KindOf(n.Err))
		m.Error = n.Err.Error()
	}
	return m
}

func runModelToRecord(r RunModel, nodes []NodeRecord) RunRecord {
	return RunRecord{
		ID:          r.ID,
		State:       r.State,
		Fatal:       r.Fatal,
		Fingerprint: r.Fingerprint,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Nodes:       nodes,
	}
}

func nodeResultModelToRecord(n NodeResultModel) NodeRecord {
	return NodeRecord{
		Node:      n.Node,
		Status:    n.Status,
		ErrorKind: n.ErrorKind,
		Error:     n.Error,
		Attempts:  n.Attempts,
		Duration:  time.Duration(n.DurationMS) * time.Millisecond,
	}
}
