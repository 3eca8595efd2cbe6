// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package provision drives a trust provisioning run: it makes sure the
// cluster keypair exists, resolves the target nodes and installs the public
// key on all of them in parallel.
//
// A run waits for every node. One node failing never cancels the others; the
// report lists each node's outcome and the caller decides what a partial
// failure means.
package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/toeirei/clustertrust/internal/deployment"
	"github.com/toeirei/clustertrust/internal/logging"
	"github.com/toeirei/clustertrust/internal/model"
	"golang.org/x/sync/errgroup"
)

// ErrIncomplete is returned by Wait when RequireAll is set and at least one
// node could not be provisioned.
var ErrIncomplete = errors.New("provisioning incomplete")

// KeyStore yields the cluster keypair, creating it when needed.
type KeyStore interface {
	Ensure(ctx context.Context) (model.Keypair, error)
}

// NodeInstaller installs a public key on one node.
type NodeInstaller interface {
	Install(ctx context.Context, node model.NodeAddress, publicKey []byte) model.NodeResult
}

// Recorder persists finished run reports.
type Recorder interface {
	RecordRun(ctx context.Context, report *model.Report) error
}

// Options tune a Provisioner. The zero value dispatches every node at once,
// never retries and treats partial failure as advisory.
type Options struct {
	// DefaultPort applies to nodes without an explicit port.
	DefaultPort int
	// Concurrency caps the number of nodes worked on at once; 0 is unlimited.
	Concurrency int
	// Retries is the number of extra attempts after a ConnectionError.
	Retries int
	// RetryDelay is the base pause between attempts; jitter is added.
	RetryDelay time.Duration
	// RequireAll makes Wait return ErrIncomplete for partial failures.
	RequireAll bool
	// Recorder, when set, receives every finished report.
	Recorder Recorder
	// OnTransition observes state changes. It runs on the run's goroutine.
	OnTransition func(from, to model.State)
	// OnResult observes each node result as it arrives.
	OnResult func(model.NodeResult)
}

// Provisioner composes a KeyStore and a NodeInstaller.
type Provisioner struct {
	keys      KeyStore
	installer NodeInstaller
	opts      Options
}

// New returns a Provisioner.
func New(keys KeyStore, installer NodeInstaller, opts Options) *Provisioner {
	if opts.DefaultPort == 0 {
		opts.DefaultPort = model.DefaultSSHPort
	}
	if opts.Concurrency < 0 {
		opts.Concurrency = 0
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Provisioner{keys: keys, installer: installer, opts: opts}
}

// Run is the handle of an in-flight provisioning run.
type Run struct {
	done chan struct{}

	mu     sync.Mutex
	state  model.State
	report *model.Report
	err    error
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// State returns the current state.
func (r *Run) State() model.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Wait blocks until the run finishes and returns its report. The error is
// the fatal precondition failure for StateFailed, ErrIncomplete (wrapping
// the node failures) for StatePartiallyFailed with RequireAll, and nil
// otherwise.
func (r *Run) Wait() (*model.Report, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report, r.err
}

// Provision runs provisioning for m and waits for it to finish.
func (p *Provisioner) Provision(ctx context.Context, m deployment.Model) (*model.Report, error) {
	return p.Start(ctx, m).Wait()
}

// Start begins provisioning for m and returns immediately. Cancelling ctx
// stops waiting for outstanding nodes; they are reported as timed out.
func (p *Provisioner) Start(ctx context.Context, m deployment.Model) *Run {
	r := &Run{done: make(chan struct{}), state: model.StateIdle}
	go func() {
		defer close(r.done)
		report := p.run(ctx, r, m)
		err := p.outcome(report)
		p.record(ctx, report)

		r.mu.Lock()
		r.report, r.err = report, err
		r.mu.Unlock()
	}()
	return r
}

func (p *Provisioner) run(ctx context.Context, r *Run, m deployment.Model) *model.Report {
	report := &model.Report{State: model.StateIdle, StartedAt: time.Now()}
	fail := func(err error) *model.Report {
		report.Fatal = err
		p.transition(r, report, model.StateFailed)
		report.FinishedAt = time.Now()
		logging.Errorf("provisioning aborted: %v", err)
		return report
	}

	kp, err := p.keys.Ensure(ctx)
	if err != nil {
		return fail(err)
	}
	report.Fingerprint = kp.Fingerprint
	p.transition(r, report, model.StateKeypairReady)

	nodes, err := deployment.ResolveNodes(m, p.opts.DefaultPort)
	if err != nil {
		return fail(err)
	}

	p.transition(r, report, model.StateDispatching)
	logging.Infof("provisioning %d node(s) with key %s", len(nodes), kp.Fingerprint)

	results := make(chan model.NodeResult, len(nodes))
	dispatched := make(chan struct{})
	var g errgroup.Group
	if p.opts.Concurrency > 0 {
		g.SetLimit(p.opts.Concurrency)
	}
	go func() {
		for _, node := range nodes {
			g.Go(func() error {
				results <- p.installNode(ctx, node, kp.PublicKey)
				return nil
			})
		}
		close(dispatched)
		_ = g.Wait()
		close(results)
	}()

	select {
	case <-dispatched:
	case <-ctx.Done():
	}
	p.transition(r, report, model.StateJoining)

	collected := make(map[string]model.NodeResult, len(nodes))
	accept := func(res model.NodeResult) {
		collected[res.Node.String()] = res
		p.logResult(res)
		if p.opts.OnResult != nil {
			p.opts.OnResult(res)
		}
	}

join:
	for len(collected) < len(nodes) {
		select {
		case res, ok := <-results:
			if !ok {
				break join
			}
			accept(res)
		case <-ctx.Done():
			// Keep whatever already finished, then give up on the rest.
			for {
				select {
				case res, ok := <-results:
					if !ok {
						break join
					}
					accept(res)
				default:
					break join
				}
			}
		}
	}

	for _, node := range nodes {
		if _, ok := collected[node.String()]; ok {
			continue
		}
		res := model.NodeResult{
			Node:   node,
			Status: model.NodeFailed,
			Err:    &model.TimeoutError{Node: node.String(), Err: ctxErr(ctx)},
		}
		accept(res)
	}

	report.Nodes = make([]model.NodeResult, 0, len(collected))
	for _, res := range collected {
		report.Nodes = append(report.Nodes, res)
	}
	report.SortNodes()

	final := model.StateCompleted
	if len(report.Failed()) > 0 {
		final = model.StatePartiallyFailed
	}
	p.transition(r, report, final)
	report.FinishedAt = time.Now()
	return report
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.Canceled
}

func (p *Provisioner) transition(r *Run, report *model.Report, to model.State) {
	r.mu.Lock()
	from := r.state
	if from.Terminal() {
		r.mu.Unlock()
		logging.Warnf("ignoring provisioning state %s -> %s after the run finished", from, to)
		return
	}
	r.state = to
	r.mu.Unlock()
	report.State = to
	logging.Debugf("provisioning state %s -> %s", from, to)
	if p.opts.OnTransition != nil {
		p.opts.OnTransition(from, to)
	}
}

func (p *Provisioner) outcome(report *model.Report) error {
	switch report.State {
	case model.StateFailed:
		return report.Fatal
	case model.StatePartiallyFailed:
		failed := len(report.Failed())
		logging.Warnf("%d of %d node(s) could not be provisioned", failed, len(report.Nodes))
		if p.opts.RequireAll {
			return fmt.Errorf("%w: %d of %d node(s) failed: %w", ErrIncomplete, failed, len(report.Nodes), report.Err())
		}
	case model.StateCompleted:
		logging.Infof("all %d node(s) trust the cluster key", len(report.Nodes))
	}
	return nil
}

func (p *Provisioner) record(ctx context.Context, report *model.Report) {
	if p.opts.Recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.opts.Recorder.RecordRun(rctx, report); err != nil {
		logging.Warnf("failed to record provisioning run: %v", err)
	}
}

func (p *Provisioner) logResult(res model.NodeResult) {
	switch {
	case res.Status == model.NodeInstalled:
		logging.Infof("%s: key installed", res.Node)
	case res.Status == model.NodePresent:
		logging.Infof("%s: key already present", res.Node)
	default:
		logging.Warnf("%s: %s failure: %v", res.Node, model.KindOf(res.Err), res.Err)
	}
}
