// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package provision

import (
	"context"
	"math/rand"
	"time"

	"github.com/toeirei/clustertrust/internal/logging"
	"github.com/toeirei/clustertrust/internal/model"
)

// installNode installs the key on node, retrying connection failures up to
// Options.Retries times. Other failures are final on the first attempt.
func (p *Provisioner) installNode(ctx context.Context, node model.NodeAddress, publicKey []byte) model.NodeResult {
	start := time.Now()
	var res model.NodeResult
	for attempt := 1; ; attempt++ {
		res = p.installer.Install(ctx, node, publicKey)
		res.Node = node
		res.Attempts = attempt
		if res.OK() || attempt > p.opts.Retries || model.KindOf(res.Err) != model.KindConnection {
			break
		}

		delay := backoff(p.opts.RetryDelay)
		logging.Warnf("%s: attempt %d/%d failed, retrying in %s: %v", node, attempt, p.opts.Retries+1, delay.Round(time.Millisecond), res.Err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Status = model.NodeFailed
			res.Err = &model.TimeoutError{Node: node.String(), Err: ctx.Err()}
			res.Duration = time.Since(start)
			return res
		case <-timer.C:
		}
	}
	res.Duration = time.Since(start)
	return res
}

// backoff returns base plus up to half of base in random jitter.
func backoff(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return base + time.Duration(rand.Int63n(int64(base)/2+1))
}
