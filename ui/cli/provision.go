// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/clustertrust/internal/deployment"
	"github.com/toeirei/clustertrust/internal/i18n"
	"github.com/toeirei/clustertrust/internal/logging"
	"github.com/toeirei/clustertrust/internal/model"
	"github.com/toeirei/clustertrust/internal/provision"
)

type descriptorFlags struct {
	applications string
	deployment   string
}

func (d *descriptorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&d.applications, "applications", "a", "applications.yml", "Application catalog descriptor")
	cmd.Flags().StringVarP(&d.deployment, "deployment", "d", "deployment.yml", "Deployment descriptor placing applications on nodes")
	cmd.Flags().Int("port", 22, "SSH port for nodes without an explicit port")
	bindFlag(cmd, "port", "ssh.port")
}

func newProvisionCmd(a *app) *cobra.Command {
	var descriptors descriptorFlags
	cmd := &cobra.Command{
		Use:   "provision",
		Short: i18n.T("cli.provision.short"),
		Long: `Ensures the cluster keypair exists, then installs its public key in the
authorized_keys file of every node named by the deployment descriptor.

Nodes are worked on in parallel and one failing node never stops the
others. The exit code is 0 when every node trusts the key. With
--require-all any failed node makes the exit code 1; without it failures
are reported as warnings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runProvision(cmd.Context(), cmd.OutOrStdout(), descriptors)
		},
	}
	descriptors.register(cmd)

	f := cmd.Flags()
	f.String("user", "root", "Remote login for nodes without a user@ prefix")
	f.Duration("timeout", 0, "Overall deadline for the run (0 disables)")
	f.Duration("node-timeout", 0, "Deadline per node, connection included")
	f.Int("concurrency", 0, "Maximum nodes worked on at once (0 is unlimited)")
	f.Int("retries", 0, "Extra attempts after a connection failure")
	f.Duration("retry-delay", 0, "Base pause between attempts")
	f.Bool("require-all", false, "Fail unless every node trusts the cluster key")
	f.String("known-hosts", "", "known_hosts file used to verify node host keys")
	f.Bool("insecure-ignore-host-key", false, "Accept any node host key")
	f.String("identity", "", "Private key used in addition to the agent's keys")

	for flag, key := range map[string]string{
		"user":                     "ssh.user",
		"timeout":                  "provision.timeout",
		"node-timeout":             "provision.node_timeout",
		"concurrency":              "provision.concurrency",
		"retries":                  "provision.retries",
		"retry-delay":              "provision.retry_delay",
		"require-all":              "provision.require_all",
		"known-hosts":              "ssh.known_hosts",
		"insecure-ignore-host-key": "ssh.insecure_ignore_host_key",
		"identity":                 "ssh.identity_file",
	} {
		bindFlag(cmd, flag, key)
	}
	return cmd
}

func (a *app) runProvision(ctx context.Context, out io.Writer, descriptors descriptorFlags) error {
	m, err := deployment.Load(a.fs, descriptors.applications, descriptors.deployment)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	inst, release, err := a.newInstaller()
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	defer release()

	opts := provision.Options{
		DefaultPort: a.cfg.SSH.Port,
		Concurrency: a.cfg.Provision.Concurrency,
		Retries:     a.cfg.Provision.Retries,
		RetryDelay:  a.cfg.Provision.RetryDelay,
		RequireAll:  a.cfg.Provision.RequireAll,
	}
	history, err := a.openHistory()
	if err != nil {
		logging.Warnf("provisioning history unavailable: %v", err)
	} else if history != nil {
		defer func() { _ = history.Close() }()
		opts.Recorder = history
	}

	if d := a.cfg.Provision.Timeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	report, err := provision.New(a.keyStore(), inst, opts).Provision(ctx, m)
	renderSummary(out, report)
	return provisionExit(err)
}

// provisionExit maps the run outcome to an exit error.
func provisionExit(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, provision.ErrIncomplete):
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%s: %w", i18n.T("error.incomplete"), err)}
	case model.IsFatal(err):
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%s: %w", i18n.T("error.fatal"), err)}
	default:
		return &ExitError{Code: ExitFailure, Err: err}
	}
}

func newNodesCmd(a *app) *cobra.Command {
	var descriptors descriptorFlags
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: i18n.T("cli.nodes.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := deployment.Load(a.fs, descriptors.applications, descriptors.deployment)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			nodes, err := deployment.ResolveNodes(m, a.cfg.SSH.Port)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			out := cmd.OutOrStdout()
			if len(nodes) == 0 {
				fmt.Fprintln(out, i18n.T("nodes.empty"))
				return nil
			}
			for _, n := range nodes {
				fmt.Fprintf(out, "%s\t%s\n", n, strings.Join(m.ApplicationsOn(n, a.cfg.SSH.Port), ","))
			}
			return nil
		},
	}
	descriptors.register(cmd)
	return cmd
}
