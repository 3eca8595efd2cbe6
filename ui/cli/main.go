// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/toeirei/clustertrust/buildvars"
	"github.com/toeirei/clustertrust/internal/config"
	"github.com/toeirei/clustertrust/internal/i18n"
	"github.com/toeirei/clustertrust/internal/logging"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

type rootOptions struct {
	configFile string
	verbose    bool
}

// app holds what every subcommand needs once configuration is loaded.
type app struct {
	opts rootOptions
	cfg  config.Config
	fs   afero.Fs
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitOK
}

// NewRootCmd creates the root command with all subcommands. Each call
// returns an independent tree, which keeps tests isolated.
func NewRootCmd() *cobra.Command {
	a := &app{fs: afero.NewOsFs()}

	cmd := &cobra.Command{
		Use:           "clustertrust",
		Short:         i18n.T("cli.root.short"),
		SilenceErrors: true,
		SilenceUsage:  true,
		Long: `clustertrust establishes SSH trust for a cluster deployment.

It keeps one cluster keypair on this machine and appends its public key to
the authorized_keys file of every node the deployment descriptor names,
leaving existing entries untouched. Nodes are reached with the credentials
of the local SSH agent.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	v, c, d := resolveBuildVersion(nil)
	compositeVersion := v
	if c != "" && c != "dev" {
		compositeVersion = compositeVersion + " (" + c + ")"
	}
	if d != "" {
		compositeVersion = compositeVersion + " built: " + d
	}
	cmd.Version = compositeVersion

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Err: err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.opts.configFile, "config", "", "config file (default: search user and system config dirs)")
	pf.BoolVarP(&a.opts.verbose, "verbose", "v", false, "Enable debug logging")
	pf.String("log-level", "info", `Log level ("debug", "info", "warn", "error")`)
	pf.String("lang", "en", `Message language ("en", "de")`)
	pf.String("key-dir", "", "Directory holding the cluster keypair")

	cmd.AddCommand(
		newProvisionCmd(a),
		newNodesCmd(a),
		newKeyCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// rootBindings maps persistent flags onto configuration keys.
var rootBindings = []config.FlagBinding{
	{Key: "log_level", Flag: "log-level"},
	{Key: "language", Flag: "lang"},
	{Key: "key_dir", Flag: "key-dir"},
}

// setup loads configuration for cmd and applies logging and language.
func (a *app) setup(cmd *cobra.Command) error {
	var explicit *string
	if cmd.Flags().Changed("config") {
		if _, err := os.Stat(a.opts.configFile); err != nil {
			return &ExitError{Code: ExitUsage, Err: fmt.Errorf("config file specified via --config not accessible: %w", err)}
		}
		explicit = &a.opts.configFile
	}

	bindings := append(append([]config.FlagBinding{}, rootBindings...), commandBindings(cmd)...)
	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), explicit, bindings...)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	a.cfg = cfg

	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	if a.opts.verbose {
		logging.SetDebug(true)
	}
	i18n.Init(cfg.Language)
	return nil
}

// commandBindings returns the flag bindings registered on cmd through the
// "config_key" annotation.
func commandBindings(cmd *cobra.Command) []config.FlagBinding {
	var out []config.FlagBinding
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if keys, ok := f.Annotations[configKeyAnnotation]; ok && len(keys) == 1 {
			out = append(out, config.FlagBinding{Key: keys[0], Flag: f.Name})
		}
	})
	return out
}

const configKeyAnnotation = "clustertrust_config_key"

// bindFlag marks flag as an override for the configuration key.
func bindFlag(cmd *cobra.Command, flag, key string) {
	_ = cmd.Flags().SetAnnotation(flag, configKeyAnnotation, []string{key})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If info is nil, it reads build info from the
// runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault(version)
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if local, ok := debug.ReadBuildInfo(); ok {
			info = local
		}
	}

	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		// Some build paths only record our module as a dependency.
		if (resolvedVersion == "dev" || resolvedVersion == "(devel)") && info.Deps != nil {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/toeirei/clustertrust" && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}
