// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toeirei/clustertrust/internal/config"
	"github.com/toeirei/clustertrust/internal/i18n"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: i18n.T("cli.config.short"),
	}

	var system bool
	var output string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: i18n.T("cli.config.init.short"),
		Long: `Writes the effective configuration (defaults, the current config file,
environment and flags) as YAML. Without --output the file goes to the
user config directory, or the system one with --system.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := output
			var err error
			if path != "" {
				err = config.WriteConfigFileTo(&a.cfg, path)
			} else {
				path, err = config.WriteConfigFile(&a.cfg, system)
			}
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("config.written", path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&system, "system", false, "Write the system-wide configuration file")
	initCmd.Flags().StringVarP(&output, "output", "o", "", "Write to this path instead")

	cmd.AddCommand(initCmd)
	return cmd
}
