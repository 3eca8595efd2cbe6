// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/toeirei/clustertrust/internal/i18n"
)

// clipboardWrite is swapped in tests; CI machines have no clipboard.
var clipboardWrite = clipboard.WriteAll

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: i18n.T("cli.key.short"),
	}

	ensure := &cobra.Command{
		Use:   "ensure",
		Short: i18n.T("cli.key.ensure.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := a.keyStore().Ensure(cmd.Context())
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("key.ready", kp.Fingerprint))
			return nil
		},
	}

	var fingerprintOnly, copyKey bool
	show := &cobra.Command{
		Use:   "show",
		Short: i18n.T("cli.key.show.short"),
		Long: `Prints the cluster public key in authorized_keys format. Nothing is
created; use "key ensure" or "provision" first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := a.keyStore().Load()
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			out := cmd.OutOrStdout()
			if fingerprintOnly {
				fmt.Fprintln(out, kp.Fingerprint)
			} else {
				fmt.Fprint(out, string(kp.PublicKey))
			}
			if copyKey {
				if err := clipboardWrite(string(kp.PublicKey)); err != nil {
					return &ExitError{Code: ExitFailure, Err: fmt.Errorf("could not copy to clipboard: %w", err)}
				}
				fmt.Fprintln(cmd.ErrOrStderr(), i18n.T("key.copied"))
			}
			return nil
		},
	}
	show.Flags().BoolVar(&fingerprintOnly, "fingerprint", false, "Print only the SHA256 fingerprint")
	show.Flags().BoolVar(&copyKey, "copy", false, "Copy the public key to the clipboard")

	cmd.AddCommand(ensure, show)
	return cmd
}
