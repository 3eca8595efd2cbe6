// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"github.com/toeirei/clustertrust/internal/db"
	"github.com/toeirei/clustertrust/internal/i18n"
	"github.com/toeirei/clustertrust/internal/model"
)

// historyExport is the document written by "history export".
type historyExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	Runs       []db.RunRecord `json:"runs"`
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: i18n.T("cli.history.short"),
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: i18n.T("cli.history.list.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(cmd, func(ctx context.Context, store db.Store) error {
				runs, err := store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				renderHistory(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 shows all)")

	var output string
	export := &cobra.Command{
		Use:   "export --output <file>",
		Short: i18n.T("cli.history.export.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(cmd, func(ctx context.Context, store db.Store) error {
				runs, err := store.ListRuns(ctx, 0)
				if err != nil {
					return err
				}
				data := &historyExport{ExportedAt: time.Now().UTC(), Runs: runs}
				if err := writeCompressedExport(output, data); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("history.exported", len(runs), output))
				return nil
			})
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "Destination file")
	_ = export.MarkFlagRequired("output")

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: i18n.T("cli.history.prune.short"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("--keep must not be negative")}
			}
			return a.withHistory(cmd, func(ctx context.Context, store db.Store) error {
				n, err := store.PruneRuns(ctx, keep)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("history.pruned", n))
				return nil
			})
		},
	}
	prune.Flags().IntVar(&keep, "keep", 50, "Number of newest runs to keep")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: i18n.T("cli.history.show.short"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id < 1 {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("invalid run id %q", args[0])}
			}
			return a.withHistory(cmd, func(ctx context.Context, store db.Store) error {
				run, err := store.GetRun(ctx, id)
				if err != nil {
					return err
				}
				renderRun(cmd.OutOrStdout(), run)
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, export, prune)
	return cmd
}

// withHistory opens the history store for the duration of fn.
func (a *app) withHistory(cmd *cobra.Command, fn func(ctx context.Context, store db.Store) error) error {
	store, err := a.openHistory()
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	if store == nil {
		fmt.Fprintln(cmd.OutOrStdout(), i18n.T("history.disabled"))
		return nil
	}
	defer func() { _ = store.Close() }()

	if err := fn(cmd.Context(), store); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	return nil
}

func renderHistory(w io.Writer, runs []db.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, i18n.T("history.empty"))
		return
	}
	t, r := newTable(w,
		i18n.T("history.header.id"),
		i18n.T("history.header.started"),
		i18n.T("history.header.state"),
		i18n.T("history.header.nodes"),
		i18n.T("history.header.failed"),
	)
	for _, r := range runs {
		t.Row(
			strconv.FormatInt(r.ID, 10),
			r.StartedAt.Local().Format(time.DateTime),
			r.State,
			strconv.Itoa(len(r.Nodes)),
			strconv.Itoa(r.Failed()),
		)
	}
	header := r.NewStyle().Bold(true).PaddingRight(2)
	cell := r.NewStyle().PaddingRight(2)
	t.StyleFunc(func(row, _ int) lipgloss.Style {
		if row == table.HeaderRow {
			return header
		}
		return cell
	})
	fmt.Fprintln(w, t.Render())
}

// renderRun prints one stored run with a row per node.
func renderRun(w io.Writer, run *db.RunRecord) {
	fmt.Fprintln(w, i18n.T("history.run", run.ID, run.State, run.StartedAt.Local().Format(time.DateTime)))
	if run.Fingerprint != "" {
		fmt.Fprintln(w, i18n.T("summary.fingerprint", run.Fingerprint))
	}
	if run.Fatal != "" {
		fmt.Fprintln(w, i18n.T("error.fatal")+": "+run.Fatal)
	}
	if len(run.Nodes) == 0 {
		return
	}

	t, r := newTable(w,
		i18n.T("summary.header.node"),
		i18n.T("summary.header.status"),
		i18n.T("summary.header.attempts"),
		i18n.T("summary.header.detail"),
	)
	for _, n := range run.Nodes {
		detail := ""
		if n.Error != "" {
			detail = n.ErrorKind + ": " + n.Error
		}
		t.Row(n.Node, statusLabel(model.NodeStatus(n.Status)), strconv.Itoa(n.Attempts), detail)
	}
	header := r.NewStyle().Bold(true).PaddingRight(2)
	cell := r.NewStyle().PaddingRight(2)
	t.StyleFunc(func(row, _ int) lipgloss.Style {
		if row == table.HeaderRow {
			return header
		}
		return cell
	})
	fmt.Fprintln(w, t.Render())
}

// writeCompressedExport streams data as indented JSON through a zstd writer.
func writeCompressedExport(filename string, data *historyExport) error {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	zstdWriter, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}

	encoder := json.NewEncoder(zstdWriter)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		_ = zstdWriter.Close()
		return fmt.Errorf("could not encode json to zstd writer: %w", err)
	}
	if err := zstdWriter.Close(); err != nil {
		return fmt.Errorf("could not finish zstd stream: %w", err)
	}
	return file.Close()
}
