// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/toeirei/clustertrust/internal/i18n"
	"github.com/toeirei/clustertrust/internal/model"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newTable returns a table styled for w: bordered with colours on a
// terminal, borderless plain text otherwise.
func newTable(w io.Writer, headers ...string) (*table.Table, *lipgloss.Renderer) {
	r := lipgloss.NewRenderer(w)
	t := table.New().Headers(headers...)
	if isTerminal(w) {
		t = t.Border(lipgloss.RoundedBorder()).BorderStyle(r.NewStyle().Foreground(lipgloss.Color("240")))
	} else {
		t = t.Border(lipgloss.HiddenBorder()).BorderTop(false).BorderBottom(false).BorderLeft(false).BorderRight(false).BorderHeader(false).BorderColumn(false)
	}
	return t, r
}

func statusLabel(s model.NodeStatus) string {
	switch s {
	case model.NodeInstalled:
		return i18n.T("summary.status.installed")
	case model.NodePresent:
		return i18n.T("summary.status.present")
	default:
		return i18n.T("summary.status.failed")
	}
}

// renderSummary prints one row per node followed by the run totals.
func renderSummary(w io.Writer, report *model.Report) {
	if report == nil {
		return
	}
	if report.State == model.StateFailed {
		fmt.Fprintln(w, i18n.T("summary.state", report.State))
		return
	}

	t, r := newTable(w,
		i18n.T("summary.header.node"),
		i18n.T("summary.header.status"),
		i18n.T("summary.header.attempts"),
		i18n.T("summary.header.detail"),
	)
	header := r.NewStyle().Bold(true).PaddingRight(2)
	cell := r.NewStyle().PaddingRight(2)
	ok := cell.Foreground(lipgloss.Color("2"))
	bad := cell.Foreground(lipgloss.Color("1"))

	for _, n := range report.Nodes {
		detail := ""
		if n.Err != nil {
			detail = fmt.Sprintf("%s: %v", model.KindOf(n.Err), n.Err)
		}
		t.Row(n.Node.String(), statusLabel(n.Status), strconv.Itoa(n.Attempts), detail)
	}
	nodes := report.Nodes
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return header
		case col == 1 && row < len(nodes) && nodes[row].OK():
			return ok
		case col == 1:
			return bad
		}
		return cell
	})

	if len(nodes) > 0 {
		fmt.Fprintln(w, t.Render())
	}
	if report.Fingerprint != "" {
		fmt.Fprintln(w, i18n.T("summary.fingerprint", report.Fingerprint))
	}
	fmt.Fprintln(w, i18n.T("summary.totals", len(report.Succeeded()), len(nodes), len(report.Failed())))
	fmt.Fprintln(w, i18n.T("summary.state", report.State))
}
