// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-lint checks that every i18n.T key used in the source exists in the
// primary locale, that every other locale carries the same keys, and lists
// keys nobody uses.
package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Location stores the file and line number of a key usage.
type Location struct {
	Filepath string
	Line     int
}

// Report is the result of one lint run.
type Report struct {
	// Undefined keys are used in code but absent from the primary locale.
	Undefined map[string][]Location
	// Missing maps a secondary locale file to the primary keys it lacks.
	Missing map[string][]string
	// Orphaned keys exist in the primary locale but are never used.
	Orphaned []string
}

// Failed reports whether the run found errors. Orphaned keys are warnings.
func (r Report) Failed() bool {
	if len(r.Undefined) > 0 {
		return true
	}
	for _, keys := range r.Missing {
		if len(keys) > 0 {
			return true
		}
	}
	return false
}

func main() {
	var root, locales, primary string
	cmd := &cobra.Command{
		Use:           "i18n-lint",
		Short:         "Check translation keys against the locale files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := lint(root, locales, primary)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if report.Failed() {
				return fmt.Errorf("translation files are inconsistent")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "Source tree to scan")
	cmd.Flags().StringVar(&locales, "locales", "internal/i18n/locales", "Directory holding the locale files")
	cmd.Flags().StringVar(&primary, "primary", "en.yaml", "Locale file treated as the source of truth")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func lint(root, localesDir, primary string) (Report, error) {
	used, err := findUsedKeys(root)
	if err != nil {
		return Report{}, fmt.Errorf("scan sources: %w", err)
	}
	primaryKeys, err := loadKeysFromLocale(filepath.Join(localesDir, primary))
	if err != nil {
		return Report{}, fmt.Errorf("load primary locale %s: %w", primary, err)
	}

	report := Report{Undefined: map[string][]Location{}, Missing: map[string][]string{}}
	for key, locs := range used {
		if _, ok := primaryKeys[key]; !ok {
			report.Undefined[key] = locs
		}
	}
	for key := range primaryKeys {
		if _, ok := used[key]; !ok {
			report.Orphaned = append(report.Orphaned, key)
		}
	}
	sort.Strings(report.Orphaned)

	files, err := filepath.Glob(filepath.Join(localesDir, "*.yaml"))
	if err != nil {
		return Report{}, err
	}
	for _, file := range files {
		if filepath.Base(file) == primary {
			continue
		}
		keys, err := loadKeysFromLocale(file)
		if err != nil {
			return Report{}, fmt.Errorf("load %s: %w", file, err)
		}
		var missing []string
		for key := range primaryKeys {
			if _, ok := keys[key]; !ok {
				missing = append(missing, key)
			}
		}
		sort.Strings(missing)
		report.Missing[filepath.Base(file)] = missing
	}
	return report, nil
}

// findUsedKeys parses every non-test Go file under root and collects the
// literal first argument of i18n.T calls.
func findUsedKeys(root string) (map[string][]Location, error) {
	keys := make(map[string][]Location)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (name == "tools" || name == "vendor" || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
		if err != nil {
			return err
		}
		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok || len(call.Args) == 0 || !isTranslateCall(call.Fun) {
				return true
			}
			lit, ok := call.Args[0].(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				return true
			}
			key, err := strconv.Unquote(lit.Value)
			if err != nil {
				return true
			}
			pos := fset.Position(lit.Pos())
			keys[key] = append(keys[key], Location{Filepath: pos.Filename, Line: pos.Line})
			return true
		})
		return nil
	})
	return keys, err
}

func isTranslateCall(fun ast.Expr) bool {
	sel, ok := fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "T" {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "i18n"
}

// loadKeysFromLocale reads a YAML file and returns a flat set of its keys.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}
	keys := make(map[string]struct{})
	flattenYAML("", data, keys)
	return keys, nil
}

// flattenYAML converts nested maps into dot-separated keys. Message objects
// with an "other" field count as a single key.
func flattenYAML(prefix string, node any, keys map[string]struct{}) {
	m, ok := node.(map[string]any)
	if !ok {
		if prefix != "" {
			keys[prefix] = struct{}{}
		}
		return
	}
	if _, isMessage := m["other"]; isMessage && prefix != "" {
		keys[prefix] = struct{}{}
		return
	}
	for k, val := range m {
		next := k
		if prefix != "" {
			next = prefix + "." + k
		}
		flattenYAML(next, val, keys)
	}
}

func printReport(w io.Writer, r Report) {
	undefined := make([]string, 0, len(r.Undefined))
	for key := range r.Undefined {
		undefined = append(undefined, key)
	}
	sort.Strings(undefined)
	for _, key := range undefined {
		loc := r.Undefined[key][0]
		fmt.Fprintf(w, "undefined: %s (%s:%d)\n", key, loc.Filepath, loc.Line)
	}

	files := make([]string, 0, len(r.Missing))
	for f := range r.Missing {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		for _, key := range r.Missing[f] {
			fmt.Fprintf(w, "missing in %s: %s\n", f, key)
		}
	}
	for _, key := range r.Orphaned {
		fmt.Fprintf(w, "orphaned: %s\n", key)
	}
	if !r.Failed() && len(r.Orphaned) == 0 {
		fmt.Fprintln(w, "all translation files are consistent")
	}
}
