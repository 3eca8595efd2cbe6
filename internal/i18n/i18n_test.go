// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package i18n

import (
	"io/fs"
	"path"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitAndAvailableLocales(t *testing.T) {
	Init("en")
	if GetLang() != "en" {
		t.Fatalf("expected lang 'en', got %q", GetLang())
	}
	av := GetAvailableLocales()
	for _, k := range []string{"en", "de"} {
		if _, ok := av[k]; !ok {
			t.Fatalf("expected available locale %q, got %v", k, av)
		}
	}
	if av["de"] != "Deutsch" {
		t.Fatalf("unexpected display name for de: %q", av["de"])
	}
}

func TestT(t *testing.T) {
	tests := []struct {
		lang string
		id   string
		args []any
		want string
	}{
		{"en", "summary.status.present", nil, "already present"},
		{"de", "summary.status.present", nil, "bereits vorhanden"},
		{"en", "summary.totals", []any{2, 3, 1}, "2 of 3 node(s) trust the cluster key, 1 failed"},
		{"de", "key.ready", []any{"SHA256:x"}, "Cluster-Schlüsselpaar bereit: SHA256:x"},
		{"en", "no.such.message", nil, "no.such.message"},
		// Unknown languages fall back to English.
		{"fr", "summary.status.failed", nil, "failed"},
	}
	for _, tc := range tests {
		t.Run(tc.lang+"/"+tc.id, func(t *testing.T) {
			SetLang(tc.lang)
			defer SetLang("en")
			if got := T(tc.id, tc.args...); got != tc.want {
				t.Fatalf("T(%q) = %q, want %q", tc.id, got, tc.want)
			}
		})
	}
}

// Every message must exist in every language.
func TestLocalesHaveSameKeys(t *testing.T) {
	files, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		t.Fatalf("read locales: %v", err)
	}
	keys := map[string]map[string]string{}
	for _, f := range files {
		data, err := localeFS.ReadFile(path.Join("locales", f.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", f.Name(), err)
		}
		m := map[string]string{}
		if err := yaml.Unmarshal(data, &m); err != nil {
			t.Fatalf("parse %s: %v", f.Name(), err)
		}
		keys[f.Name()] = m
	}
	en := keys["en.yaml"]
	if len(en) == 0 {
		t.Fatalf("en.yaml is empty")
	}
	for name, m := range keys {
		for k := range en {
			if _, ok := m[k]; !ok {
				t.Errorf("%s is missing %q", name, k)
			}
		}
		for k := range m {
			if _, ok := en[k]; !ok {
				t.Errorf("%s has %q which en.yaml lacks", name, k)
			}
		}
	}
}
