// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package deployment

import (
	"reflect"
	"testing"

	"github.com/spf13/afero"
	"github.com/toeirei/clustertrust/internal/model"
)

func TestParseHostPort(t *testing.T) {
	tests := []struct {
		in               string
		user, host, port string
		wantErr          bool
	}{
		{in: "10.0.0.1", host: "10.0.0.1"},
		{in: "example.com:2222", host: "example.com", port: "2222"},
		{in: "deploy@example.com", user: "deploy", host: "example.com"},
		{in: "root@10.0.0.5:2200", user: "root", host: "10.0.0.5", port: "2200"},
		{in: "[2001:db8::1]:22", host: "2001:db8::1", port: "22"},
		{in: "[2001:db8::1]", host: "2001:db8::1"},
		{in: "2001:db8::1", host: "2001:db8::1"},
		{in: "  padded.host  ", host: "padded.host"},
		{in: "", wantErr: true},
		{in: "@host", wantErr: true},
		{in: "host:", wantErr: true},
		{in: "host:0", wantErr: true},
		{in: "host:70000", wantErr: true},
		{in: "host:ssh", wantErr: true},
		{in: "user@", wantErr: true},
		{in: "2001:db8::zz", wantErr: true},
		{in: "bad host", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			user, host, port, err := ParseHostPort(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q %q %q", user, host, port)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if user != tt.user || host != tt.host || port != tt.port {
				t.Errorf("got (%q,%q,%q), want (%q,%q,%q)", user, host, port, tt.user, tt.host, tt.port)
			}
		})
	}
}

func TestCanonicalizeHostPort(t *testing.T) {
	tests := []struct {
		in   string
		port int
		want string
	}{
		{"10.0.0.1", 22, "10.0.0.1:22"},
		{"Example.COM", 22, "example.com:22"},
		{"example.com.", 22, "example.com:22"},
		{"example.com:2222", 22, "example.com:2222"},
		{"example.com", 2200, "example.com:2200"},
		{"ops@Example.com", 22, "ops@example.com:22"},
		{"2001:DB8::1", 22, "[2001:db8::1]:22"},
		{"[2001:db8::1]:2022", 22, "[2001:db8::1]:2022"},
		{"not valid:port", 22, "not valid:port"},
	}
	for _, tt := range tests {
		if got := CanonicalizeHostPort(tt.in, tt.port); got != tt.want {
			t.Errorf("CanonicalizeHostPort(%q, %d) = %q, want %q", tt.in, tt.port, got, tt.want)
		}
	}
}

func TestResolveNodes_SingleNode(t *testing.T) {
	m := Model{Nodes: map[string][]string{"10.0.0.1": {"svc-a"}}}
	nodes, err := ResolveNodes(m, 0)
	if err != nil {
		t.Fatalf("ResolveNodes failed: %v", err)
	}
	want := []model.NodeAddress{{Host: "10.0.0.1", Port: 22}}
	if !reflect.DeepEqual(nodes, want) {
		t.Fatalf("got %+v, want %+v", nodes, want)
	}
}

func TestResolveNodes_DeduplicatesAndSorts(t *testing.T) {
	m := Model{Nodes: map[string][]string{
		"node-b":        {"svc-a"},
		"NODE-B:22":     {"svc-b"},
		"node-a":        {"svc-a", "svc-b"},
		"node-a:2222":   {"svc-c"},
		"10.0.0.9":      {},
		"ops@node-a":    {"svc-d"},
		"[2001:db8::1]": {"svc-e"},
		"2001:db8:0::1": {"svc-e"},
	}}

	var first []model.NodeAddress
	for i := 0; i < 20; i++ {
		nodes, err := ResolveNodes(m, 22)
		if err != nil {
			t.Fatalf("ResolveNodes failed: %v", err)
		}
		if first == nil {
			first = nodes
			continue
		}
		if !reflect.DeepEqual(first, nodes) {
			t.Fatalf("output depends on iteration order:\n%v\n%v", first, nodes)
		}
	}

	got := make([]string, len(first))
	for i, n := range first {
		got[i] = n.String()
	}
	want := []string{
		"10.0.0.9:22",
		"[2001:db8::1]:22",
		"node-a:22",
		"node-a:2222",
		"node-b:22",
		"ops@node-a:22",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestResolveNodes_EmptyModel(t *testing.T) {
	nodes, err := ResolveNodes(Model{}, 22)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expected no nodes, got %v", nodes)
	}
}

func TestResolveNodes_MalformedIsConfigError(t *testing.T) {
	m := Model{Nodes: map[string][]string{"good": {"a"}, "bad:99999": {"a"}}}
	_, err := ResolveNodes(m, 22)
	if model.KindOf(err) != model.KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := ResolveNodes(Model{Nodes: map[string][]string{"a": nil}}, 70000); model.KindOf(err) != model.KindConfig {
		t.Fatalf("expected config error for bad default port, got %v", err)
	}
}

func TestApplicationsOn(t *testing.T) {
	m := Model{Nodes: map[string][]string{
		"node-a":    {"svc-b", "svc-a"},
		"NODE-A:22": {"svc-a", "svc-c"},
		"node-b":    {"svc-z"},
	}}
	got := m.ApplicationsOn(model.NodeAddress{Host: "node-a", Port: 22}, 22)
	want := []string{"svc-a", "svc-b", "svc-c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

const applicationsYAML = `
version: 1
applications:
  svc-a:
    image: flocker/flocker:v1.0
  svc-b:
    image: example/svc-b
`

func TestFromConfiguration(t *testing.T) {
	deploy := []byte(`{"version": 1, "nodes": {"10.0.0.1": ["svc-a"], "10.0.0.2": ["svc-a", "svc-b"]}}`)
	m, err := FromConfiguration([]byte(applicationsYAML), deploy)
	if err != nil {
		t.Fatalf("FromConfiguration failed: %v", err)
	}
	if len(m.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(m.Nodes))
	}
	if app := m.Applications["svc-a"]; app.Name != "svc-a" || app.Image != "flocker/flocker:v1.0" {
		t.Fatalf("unexpected application %+v", app)
	}
}

func TestFromConfiguration_Errors(t *testing.T) {
	tests := []struct {
		name   string
		apps   string
		deploy string
	}{
		{"apps not yaml", "{", `{"version": 1, "nodes": {}}`},
		{"apps missing version", "applications: {}", `{"version": 1, "nodes": {}}`},
		{"apps wrong version", "version: 2\napplications: {}", `{"version": 1, "nodes": {}}`},
		{"apps missing key", "version: 1", `{"version": 1, "nodes": {}}`},
		{"deploy missing version", applicationsYAML, `{"nodes": {}}`},
		{"deploy missing nodes", applicationsYAML, `{"version": 1}`},
		{"deploy wrong type", applicationsYAML, `{"version": 1, "nodes": ["10.0.0.1"]}`},
		{"unknown application", applicationsYAML, `{"version": 1, "nodes": {"10.0.0.1": ["svc-x"]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromConfiguration([]byte(tt.apps), []byte(tt.deploy))
			if model.KindOf(err) != model.KindConfig {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/cfg/app.yml", []byte(applicationsYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := afero.WriteFile(fsys, "/cfg/deploy.yml", []byte("version: 1\nnodes:\n  10.0.0.1: [svc-a]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := Load(fsys, "/cfg/app.yml", "/cfg/deploy.yml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	nodes, err := ResolveNodes(m, 22)
	if err != nil || len(nodes) != 1 || nodes[0].Host != "10.0.0.1" {
		t.Fatalf("unexpected nodes %v (err %v)", nodes, err)
	}

	if _, err := Load(fsys, "/cfg/missing.yml", "/cfg/deploy.yml"); model.KindOf(err) != model.KindConfig {
		t.Fatalf("expected config error for missing file, got %v", err)
	}
}
