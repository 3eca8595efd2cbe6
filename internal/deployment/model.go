// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package deployment reads application and deployment descriptors and turns
// them into the set of nodes that need cluster trust.
package deployment

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/toeirei/clustertrust/internal/model"
)

// Application is one entry of the application catalog.
type Application struct {
	Name  string
	Image string
}

// Model maps each node address to the applications scheduled on it.
type Model struct {
	Nodes        map[string][]string
	Applications map[string]Application
}

// ResolveNodes returns the distinct target nodes of m sorted by their
// canonical key. Node keys that differ only in spelling (case, default port)
// collapse into one node. The result does not depend on map iteration order.
func ResolveNodes(m Model, defaultPort int) ([]model.NodeAddress, error) {
	seen := make(map[string]model.NodeAddress, len(m.Nodes))
	for raw := range m.Nodes {
		addr, err := ParseNodeAddress(raw, defaultPort)
		if err != nil {
			return nil, &model.ConfigError{Field: "nodes", Err: err}
		}
		seen[addr.String()] = addr
	}

	keys := lo.Keys(seen)
	sort.Strings(keys)
	return lo.Map(keys, func(k string, _ int) model.NodeAddress { return seen[k] }), nil
}

// ApplicationsOn returns the applications placed on node, merging every
// spelling of the node key that canonicalizes to the same address.
func (m Model) ApplicationsOn(node model.NodeAddress, defaultPort int) []string {
	var apps []string
	for raw, names := range m.Nodes {
		if CanonicalizeHostPort(raw, defaultPort) == node.String() {
			apps = append(apps, names...)
		}
	}
	apps = lo.Uniq(apps)
	sort.Strings(apps)
	return apps
}

// Validate checks that every placed application exists in the catalog. A
// model without a catalog is accepted as is.
func (m Model) Validate() error {
	if m.Applications == nil {
		return nil
	}
	for node, names := range m.Nodes {
		for _, name := range names {
			if _, ok := m.Applications[name]; !ok {
				return &model.ConfigError{
					Field: "nodes." + node,
					Err:   fmt.Errorf("application %q is not defined", name),
				}
			}
		}
	}
	return nil
}
