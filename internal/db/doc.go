// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db stores the history of provisioning runs.
//
// Every finished run is written as one provision_runs row plus one
// provision_node_results row per node. SQLite, PostgreSQL and MySQL are
// supported through Bun; the schema is applied from embedded migrations when
// the store is opened.
//
// Testing notes
//   - Prefer NewStoreFromDSN("sqlite", ":memory:") in tests. In-memory SQLite
//     is limited to one connection so every query sees the same database.
package db
