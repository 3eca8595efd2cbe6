// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the clustertrust command line using Cobra. It loads
// configuration, wires the keypair store, installer and history store, and
// maps provisioning outcomes to process exit codes. Business logic stays in
// the internal packages.
package cli
