// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Command clustertrust installs a cluster SSH public key on every node of a
// deployment.
//
// Usage:
//
//	clustertrust provision -a applications.yml -d deployment.yml
//
// See --help for all commands.
package main

import (
	"os"

	"github.com/toeirei/clustertrust/ui/cli"
)

func main() {
	os.Exit(cli.Execute())
}
