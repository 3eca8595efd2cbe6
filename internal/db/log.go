// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import "github.com/toeirei/clustertrust/internal/logging"

func dbLogf(format string, v ...any) {
	logging.Debugf("db: "+format, v...)
}
