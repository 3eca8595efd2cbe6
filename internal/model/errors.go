// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"errors"
	"fmt"
	"time"
)

// StorageError reports a failure reading or writing the local keypair. It is
// fatal to a provisioning run.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("keypair storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigError reports a malformed deployment model or descriptor. It is fatal
// to a provisioning run.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid deployment configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid deployment configuration (%s): %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectionError reports that a node could not be reached or the SSH session
// could not be established. Reason is a short classification such as
// "refused", "authentication" or "host key".
type ConnectionError struct {
	Node   string
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed (%s): %v", e.Node, e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PermissionError reports that the authenticated identity may not modify the
// node's authorized-keys store.
type PermissionError struct {
	Node string
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied on %s for %s: %v", e.Node, e.Path, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// TimeoutError reports that a node operation did not finish before its
// deadline or before the run was cancelled.
type TimeoutError struct {
	Node  string
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("provisioning %s timed out after %s: %v", e.Node, e.After, e.Err)
	}
	return fmt.Sprintf("provisioning %s timed out: %v", e.Node, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Kind names an error class for summaries and history rows.
type Kind string

const (
	KindNone       Kind = ""
	KindStorage    Kind = "storage"
	KindConfig     Kind = "config"
	KindConnection Kind = "connection"
	KindPermission Kind = "permission"
	KindTimeout    Kind = "timeout"
	KindUnknown    Kind = "unknown"
)

// KindOf classifies err by the first taxonomy type found in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		se *StorageError
		ce *ConfigError
		te *TimeoutError
		pe *PermissionError
		ne *ConnectionError
	)
	switch {
	case errors.As(err, &se):
		return KindStorage
	case errors.As(err, &ce):
		return KindConfig
	case errors.As(err, &te):
		return KindTimeout
	case errors.As(err, &pe):
		return KindPermission
	case errors.As(err, &ne):
		return KindConnection
	default:
		return KindUnknown
	}
}

// IsFatal reports whether err aborts a run before any node is dispatched.
func IsFatal(err error) bool {
	k := KindOf(err)
	return k == KindStorage || k == KindConfig
}
