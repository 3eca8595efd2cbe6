// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package installer

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/pkg/sftp"
	"github.com/toeirei/clustertrust/internal/model"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Connection failure reasons reported in model.ConnectionError.
const (
	ReasonRefused        = "refused"
	ReasonUnreachable    = "unreachable"
	ReasonAuthentication = "authentication"
	ReasonHostKey        = "host key"
	ReasonHandshake      = "handshake"
	ReasonSFTP           = "sftp"
	ReasonLost           = "connection lost"
)

// IsConnectionTimeoutError reports whether err is a dial or I/O timeout.
func IsConnectionTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "timed out")
}

// IsConnectionRefusedError reports whether the remote port actively refused.
func IsConnectionRefusedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

// IsAuthenticationError reports whether the SSH server rejected every
// offered credential.
func IsAuthenticationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied (publickey")
}

// IsHostKeyError reports whether host key verification failed.
func IsHostKeyError(err error) bool {
	if err == nil {
		return false
	}
	var ke *knownhosts.KeyError
	var re *knownhosts.RevokedError
	if errors.As(err, &ke) || errors.As(err, &re) || errors.Is(err, errHostKeyRejected) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "host key")
}

// ClassifyConnectionError wraps a dial or handshake failure into a
// *model.ConnectionError carrying a short reason.
func ClassifyConnectionError(node string, err error) *model.ConnectionError {
	reason := ReasonHandshake
	switch {
	case IsConnectionRefusedError(err):
		reason = ReasonRefused
	case IsHostKeyError(err):
		reason = ReasonHostKey
	case IsAuthenticationError(err):
		reason = ReasonAuthentication
	case isUnreachable(err):
		reason = ReasonUnreachable
	}
	return &model.ConnectionError{Node: node, Reason: reason, Err: err}
}

func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH)
}

// remoteError maps a failed SFTP operation on path to the error taxonomy.
func remoteError(node, op, path string, err error) error {
	switch {
	case errors.Is(err, os.ErrPermission) || errors.Is(err, sftp.ErrSSHFxPermissionDenied):
		return &model.PermissionError{Node: node, Path: path, Err: err}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, sftp.ErrSSHFxConnectionLost), errors.Is(err, sftp.ErrSSHFxNoConnection):
		return &model.ConnectionError{Node: node, Reason: ReasonLost, Err: err}
	}
	return &remoteOpError{Node: node, Op: op, Path: path, Err: err}
}

// remoteOpError is a remote file failure outside the permission and
// connection classes, for example a full disk.
type remoteOpError struct {
	Node string
	Op   string
	Path string
	Err  error
}

func (e *remoteOpError) Error() string {
	return "remote " + e.Op + " " + e.Path + " on " + e.Node + ": " + e.Err.Error()
}

func (e *remoteOpError) Unwrap() error { return e.Err }
