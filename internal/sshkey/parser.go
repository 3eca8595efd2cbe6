// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshkey parses public key lines and edits authorized_keys content.
//
// A key counts as present whatever options its line carries. Entries are
// never rewritten, so a restricted line (command=, restrict, from=) is kept
// as the operator wrote it; KeyOptions lets callers report such lines.
package sshkey

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Parse splits a raw public key string (like one from an authorized_keys file)
// into its three core components: algorithm, key data, and comment.
// It correctly handles leading options in the line (e.g., from="...",command="...").
func Parse(rawKey string) (algorithm, keyData, comment string, err error) {
	fields := strings.Fields(rawKey)
	if len(fields) == 0 {
		err = fmt.Errorf("empty line")
		return
	}

	keyStartIndex := -1
	for i, field := range fields {
		if isKeyType(field) {
			keyStartIndex = i
			break
		}
	}

	if keyStartIndex == -1 {
		err = fmt.Errorf("no valid SSH key type found in line")
		return
	}

	if len(fields) < keyStartIndex+2 {
		err = fmt.Errorf("invalid public key format: missing key data after algorithm")
		return
	}

	algorithm = fields[keyStartIndex]
	keyData = fields[keyStartIndex+1]
	if len(fields) > keyStartIndex+2 {
		comment = strings.Join(fields[keyStartIndex+2:], " ")
	}

	return
}

func isKeyType(field string) bool {
	return strings.HasPrefix(field, "ssh-") ||
		strings.HasPrefix(field, "ecdsa-") ||
		strings.HasPrefix(field, "sk-")
}

// CheckHostKeyAlgorithm returns a warning for host keys whose algorithm modern
// OpenSSH disables by default, and an empty string otherwise.
func CheckHostKeyAlgorithm(key ssh.PublicKey) string {
	if key == nil {
		return ""
	}
	switch key.Type() {
	case ssh.KeyAlgoRSA:
		return "host key uses ssh-rsa, which is disabled by default in modern OpenSSH; consider an ed25519 host key"
	case ssh.KeyAlgoDSA:
		return "host key uses ssh-dss, which is deprecated and insecure"
	}
	return ""
}
