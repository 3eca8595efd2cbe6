// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package sshkey

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ParsePublicKey parses a single authorized_keys line (options and comment
// allowed) and returns the key.
func ParsePublicKey(line []byte) (ssh.PublicKey, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ContainsKey reports whether content already holds key on one of its lines.
// Lines are compared by the key's wire bytes, so options and comments on the
// existing line do not matter. Lines ssh cannot parse are compared by their
// algorithm and base64 fields.
func ContainsKey(content []byte, key ssh.PublicKey) bool {
	_, found := KeyOptions(content, key)
	return found
}

// KeyOptions returns the options of the first line holding key, joined with
// commas as they appear in the file, and whether such a line exists.
func KeyOptions(content []byte, key ssh.PublicKey) (string, bool) {
	want := key.Marshal()
	wantAlg := key.Type()
	wantData := strings.TrimSpace(strings.TrimPrefix(string(ssh.MarshalAuthorizedKey(key)), wantAlg))

	for _, raw := range bytes.Split(content, []byte("\n")) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if parsed, _, options, _, err := ssh.ParseAuthorizedKey(line); err == nil {
			if bytes.Equal(parsed.Marshal(), want) {
				return strings.Join(options, ","), true
			}
			continue
		}
		alg, data, _, err := Parse(string(line))
		if err == nil && alg == wantAlg && data == wantData {
			return "", true
		}
	}
	return "", false
}

// AppendLine returns content with line added as a new last line. Existing
// bytes are kept verbatim; a missing trailing newline is added before the new
// line so it never joins the previous entry.
func AppendLine(content, line []byte) []byte {
	line = bytes.TrimRight(line, "\r\n")
	out := make([]byte, 0, len(content)+len(line)+2)
	out = append(out, content...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	out = append(out, line...)
	return append(out, '\n')
}

// Ensure returns content with the public key line present exactly once and
// whether anything changed. When the key is already present content is
// returned unchanged.
func Ensure(content, publicKeyLine []byte) ([]byte, bool, error) {
	key, err := ParsePublicKey(publicKeyLine)
	if err != nil {
		return nil, false, err
	}
	if ContainsKey(content, key) {
		return content, false, nil
	}
	return AppendLine(content, publicKeyLine), true, nil
}

// CountKey returns how many lines of content hold key.
func CountKey(content []byte, key ssh.PublicKey) int {
	n := 0
	for _, raw := range bytes.Split(content, []byte("\n")) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		if ContainsKey(raw, key) {
			n++
		}
	}
	return n
}
