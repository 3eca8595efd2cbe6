// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

package deployment

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/toeirei/clustertrust/internal/model"
)

// ParseHostPort splits a node key into its user, host and port parts.
// Accepted forms are host, host:port, [v6]:port, a bare IPv6 literal and any
// of those prefixed with user@. An absent port is returned as an empty string.
func ParseHostPort(raw string) (user, host, port string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", "", errors.New("empty node address")
	}

	if i := strings.LastIndex(s, "@"); i >= 0 {
		user, s = s[:i], s[i+1:]
		if user == "" {
			return "", "", "", fmt.Errorf("empty user in %q", raw)
		}
	}

	switch {
	case strings.HasPrefix(s, "["):
		h, p, splitErr := net.SplitHostPort(s)
		if splitErr != nil {
			// "[::1]" without a port.
			if strings.HasSuffix(s, "]") {
				h = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
				p = ""
			} else {
				return "", "", "", fmt.Errorf("invalid node address %q: %w", raw, splitErr)
			}
		}
		host, port = h, p
	case strings.Count(s, ":") > 1:
		// Bare IPv6 literal; a port requires brackets.
		if net.ParseIP(s) == nil {
			return "", "", "", fmt.Errorf("invalid IPv6 address %q", raw)
		}
		host = s
	case strings.Contains(s, ":"):
		h, p, splitErr := net.SplitHostPort(s)
		if splitErr != nil {
			return "", "", "", fmt.Errorf("invalid node address %q: %w", raw, splitErr)
		}
		if p == "" {
			return "", "", "", fmt.Errorf("missing port after colon in %q", raw)
		}
		host, port = h, p
	default:
		host = s
	}

	if host == "" {
		return "", "", "", fmt.Errorf("empty host in %q", raw)
	}
	if strings.ContainsAny(host, " \t/") {
		return "", "", "", fmt.Errorf("invalid host %q", host)
	}
	if port != "" {
		if _, err := parsePort(port); err != nil {
			return "", "", "", fmt.Errorf("invalid port in %q: %w", raw, err)
		}
	}
	return user, host, port, nil
}

// CanonicalizeHostPort returns the canonical node key for raw, filling in
// defaultPort when raw has none. Hostnames are lowercased. Invalid input is
// returned unchanged.
func CanonicalizeHostPort(raw string, defaultPort int) string {
	addr, err := ParseNodeAddress(raw, defaultPort)
	if err != nil {
		return raw
	}
	return addr.String()
}

// ParseNodeAddress parses raw into a model.NodeAddress.
func ParseNodeAddress(raw string, defaultPort int) (model.NodeAddress, error) {
	user, host, port, err := ParseHostPort(raw)
	if err != nil {
		return model.NodeAddress{}, err
	}
	if defaultPort == 0 {
		defaultPort = model.DefaultSSHPort
	}
	if _, err := parsePort(strconv.Itoa(defaultPort)); err != nil {
		return model.NodeAddress{}, fmt.Errorf("invalid default port: %w", err)
	}

	addr := model.NodeAddress{User: user, Host: normalizeHost(host), Port: defaultPort}
	if port != "" {
		addr.Port, _ = parsePort(port)
	}
	return addr, nil
}

func normalizeHost(host string) string {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

func parsePort(p string) (int, error) {
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("port %q is not a number", p)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}
