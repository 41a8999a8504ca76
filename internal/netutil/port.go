// Package netutil picks the address the control API listens on.
package netutil

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// SelectBindAddr returns preferred when it can be listened on. Otherwise,
// when autoFallback is set, it returns the first free candidate.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		ok, err := IsAddrAvailable(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("preferred bind address in use: %s", preferred)
		}
	}

	var tried []string
	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		tried = append(tried, addr)
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			if preferred != "" {
				slog.Warn("bind address in use, falling back", "preferred", preferred, "addr", addr)
			}
			return addr, nil
		}
	}

	return "", fmt.Errorf("no available API bind addresses (preferred %q, tried %s)", preferred, strings.Join(tried, ", "))
}

// IsAddrAvailable reports whether addr can be listened on. A malformed
// address is an error rather than "busy".
func IsAddrAvailable(addr string) (bool, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return false, fmt.Errorf("invalid bind address %q: %w", addr, err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
