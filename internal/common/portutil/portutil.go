// Package portutil provides helpers for TCP port selection.
package portutil

import (
	"fmt"
	"net"
	"strconv"
)

// AllocatePort allocates an available port using OS assignment.
// This approach is thread-safe and avoids port conflicts.
func AllocatePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// IsAvailable reports whether the given port can currently be bound on the host.
func IsAvailable(host string, port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// Resolve returns the preferred port when it is free, otherwise falls back
// to an OS-assigned free port. The boolean reports whether a fallback occurred.
func Resolve(host string, preferred int) (int, bool, error) {
	if IsAvailable(host, preferred) {
		return preferred, false, nil
	}
	port, err := AllocatePort()
	if err != nil {
		return 0, false, err
	}
	return port, true, nil
}
