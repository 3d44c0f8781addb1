//go:build darwin

package ldap

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// socketControl disables SIGPIPE for writes to the socket, so a write to a
// dropped connection returns EPIPE.
func socketControl(_ time.Duration) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
