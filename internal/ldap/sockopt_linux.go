//go:build linux

package ldap

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// socketControl bounds how long unacknowledged data may sit on the socket,
// so a vanished peer fails the blocking call instead of hanging it.
func socketControl(userTimeout time.Duration) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		if userTimeout <= 0 {
			return nil
		}
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(userTimeout.Milliseconds()))
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
