//go:build !linux && !darwin

package ldap

import (
	"syscall"
	"time"
)

func socketControl(_ time.Duration) func(network, address string, c syscall.RawConn) error {
	return nil
}
