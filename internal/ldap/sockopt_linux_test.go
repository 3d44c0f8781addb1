//go:build linux

package ldap

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSocketControl_UserTimeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	tests := []struct {
		name    string
		timeout time.Duration
		want    int
	}{
		{"query duration", 7 * time.Second, 7000},
		{"disabled", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &net.Dialer{Control: socketControl(tt.timeout)}
			conn, err := dialer.DialContext(t.Context(), "tcp", l.Addr().String())
			require.NoError(t, err)
			defer conn.Close()

			raw, err := conn.(*net.TCPConn).SyscallConn()
			require.NoError(t, err)

			var got int
			var sockErr error
			require.NoError(t, raw.Control(func(fd uintptr) {
				got, sockErr = unix.GetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT)
			}))
			require.NoError(t, sockErr)
			assert.Equal(t, tt.want, got)
		})
	}
}
