//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package control

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReuseAddr lets a restarted server bind a stream port that still has
// connections in TIME_WAIT. SO_REUSEPORT is not set.
func ReuseAddr() func(network, address string, conn syscall.RawConn) error {
	return func(_, _ string, conn syscall.RawConn) error {
		var sockErr error
		err := conn.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		return errors.Join(err, sockErr)
	}
}
