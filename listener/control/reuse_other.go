//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris)

package control

import "syscall"

func ReuseAddr() func(network, address string, conn syscall.RawConn) error {
	return nil
}
