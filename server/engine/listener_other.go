//go:build !unix

package engine

import (
	"net"
	"syscall"
)

func controlFunc(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}

// go sets TCP_NODELAY on tcp conns by default
func setNoDelay(net.Conn) {}
