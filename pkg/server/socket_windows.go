//go:build windows

package server

import (
	"syscall"
)

// setSocketOptions sets SO_REUSEADDR on the listening socket
func setSocketOptions(fd uintptr) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
