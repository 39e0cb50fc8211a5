package netd

import (
	"golang.org/x/sys/unix"
)

// KernelSocketInfo introspects a socket descriptor via getsockopt.
// Errnos propagate untranslated so callers can report exactly what
// the kernel said, typically EBADF for a dead descriptor and ENOTSOCK
// for a descriptor that is not a socket.
func KernelSocketInfo(fd int) (SocketInfo, error) {
	family, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_DOMAIN)
	if err != nil {
		return SocketInfo{}, err
	}

	protocol, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PROTOCOL)
	if err != nil {
		return SocketInfo{}, err
	}

	// SO_COOKIE assigns the cookie on first read if the socket does
	// not have one yet, so this cannot race with the bpf programs
	// observing the same socket.
	cookie, err := unix.GetsockoptUint64(fd, unix.SOL_SOCKET, unix.SO_COOKIE)
	if err != nil {
		return SocketInfo{}, err
	}

	return SocketInfo{Family: family, Protocol: protocol, Cookie: cookie}, nil
}
