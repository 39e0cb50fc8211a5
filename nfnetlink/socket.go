// Package nfnetlink provides the raw conntrack netlink plumbing for
// offload sessions: bound NETLINK_NETFILTER sockets subscribed to
// conntrack event groups, and the hand-built dump request that primes
// the offload process with existing NAT state.
package nfnetlink

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Multicast group masks for the two session sockets. The offload
// process watches connection birth and death on one socket and
// connection updates on the other.
const (
	GroupsNewDestroy    uint32 = unix.NF_NETLINK_CONNTRACK_NEW | unix.NF_NETLINK_CONNTRACK_DESTROY
	GroupsUpdateDestroy uint32 = unix.NF_NETLINK_CONNTRACK_UPDATE | unix.NF_NETLINK_CONNTRACK_DESTROY
)

// SendTimeout bounds dump-request writes. The request is advisory, so
// an unresponsive kernel or offload process must not stall
// initialization longer than this.
const SendTimeout = 500 * time.Millisecond

// Socket is a NETLINK_NETFILTER socket bound to a conntrack group
// mask and connected to the kernel.
type Socket struct {
	fd     int
	groups uint32
}

// NewConntrackSocket opens a NETLINK_NETFILTER socket, binds it to
// the given multicast group mask and connects it to the kernel. On
// any failure the descriptor is closed before returning; no fd leaks
// out of a failed constructor.
//
// Subscribing to conntrack groups requires CAP_NET_ADMIN.
func NewConntrackSocket(groups uint32) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_NETFILTER)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: groups}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink bind (groups=%#x): %w", groups, err)
	}

	// Connect to the kernel (pid 0) so plain writes reach it.
	if err := unix.Connect(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink connect: %w", err)
	}

	return &Socket{fd: fd, groups: groups}, nil
}

// FD returns the raw descriptor. The Socket retains ownership.
func (s *Socket) FD() int {
	return s.fd
}

// Groups returns the multicast group mask the socket is bound to.
func (s *Socket) Groups() uint32 {
	return s.groups
}

// SetSendTimeout bounds subsequent sends with SO_SNDTIMEO.
func (s *Socket) SetSendTimeout(d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
		return fmt.Errorf("set send timeout: %w", err)
	}
	return nil
}

// Send writes one netlink message to the kernel.
func (s *Socket) Send(msg []byte) error {
	if err := unix.Sendto(s.fd, msg, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		return fmt.Errorf("netlink send: %w", err)
	}
	return nil
}

// Close releases the descriptor.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	if err != nil {
		return fmt.Errorf("netlink close: %w", err)
	}
	return nil
}
