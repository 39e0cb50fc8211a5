// Package fdpass provides unix-domain ancillary data helpers: file
// descriptor transfer via SCM_RIGHTS and peer identification via
// SO_PEERCRED. Both control transports use it, the offload HAL
// channel for handing conntrack sockets to the offload process and
// the tagging service for receiving the socket a client wants
// tagged.
package fdpass

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// fdSize is the wire size of one descriptor in a SCM_RIGHTS message.
const fdSize = 4

// Send writes data and descriptors as a single message. The fds stay
// owned by the caller; the kernel installs duplicates on the peer
// side.
func Send(conn *net.UnixConn, data []byte, fds ...int) error {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	n, oobn, err := conn.WriteMsgUnix(data, oob, nil)
	if err != nil {
		return fmt.Errorf("sendmsg: %w", err)
	}
	if n != len(data) || oobn != len(oob) {
		return fmt.Errorf("sendmsg: short write: %d/%d data, %d/%d oob", n, len(data), oobn, len(oob))
	}
	return nil
}

// Recv reads one message into buf, accepting at most maxFds
// descriptors. Received descriptors are close-on-exec and owned by
// the caller. A message carrying more than maxFds descriptors is
// rejected and every received descriptor closed, so a misbehaving
// peer cannot grow our fd table.
func Recv(conn *net.UnixConn, buf []byte, maxFds int) (n int, fds []int, err error) {
	var oob []byte
	if maxFds > 0 {
		oob = make([]byte, unix.CmsgSpace(maxFds*fdSize))
	}

	n, oobn, flags, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return 0, nil, fmt.Errorf("recvmsg: %w", err)
	}
	if flags&unix.MSG_CTRUNC != 0 {
		// Truncated rights would leak kernel-installed fds we
		// cannot see. Refuse the message outright.
		closeAll(parseRights(oob[:oobn]))
		return 0, nil, fmt.Errorf("recvmsg: control message truncated")
	}
	if oobn == 0 {
		return n, nil, nil
	}

	fds = parseRights(oob[:oobn])
	if len(fds) > maxFds {
		closeAll(fds)
		return 0, nil, fmt.Errorf("recvmsg: got %d fds, want at most %d", len(fds), maxFds)
	}
	return n, fds, nil
}

// RecvOne is Recv for protocols expecting exactly one descriptor on
// the message.
func RecvOne(conn *net.UnixConn, buf []byte) (n int, fd int, err error) {
	n, fds, err := Recv(conn, buf, 1)
	if err != nil {
		return 0, -1, err
	}
	if len(fds) != 1 {
		closeAll(fds)
		return 0, -1, fmt.Errorf("recvmsg: got %d fds, want 1", len(fds))
	}
	return n, fds[0], nil
}

func parseRights(oob []byte) []int {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	var fds []int
	for i := range scms {
		got, err := unix.ParseUnixRights(&scms[i])
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return fds
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

// PeerCred returns the peer's credentials as recorded by the kernel
// at connect time. Unlike anything the peer sends in-band, these
// cannot be forged.
func PeerCred(conn *net.UnixConn) (*unix.Ucred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("syscall conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("getsockopt SO_PEERCRED: %w", credErr)
	}
	return cred, nil
}
