package fdpass_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tetherbpf/tetherbpf/fdpass"
)

// unixpacketPair returns two connected SOCK_SEQPACKET unix sockets.
func unixpacketPair(t *testing.T) (client, server *net.UnixConn) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fdpass.sock")
	addr := &net.UnixAddr{Name: path, Net: "unixpacket"}

	ln, err := net.ListenUnix("unixpacket", addr)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan *net.UnixConn, 1)
	go func() {
		c, err := ln.AcceptUnix()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.DialUnix("unixpacket", nil, addr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server, ok := <-accepted
	require.True(t, ok, "accept failed")
	t.Cleanup(func() { server.Close() })

	return client, server
}

func TestSendRecvNoFds(t *testing.T) {
	client, server := unixpacketPair(t)

	require.NoError(t, fdpass.Send(client, []byte("hello")))

	buf := make([]byte, 64)
	n, fds, err := fdpass.Recv(server, buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Empty(t, fds)
}

func TestSendRecvFds(t *testing.T) {
	client, server := unixpacketPair(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, fdpass.Send(client, []byte("take these"), int(r.Fd()), int(w.Fd())))

	buf := make([]byte, 64)
	n, fds, err := fdpass.Recv(server, buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "take these", string(buf[:n]))
	require.Len(t, fds, 2)

	// The received descriptors are live duplicates: writing to the
	// received write end must surface on the original read end.
	recvW := os.NewFile(uintptr(fds[1]), "pipe-w")
	defer recvW.Close()
	unix.Close(fds[0])

	_, err = recvW.Write([]byte("ping"))
	require.NoError(t, err)

	got := make([]byte, 4)
	_, err = r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
}

func TestRecvRejectsTooManyFds(t *testing.T) {
	client, server := unixpacketPair(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, fdpass.Send(client, []byte("x"), int(r.Fd()), int(w.Fd())))

	buf := make([]byte, 16)
	_, _, err = fdpass.Recv(server, buf, 1)
	require.Error(t, err)
}

func TestRecvOne(t *testing.T) {
	client, server := unixpacketPair(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, fdpass.Send(client, []byte("sock"), int(w.Fd())))

	buf := make([]byte, 16)
	n, fd, err := fdpass.RecvOne(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "sock", string(buf[:n]))
	require.GreaterOrEqual(t, fd, 0)
	unix.Close(fd)
}

func TestRecvOneRequiresFd(t *testing.T) {
	client, server := unixpacketPair(t)

	require.NoError(t, fdpass.Send(client, []byte("bare")))

	buf := make([]byte, 16)
	_, _, err := fdpass.RecvOne(server, buf)
	require.Error(t, err)
}

func TestPeerCred(t *testing.T) {
	client, server := unixpacketPair(t)
	_ = client

	cred, err := fdpass.PeerCred(server)
	require.NoError(t, err)
	assert.Equal(t, uint32(os.Getuid()), cred.Uid)
	assert.Equal(t, uint32(os.Getgid()), cred.Gid)
	assert.Equal(t, int32(os.Getpid()), cred.Pid)
}
