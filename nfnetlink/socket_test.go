package nfnetlink_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tetherbpf/tetherbpf/nfnetlink"
)

func TestNewConntrackSocketUnsubscribed(t *testing.T) {
	// Group mask 0 skips the CAP_NET_ADMIN subscribe, so this works
	// unprivileged wherever NETLINK_NETFILTER exists.
	s, err := nfnetlink.NewConntrackSocket(0)
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EPROTONOSUPPORT) || errors.Is(err, unix.EAFNOSUPPORT) {
		t.Skipf("netlink netfilter unavailable: %v", err)
	}
	require.NoError(t, err)

	assert.GreaterOrEqual(t, s.FD(), 0)
	assert.Zero(t, s.Groups())

	require.NoError(t, s.SetSendTimeout(time.Second))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")
}
