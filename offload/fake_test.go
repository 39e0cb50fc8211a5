package offload

import (
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/tetherbpf/tetherbpf/hal"
)

// fakeHal records every control call the orchestrator makes.
type fakeHal struct {
	version hal.Version

	initErr error
	stopErr error
	callErr error

	initCalls  int
	stopCalls  int
	closeCalls int
	initFds    [][2]int
	cb         hal.Callbacks

	stats         hal.ForwardedStats
	statsRequests []string
	prefixSets    [][]string
	limits        []limitCall
	warnings      []warnCall
	upstreams     []hal.UpstreamParameters
	downstreams   []string
}

type limitCall struct {
	upstream string
	limit    uint64
}

type warnCall struct {
	upstream       string
	warning, limit uint64
}

var _ hal.Offload = (*fakeHal)(nil)

func (f *fakeHal) InitOffload(fd1, fd2 int, cb hal.Callbacks) error {
	f.initCalls++
	if f.initErr != nil {
		return f.initErr
	}
	f.initFds = append(f.initFds, [2]int{fd1, fd2})
	f.cb = cb
	return nil
}

func (f *fakeHal) StopOffload() error {
	f.stopCalls++
	return f.stopErr
}

func (f *fakeHal) Version() hal.Version {
	return f.version
}

func (f *fakeHal) GetForwardedStats(upstream string) (hal.ForwardedStats, error) {
	f.statsRequests = append(f.statsRequests, upstream)
	if f.callErr != nil {
		return hal.ForwardedStats{}, f.callErr
	}
	return f.stats, nil
}

func (f *fakeHal) SetLocalPrefixes(prefixes []string) error {
	if f.callErr != nil {
		return f.callErr
	}
	f.prefixSets = append(f.prefixSets, prefixes)
	return nil
}

func (f *fakeHal) SetDataLimit(upstream string, limitBytes uint64) error {
	if f.callErr != nil {
		return f.callErr
	}
	f.limits = append(f.limits, limitCall{upstream, limitBytes})
	return nil
}

func (f *fakeHal) SetDataWarningAndLimit(upstream string, warningBytes, limitBytes uint64) error {
	if f.callErr != nil {
		return f.callErr
	}
	f.warnings = append(f.warnings, warnCall{upstream, warningBytes, limitBytes})
	return nil
}

func (f *fakeHal) SetUpstreamParameters(params hal.UpstreamParameters) error {
	if f.callErr != nil {
		return f.callErr
	}
	f.upstreams = append(f.upstreams, params)
	return nil
}

func (f *fakeHal) AddDownstream(iface, prefix string) error {
	if f.callErr != nil {
		return f.callErr
	}
	f.downstreams = append(f.downstreams, "add "+iface+" "+prefix)
	return nil
}

func (f *fakeHal) RemoveDownstream(iface, prefix string) error {
	if f.callErr != nil {
		return f.callErr
	}
	f.downstreams = append(f.downstreams, "remove "+iface+" "+prefix)
	return nil
}

func (f *fakeHal) Close() error {
	f.closeCalls++
	return nil
}

// fakeSocket records lifecycle and sends.
type fakeSocket struct {
	fd      int
	groups  uint32
	timeout time.Duration
	sent    [][]byte
	closed  int
	sendErr error
}

var _ ConntrackSocket = (*fakeSocket)(nil)

func (s *fakeSocket) FD() int { return s.fd }

func (s *fakeSocket) SetSendTimeout(d time.Duration) error {
	s.timeout = d
	return nil
}

func (s *fakeSocket) Send(msg []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSocket) Close() error {
	s.closed++
	return nil
}

// fakeEnv owns the fakes behind one HardwareInterface.
type fakeEnv struct {
	hal       *fakeHal
	locateErr error

	attempts    int
	socketErrAt int // fail the nth socket creation, 0 = never
	sendErr     error
	sockets     []*fakeSocket
}

func (e *fakeEnv) newSocket(groups uint32) (ConntrackSocket, error) {
	e.attempts++
	if e.socketErrAt == e.attempts {
		return nil, errors.New("socket creation failed")
	}
	s := &fakeSocket{fd: 100 + e.attempts, groups: groups, sendErr: e.sendErr}
	e.sockets = append(e.sockets, s)
	return s, nil
}

type noopCallbacks struct{}

var _ hal.Callbacks = noopCallbacks{}

func (noopCallbacks) OnStarted()                                              {}
func (noopCallbacks) OnStoppedError()                                         {}
func (noopCallbacks) OnStoppedUnsupported()                                   {}
func (noopCallbacks) OnSupportAvailable()                                     {}
func (noopCallbacks) OnStoppedLimitReached()                                  {}
func (noopCallbacks) OnWarningReached()                                       {}
func (noopCallbacks) OnNatTimeoutUpdate(proto uint8, src, dst netip.AddrPort) {}

func newHarness(version hal.Version) (*fakeEnv, *HardwareInterface) {
	env := &fakeEnv{hal: &fakeHal{version: version}}
	deps := Dependencies{
		LocateHal: func() (hal.Offload, error) {
			if env.locateErr != nil {
				return nil, env.locateErr
			}
			return env.hal, nil
		},
		NewConntrackSocket: env.newSocket,
	}
	return env, New(deps, slog.New(slog.DiscardHandler))
}
