// Package offload orchestrates hardware tethering offload sessions.
//
// A session hands two conntrack netlink sockets to the offload
// service (hal package) after seeding the kernel's connection table
// state with a dump request, then steers the running session with
// limit and topology calls. The orchestrator is not internally
// synchronized; the tethering handler serializes all calls on one
// goroutine, and concurrent use is undefined.
package offload

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/tetherbpf/tetherbpf/hal"
	"github.com/tetherbpf/tetherbpf/nfnetlink"
)

// State tracks session lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateBound
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// ConntrackSocket is one subscribed conntrack event socket.
// nfnetlink.Socket implements it; tests substitute recording fakes.
type ConntrackSocket interface {
	FD() int
	SetSendTimeout(d time.Duration) error
	Send(msg []byte) error
	Close() error
}

// Dependencies supplies the externals a HardwareInterface touches.
type Dependencies struct {
	// LocateHal resolves a binding to the offload service.
	LocateHal func() (hal.Offload, error)

	// NewConntrackSocket opens one conntrack event socket bound to
	// the given multicast group mask.
	NewConntrackSocket func(groups uint32) (ConntrackSocket, error)
}

// DefaultDependencies wires the real offload service sockets.
func DefaultDependencies(aidlPath, hidlPath string, log *slog.Logger) Dependencies {
	return Dependencies{
		LocateHal: func() (hal.Offload, error) {
			return hal.Locate(aidlPath, hidlPath, log)
		},
		NewConntrackSocket: func(groups uint32) (ConntrackSocket, error) {
			return nfnetlink.NewConntrackSocket(groups)
		},
	}
}

// HardwareInterface drives one offload session at a time.
type HardwareInterface struct {
	deps Dependencies
	log  *slog.Logger

	state   State
	version hal.Version
	binding hal.Offload
}

// New returns an unbound HardwareInterface.
func New(deps Dependencies, log *slog.Logger) *HardwareInterface {
	return &HardwareInterface{
		deps: deps,
		log:  log.With("component", "offload"),
	}
}

// InitOffload starts a session and reports the negotiated service
// generation. Calling it again while a session runs is a no-op
// returning the cached version. Any failure tears the partial
// session fully down and returns VersionNone; VersionNone is also
// the normal answer on hardware without an offload service.
func (h *HardwareInterface) InitOffload(cb hal.Callbacks) hal.Version {
	if h.state == StateRunning {
		return h.version
	}

	binding, err := h.deps.LocateHal()
	if err != nil {
		var notFound *hal.ServiceNotFoundError
		if errors.As(err, &notFound) {
			h.log.Info("no offload service on this device", "paths", notFound.Paths)
		} else {
			h.log.Warn("offload service bind failed", "error", err)
		}
		return hal.VersionNone
	}
	h.binding = binding
	h.state = StateBound

	sock1, err := h.deps.NewConntrackSocket(nfnetlink.GroupsNewDestroy)
	if err != nil {
		h.log.Error("conntrack socket (new/destroy)", "error", err)
		h.teardown()
		return hal.VersionNone
	}
	sock2, err := h.deps.NewConntrackSocket(nfnetlink.GroupsUpdateDestroy)
	if err != nil {
		h.log.Error("conntrack socket (update/destroy)", "error", err)
		h.closeSocket(sock1)
		h.teardown()
		return hal.VersionNone
	}

	// Seed the offload process with connections that already exist.
	// The dump is a warm start, not a correctness requirement, so a
	// send failure does not abort the session.
	if err := nfnetlink.SendConntrackDump(sock1); err != nil {
		h.log.Warn("conntrack dump request", "error", err)
	}

	if err := binding.InitOffload(sock1.FD(), sock2.FD(), cb); err != nil {
		h.log.Error("offload service initOffload", "error", err)
		if stopErr := binding.StopOffload(); stopErr != nil {
			h.log.Warn("offload service rollback", "error", stopErr)
		}
		h.closeSocket(sock1)
		h.closeSocket(sock2)
		h.teardown()
		return hal.VersionNone
	}

	// An AIDL service holds the descriptors now; closing our copies
	// would tear the session down under it. HIDL duplicated them
	// internally, leaving ours dead weight after the handoff.
	version := binding.Version()
	if !version.TransfersFdOwnership() {
		h.closeSocket(sock1)
		h.closeSocket(sock2)
	}

	h.version = version
	h.state = StateRunning
	h.log.Info("offload session started", "version", version.String())
	return version
}

// StopOffload ends the session. Local state always lands in
// StateStopped; a service-side stop failure is logged, not surfaced,
// because there is nothing a caller can do with it.
func (h *HardwareInterface) StopOffload() {
	if h.binding != nil {
		if err := h.binding.StopOffload(); err != nil {
			h.log.Warn("offload service stopOffload", "error", err)
		}
	}
	h.teardown()
	h.state = StateStopped
	h.log.Info("offload session stopped")
}

// Version reports the generation negotiated by the last successful
// InitOffload, or VersionNone.
func (h *HardwareInterface) Version() hal.Version {
	return h.version
}

// State reports the session lifecycle state.
func (h *HardwareInterface) State() State {
	return h.state
}

// SetDataWarningAndLimit arms both the warning and the hard limit on
// an upstream. Only HIDL 1.1 and AIDL services implement it; on
// older generations the call fails fast with UnsupportedError
// before reaching the service.
func (h *HardwareInterface) SetDataWarningAndLimit(upstream string, warningBytes, limitBytes uint64) error {
	if !h.version.AtLeast(hal.VersionHIDL11) {
		return &hal.UnsupportedError{Op: "setDataWarningAndLimit", Version: h.version}
	}
	return h.binding.SetDataWarningAndLimit(upstream, warningBytes, limitBytes)
}

// SetUpstreamParameters forwards the upstream topology. The service
// contract rejects absent fields, so a nil gateway list is sent as
// an empty one.
func (h *HardwareInterface) SetUpstreamParameters(params hal.UpstreamParameters) error {
	if params.IPv6Gateways == nil {
		params.IPv6Gateways = []string{}
	}
	return h.binding.SetUpstreamParameters(params)
}

// The remaining calls pass through to the bound service. They
// require a prior successful InitOffload; unbound use is a caller
// bug and panics.

func (h *HardwareInterface) GetForwardedStats(upstream string) (hal.ForwardedStats, error) {
	return h.binding.GetForwardedStats(upstream)
}

func (h *HardwareInterface) SetLocalPrefixes(prefixes []string) error {
	return h.binding.SetLocalPrefixes(prefixes)
}

func (h *HardwareInterface) SetDataLimit(upstream string, limitBytes uint64) error {
	return h.binding.SetDataLimit(upstream, limitBytes)
}

func (h *HardwareInterface) AddDownstream(iface, prefix string) error {
	return h.binding.AddDownstream(iface, prefix)
}

func (h *HardwareInterface) RemoveDownstream(iface, prefix string) error {
	return h.binding.RemoveDownstream(iface, prefix)
}

// teardown drops the binding; the binding stops callback delivery
// when it closes. Descriptors whose ownership transferred to the
// service are left untouched.
func (h *HardwareInterface) teardown() {
	if c, ok := h.binding.(io.Closer); ok {
		if err := c.Close(); err != nil {
			h.log.Debug("closing offload binding", "error", err)
		}
	}
	h.binding = nil
	h.version = hal.VersionNone
	h.state = StateUninitialized
}

func (h *HardwareInterface) closeSocket(s ConntrackSocket) {
	if err := s.Close(); err != nil {
		h.log.Warn("closing conntrack socket", "error", err)
	}
}
