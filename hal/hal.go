// Package hal binds to the privileged offload-management process.
//
// The process lives outside this daemon and owns the hardware
// fast-path. We hand it two conntrack netlink sockets at session
// start and steer it with small control calls; it reports session
// state changes back through Callbacks. Two service generations
// exist, HIDL (1.0 and 1.1) and AIDL, negotiated at bind time.
package hal

import (
	"fmt"
	"net/netip"
)

// Version identifies the negotiated offload service generation.
// Ordering is meaningful: later versions support everything earlier
// ones do.
type Version int

const (
	VersionNone Version = iota
	VersionHIDL10
	VersionHIDL11
	VersionAIDL
)

func (v Version) String() string {
	switch v {
	case VersionNone:
		return "none"
	case VersionHIDL10:
		return "HIDL 1.0"
	case VersionHIDL11:
		return "HIDL 1.1"
	case VersionAIDL:
		return "AIDL"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// AtLeast reports whether v is min or newer. VersionNone is never at
// least anything.
func (v Version) AtLeast(min Version) bool {
	return v != VersionNone && v >= min
}

// TransfersFdOwnership reports whether handing fds to this service
// generation transfers ownership. AIDL keeps the original
// descriptors alive in the remote process, so the local copies must
// not be closed; HIDL duplicates internally and the local copies
// must be closed after handoff.
func (v Version) TransfersFdOwnership() bool {
	return v == VersionAIDL
}

// ForwardedStats is the byte count the hardware moved on one
// upstream since the current session started.
type ForwardedStats struct {
	RxBytes uint64
	TxBytes uint64
}

// UpstreamParameters describes the upstream interface the hardware
// forwards tethered traffic onto. Zero values mean "not configured";
// the service contract wants empty strings and an empty list rather
// than absent fields.
type UpstreamParameters struct {
	Iface        string
	IPv4Addr     string
	IPv4Gateway  string
	IPv6Gateways []string
}

// Callbacks receives session events from the offload process. The
// transport invokes them on its own goroutine; no ordering is
// guaranteed relative to in-flight control calls beyond "after the
// corresponding state change".
type Callbacks interface {
	OnStarted()
	OnStoppedError()
	OnStoppedUnsupported()
	OnSupportAvailable()
	OnStoppedLimitReached()
	OnWarningReached()
	OnNatTimeoutUpdate(proto uint8, src, dst netip.AddrPort)
}

// Offload is the control surface of the offload-management process.
type Offload interface {
	// InitOffload starts a session: the two conntrack sockets are
	// transferred on the request and events begin flowing to cb.
	InitOffload(fd1, fd2 int, cb Callbacks) error

	// StopOffload ends the session and stops event delivery.
	StopOffload() error

	// Version reports the generation negotiated at bind time.
	Version() Version

	GetForwardedStats(upstream string) (ForwardedStats, error)
	SetLocalPrefixes(prefixes []string) error
	SetDataLimit(upstream string, limitBytes uint64) error
	SetDataWarningAndLimit(upstream string, warningBytes, limitBytes uint64) error
	SetUpstreamParameters(params UpstreamParameters) error
	AddDownstream(iface, prefix string) error
	RemoveDownstream(iface, prefix string) error
}

// UnsupportedError reports an operation the negotiated service
// generation cannot perform. It is a contract violation by the
// caller, distinct from a transient service failure.
type UnsupportedError struct {
	Op      string
	Version Version
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: unsupported on offload HAL %s", e.Op, e.Version)
}

// ServiceNotFoundError reports that no offload service socket could
// be reached. This is the normal state on devices without offload
// hardware, not a fault.
type ServiceNotFoundError struct {
	Paths []string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("no offload service at %v", e.Paths)
}

// CallError reports a control call the service refused.
type CallError struct {
	Method string
	Reason string
}

func (e *CallError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("offload %s failed", e.Method)
	}
	return fmt.Sprintf("offload %s failed: %s", e.Method, e.Reason)
}
