package hal

// Wire protocol: one JSON document per SOCK_SEQPACKET packet. The
// client sends requests and reads packets off the connection; a
// packet with a non-empty "event" field is an asynchronous session
// event, anything else is the response to the request in flight.
// Requests are strictly serialized, so one outstanding response at a
// time is an invariant of the protocol, not a limitation.

const (
	methodHello                  = "hello"
	methodInitOffload            = "init_offload"
	methodStopOffload            = "stop_offload"
	methodGetForwardedStats      = "get_forwarded_stats"
	methodSetLocalPrefixes       = "set_local_prefixes"
	methodSetDataLimit           = "set_data_limit"
	methodSetDataWarningAndLimit = "set_data_warning_and_limit"
	methodSetUpstreamParameters  = "set_upstream_parameters"
	methodAddDownstream          = "add_downstream"
	methodRemoveDownstream       = "remove_downstream"
)

const (
	eventStarted             = "started"
	eventStoppedError        = "stopped_error"
	eventStoppedUnsupported  = "stopped_unsupported"
	eventSupportAvailable    = "support_available"
	eventStoppedLimitReached = "stopped_limit_reached"
	eventWarningReached      = "warning_reached"
	eventNatTimeoutUpdate    = "nat_timeout_update"
)

type wireRequest struct {
	Method       string        `json:"method"`
	Iface        string        `json:"iface,omitempty"`
	Prefix       string        `json:"prefix,omitempty"`
	Prefixes     []string      `json:"prefixes,omitempty"`
	WarningBytes uint64        `json:"warning_bytes,omitempty"`
	LimitBytes   uint64        `json:"limit_bytes,omitempty"`
	Upstream     *wireUpstream `json:"upstream,omitempty"`
}

// wireUpstream carries every field explicitly. The service contract
// wants empty strings and an empty list, never nulls.
type wireUpstream struct {
	Iface        string   `json:"iface"`
	IPv4Addr     string   `json:"ipv4_addr"`
	IPv4Gateway  string   `json:"ipv4_gw"`
	IPv6Gateways []string `json:"ipv6_gws"`
}

type wirePacket struct {
	// Response fields.
	OK      bool   `json:"ok,omitempty"`
	Error   string `json:"error,omitempty"`
	Version int    `json:"version,omitempty"`
	RxBytes uint64 `json:"rx_bytes,omitempty"`
	TxBytes uint64 `json:"tx_bytes,omitempty"`

	// Event fields.
	Event string `json:"event,omitempty"`
	Proto uint8  `json:"proto,omitempty"`
	Src   string `json:"src,omitempty"`
	Dst   string `json:"dst,omitempty"`
}

// versionFromWire maps the handshake version code. The service
// reports the same numbering Version uses; zero or out-of-range
// codes are a protocol error, never a negotiated "none".
func versionFromWire(code int) (Version, bool) {
	v := Version(code)
	switch v {
	case VersionHIDL10, VersionHIDL11, VersionAIDL:
		return v, true
	default:
		return VersionNone, false
	}
}

// maxPacket bounds one wire packet. Requests and responses are tiny;
// anything larger is a broken peer.
const maxPacket = 64 * 1024
