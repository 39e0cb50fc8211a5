package tetherbpf

import "fmt"

// UidTagValue is the value stored in the cookie-tag map. It names the
// accounting bucket a tagged socket charges: the uid paying for the
// traffic and the caller-chosen tag grouping it.
type UidTagValue struct {
	Uid uint32
	Tag uint32
}

// StatsKey identifies one accounting bucket in a stats map.
type StatsKey struct {
	Uid        uint32
	Tag        uint32
	CounterSet uint32
	IfaceIndex uint32
}

// StatsValue holds the packet and byte counters for one StatsKey.
type StatsValue struct {
	RxPackets uint64
	RxBytes   uint64
	TxPackets uint64
	TxBytes   uint64
}

// Total returns rx+tx bytes for display purposes.
func (v StatsValue) Total() uint64 {
	return v.RxBytes + v.TxBytes
}

// Configuration map slots. The configuration map is a two-element
// array; slot 1 holds the live stats map selector.
const (
	UidRulesConfigurationKey        uint32 = 0
	CurrentStatsMapConfigurationKey uint32 = 1
)

// Values held in the stats-map selector slot. Any other value read
// from the slot indicates map corruption.
const (
	SelectMapA uint32 = 0
	SelectMapB uint32 = 1
)

// UidPermission is the bitmask stored per appId in the uid-permission
// map. Populated by the platform permission controller; read-only
// here.
type UidPermission uint8

const (
	PermissionNone              UidPermission = 0
	PermissionNetwork           UidPermission = 1 << 0
	PermissionSystem            UidPermission = 1 << 1
	PermissionInternet          UidPermission = 1 << 2
	PermissionUpdateDeviceStats UidPermission = 1 << 3
)

// Has reports whether p contains all bits of q.
func (p UidPermission) Has(q UidPermission) bool {
	return p&q == q
}

// Well-known Android uids relevant to tagging decisions.
const (
	AidRoot   uint32 = 0
	AidSystem uint32 = 1000
	AidClat   uint32 = 1029
	AidDns    uint32 = 1051
)

// PerUserRange is the uid span of one Android user profile. The appId
// is the uid with the user component stripped.
const PerUserRange uint32 = 100000

// AppID strips the user-profile component from a uid.
func AppID(uid uint32) uint32 {
	return uid % PerUserRange
}

// Entry ceilings enforced before a cookie-tag insert. The per-uid
// limit caps how many tagged sockets one uid may hold; the total limit
// keeps a tenth of the stats map free so untagged-traffic accounting
// for other uids cannot be starved out by tagged entries.
const PerUidStatsEntriesLimit = 500

// TotalStatsEntriesLimit returns the global tagged-entry ceiling for a
// stats map with the given capacity: 90% of it, the other 10% being
// the reserve.
func TotalStatsEntriesLimit(maxEntries uint32) uint32 {
	return maxEntries / 10 * 9
}

// Pinned object names under the netd bpffs directory. These names are
// a compatibility surface shared with the loader and the kernel-side
// programs; they must not change.
const (
	CookieTagMapName     = "map_netd_cookie_tag_map"
	StatsMapAName        = "map_netd_stats_map_A"
	StatsMapBName        = "map_netd_stats_map_B"
	ConfigurationMapName = "map_netd_configuration_map"
	UidPermissionMapName = "map_netd_uid_permission_map"
)

// SelectorString renders a stats-map selector value for logs.
func SelectorString(sel uint32) string {
	switch sel {
	case SelectMapA:
		return "A"
	case SelectMapB:
		return "B"
	default:
		return fmt.Sprintf("invalid(%d)", sel)
	}
}
