package netd

import (
	"golang.org/x/sys/unix"

	tetherbpf "github.com/tetherbpf/tetherbpf"
	"github.com/tetherbpf/tetherbpf/bpfmap"
)

// TagSocket charges the socket behind sockFd to (chargeUid, tag).
// realUid is the authenticated uid of the caller, taken from the
// connection's peer credentials, never from the request body.
//
// Failures are returned as errno values, untranslated: EPERM for
// permission and map-validity failures, EAFNOSUPPORT/EPROTONOSUPPORT
// for socket classes the destroy listener cannot clean up after,
// EINVAL for a corrupt stats selector, EMFILE when an entry ceiling
// is reached, and whatever the kernel reported otherwise.
func (h *Handler) TagSocket(sockFd int, tag uint32, chargeUid, realUid uint32) error {
	if h.maps.CookieTag == nil {
		return unix.EPERM
	}
	if chargeUid != realUid && !h.hasUpdateDeviceStatsPermission(realUid) {
		return unix.EPERM
	}
	// CLAT traffic is tagged by a privileged native path elsewhere;
	// accepting it here would double-count.
	if chargeUid == tetherbpf.AidClat {
		return unix.EPERM
	}

	info, err := h.deps.SocketInfo(sockFd)
	if err != nil {
		return err
	}
	// The destroy listener only observes inet TCP/UDP sockets. A tag
	// on any other class would never be cleaned up automatically.
	if info.Family != unix.AF_INET && info.Family != unix.AF_INET6 {
		return unix.EAFNOSUPPORT
	}
	if info.Protocol != unix.IPPROTO_TCP && info.Protocol != unix.IPPROTO_UDP {
		return unix.EPROTONOSUPPORT
	}

	active, err := h.activeStatsMap()
	if err != nil {
		return err
	}
	if err := checkTaggedEntryCeilings(active, chargeUid); err != nil {
		return err
	}

	value := tetherbpf.UidTagValue{Uid: chargeUid, Tag: tag}
	if err := h.maps.CookieTag.Update(info.Cookie, value, bpfmap.UpdateAny); err != nil {
		return err
	}
	h.log.Debug("tagged socket", "cookie", info.Cookie, "tag", tag, "uid", chargeUid)
	return nil
}

// UntagSocket removes the cookie-tag entry for the socket behind
// sockFd. Deleting an entry that does not exist returns the kernel's
// ENOENT; callers treat that as already-untagged.
func (h *Handler) UntagSocket(sockFd int) error {
	if h.maps.CookieTag == nil {
		return unix.EPERM
	}

	info, err := h.deps.SocketInfo(sockFd)
	if err != nil {
		return err
	}

	if err := h.maps.CookieTag.Delete(info.Cookie); err != nil {
		return err
	}
	h.log.Debug("untagged socket", "cookie", info.Cookie)
	return nil
}

// TaggedSocketCount reports the number of live cookie-tag entries.
func (h *Handler) TaggedSocketCount() (int, error) {
	if h.maps.CookieTag == nil {
		return 0, unix.EPERM
	}

	var n int
	err := h.maps.CookieTag.ForEach(func(uint64, tetherbpf.UidTagValue) bool {
		n++
		return true
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// hasUpdateDeviceStatsPermission reports whether uid may charge
// traffic to another uid. Root, system and the DNS resolver are
// always allowed; everything else needs the update-device-stats bit
// in the permission map for its app id.
func (h *Handler) hasUpdateDeviceStatsPermission(uid uint32) bool {
	appID := tetherbpf.AppID(uid)
	switch appID {
	case tetherbpf.AidRoot, tetherbpf.AidSystem, tetherbpf.AidDns:
		return true
	}

	perm, err := h.maps.UidPermission.Lookup(appID)
	if err != nil {
		return false
	}
	return perm.Has(tetherbpf.PermissionUpdateDeviceStats)
}

// activeStatsMap resolves the live stats map through the selector
// slot. A selector outside {A, B} means the configuration map is
// corrupt and surfaces as EINVAL.
func (h *Handler) activeStatsMap() (bpfmap.Map[tetherbpf.StatsKey, tetherbpf.StatsValue], error) {
	sel, err := h.maps.Configuration.Lookup(tetherbpf.CurrentStatsMapConfigurationKey)
	if err != nil {
		return nil, err
	}
	switch sel {
	case tetherbpf.SelectMapA:
		return h.maps.StatsA, nil
	case tetherbpf.SelectMapB:
		return h.maps.StatsB, nil
	default:
		return nil, unix.EINVAL
	}
}

// checkTaggedEntryCeilings walks the active stats map and rejects the
// tag with EMFILE when chargeUid already holds its per-uid share of
// entries or the map as a whole is at the global ceiling.
//
// The walk is deliberately unsynchronized with the stats rotation
// service and with concurrent taggers. Counts are approximate under
// concurrent load; the ceilings hold eventually, not instantaneously.
func checkTaggedEntryCeilings(active bpfmap.Map[tetherbpf.StatsKey, tetherbpf.StatsValue], chargeUid uint32) error {
	var total, forUid uint32
	err := active.ForEach(func(key tetherbpf.StatsKey, _ tetherbpf.StatsValue) bool {
		total++
		if key.Uid == chargeUid {
			forUid++
		}
		return true
	})
	if err != nil {
		return err
	}

	if forUid >= tetherbpf.PerUidStatsEntriesLimit {
		return unix.EMFILE
	}
	if total >= tetherbpf.TotalStatsEntriesLimit(active.MaxEntries()) {
		return unix.EMFILE
	}
	return nil
}
