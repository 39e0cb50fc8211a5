package netd

import (
	"path/filepath"

	tetherbpf "github.com/tetherbpf/tetherbpf"
	"github.com/tetherbpf/tetherbpf/bpfmap"
)

// OpenMaps opens the five pinned netd maps under dir. The cookie-tag
// map comes last so that a usable CookieTag handle implies every
// other map opened as well. On failure the handles opened so far are
// closed; no fd leaks out of a failed open.
func OpenMaps(dir string) (Maps, error) {
	var m Maps
	fail := func(err error) (Maps, error) {
		m.Close()
		return Maps{}, err
	}

	var err error
	m.StatsA, err = bpfmap.OpenPinned[tetherbpf.StatsKey, tetherbpf.StatsValue](filepath.Join(dir, tetherbpf.StatsMapAName))
	if err != nil {
		return fail(err)
	}
	m.StatsB, err = bpfmap.OpenPinned[tetherbpf.StatsKey, tetherbpf.StatsValue](filepath.Join(dir, tetherbpf.StatsMapBName))
	if err != nil {
		return fail(err)
	}
	m.Configuration, err = bpfmap.OpenPinned[uint32, uint32](filepath.Join(dir, tetherbpf.ConfigurationMapName))
	if err != nil {
		return fail(err)
	}
	m.UidPermission, err = bpfmap.OpenPinned[uint32, tetherbpf.UidPermission](filepath.Join(dir, tetherbpf.UidPermissionMapName))
	if err != nil {
		return fail(err)
	}
	m.CookieTag, err = bpfmap.OpenPinned[uint64, tetherbpf.UidTagValue](filepath.Join(dir, tetherbpf.CookieTagMapName))
	if err != nil {
		return fail(err)
	}

	return m, nil
}
