package loader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tetherbpf "github.com/tetherbpf/tetherbpf"
	"github.com/tetherbpf/tetherbpf/loader"
)

func writeObject(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F'}, 0o644))
	return path
}

func TestScanObjects(t *testing.T) {
	dir := t.TempDir()
	writeObject(t, dir, "netd.o")
	writeObject(t, dir, "clatd.o")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), nil, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "disabled.o"), 0o755))

	objs, err := loader.ScanObjects([]string{dir}, []string{"clatd.o"})
	require.NoError(t, err)

	require.Len(t, objs, 2)
	assert.Equal(t, "clatd.o", objs[0].Name)
	assert.True(t, objs[0].Optional)
	assert.Equal(t, "netd.o", objs[1].Name)
	assert.False(t, objs[1].Optional)
	assert.Equal(t, filepath.Join(dir, "netd.o"), objs[1].Path)
}

func TestScanObjects_DirectoryOrderBeatsNameOrder(t *testing.T) {
	first := filepath.Join(t.TempDir(), "first")
	second := filepath.Join(t.TempDir(), "second")
	writeObject(t, first, "zz.o")
	writeObject(t, second, "aa.o")

	objs, err := loader.ScanObjects([]string{first, second}, nil)
	require.NoError(t, err)

	require.Len(t, objs, 2)
	assert.Equal(t, "zz.o", objs[0].Name)
	assert.Equal(t, "aa.o", objs[1].Name)
}

func TestScanObjects_MissingDirectorySkipped(t *testing.T) {
	dir := t.TempDir()
	writeObject(t, dir, "netd.o")

	objs, err := loader.ScanObjects([]string{filepath.Join(dir, "absent"), dir}, nil)
	require.NoError(t, err)

	require.Len(t, objs, 1)
	assert.Equal(t, "netd.o", objs[0].Name)
}

func TestObjectStem(t *testing.T) {
	assert.Equal(t, "netd", loader.Object{Name: "netd.o"}.Stem())
	assert.Equal(t, "offload", loader.Object{Name: "offload.o"}.Stem())
}

// Pin names must come out exactly where the tag path looks for them.
func TestPinNames_MatchAccountingMapNames(t *testing.T) {
	assert.Equal(t, tetherbpf.CookieTagMapName, loader.MapPinName("netd", "cookie_tag_map"))
	assert.Equal(t, tetherbpf.StatsMapAName, loader.MapPinName("netd", "stats_map_A"))
	assert.Equal(t, tetherbpf.StatsMapBName, loader.MapPinName("netd", "stats_map_B"))
	assert.Equal(t, tetherbpf.ConfigurationMapName, loader.MapPinName("netd", "configuration_map"))
	assert.Equal(t, tetherbpf.UidPermissionMapName, loader.MapPinName("netd", "uid_permission_map"))
}

func TestProgPinName_FlattensSections(t *testing.T) {
	tests := []struct {
		stem    string
		section string
		want    string
	}{
		{"netd", "cgroupskb/ingress/stats", "prog_netd_cgroupskb_ingress_stats"},
		{"netd", "cgroupsock/inet/create", "prog_netd_cgroupsock_inet_create"},
		{"offload", "schedcls/tether_downstream6_ether", "prog_offload_schedcls_tether_downstream6_ether"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, loader.ProgPinName(tc.stem, tc.section))
	}
}
