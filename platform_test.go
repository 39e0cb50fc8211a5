package tetherbpf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tetherbpf/tetherbpf"
)

func TestPlatform_AtLeastKernel(t *testing.T) {
	tests := []struct {
		name         string
		major, minor int
		wantMajor    int
		wantMinor    int
		want         bool
	}{
		{name: "equal", major: 4, minor: 19, wantMajor: 4, wantMinor: 19, want: true},
		{name: "newer minor", major: 4, minor: 20, wantMajor: 4, wantMinor: 19, want: true},
		{name: "older minor", major: 4, minor: 18, wantMajor: 4, wantMinor: 19, want: false},
		{name: "newer major older minor", major: 5, minor: 4, wantMajor: 4, wantMinor: 19, want: true},
		{name: "older major newer minor", major: 3, minor: 99, wantMajor: 4, wantMinor: 19, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tetherbpf.NewPlatform(tt.major, tt.minor, tetherbpf.SdkLevelU)
			assert.Equal(t, tt.want, p.AtLeastKernel(tt.wantMajor, tt.wantMinor))
		})
	}
}

func TestPlatform_AtLeastSdk(t *testing.T) {
	p := tetherbpf.NewPlatform(6, 6, tetherbpf.SdkLevelU)
	assert.True(t, p.AtLeastSdk(tetherbpf.SdkLevelT))
	assert.True(t, p.AtLeastSdk(tetherbpf.SdkLevelU))
	assert.False(t, p.AtLeastSdk(tetherbpf.SdkLevelV))
}

func TestAppID(t *testing.T) {
	tests := []struct {
		name string
		uid  uint32
		want uint32
	}{
		{name: "primary user", uid: 10057, want: 10057},
		{name: "secondary user", uid: 1010057, want: 10057},
		{name: "root", uid: 0, want: 0},
		{name: "system in secondary user", uid: 101000, want: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tetherbpf.AppID(tt.uid))
		})
	}
}

func TestTotalStatsEntriesLimit(t *testing.T) {
	assert.Equal(t, uint32(3681), tetherbpf.TotalStatsEntriesLimit(4096))
	assert.Equal(t, uint32(90), tetherbpf.TotalStatsEntriesLimit(100))
	assert.Equal(t, uint32(0), tetherbpf.TotalStatsEntriesLimit(5))
}

func TestUidPermission_Has(t *testing.T) {
	p := tetherbpf.PermissionInternet | tetherbpf.PermissionUpdateDeviceStats
	assert.True(t, p.Has(tetherbpf.PermissionUpdateDeviceStats))
	assert.True(t, p.Has(tetherbpf.PermissionInternet))
	assert.False(t, tetherbpf.PermissionInternet.Has(tetherbpf.PermissionUpdateDeviceStats))
	assert.True(t, p.Has(tetherbpf.PermissionNone))
}
