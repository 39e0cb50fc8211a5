package netd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	tetherbpf "github.com/tetherbpf/tetherbpf"
)

func pins(programs []cgroupProgram) []string {
	out := make([]string, 0, len(programs))
	for _, p := range programs {
		out = append(out, p.pin)
	}
	return out
}

func TestCgroupPrograms_Gating(t *testing.T) {
	tests := []struct {
		name     string
		platform tetherbpf.Platform
		want     []string
	}{
		{
			name:     "kernel below every gate",
			platform: tetherbpf.NewPlatform(4, 9, tetherbpf.SdkLevelV),
			want:     []string{},
		},
		{
			name:     "old sdk keeps the accounting baseline",
			platform: tetherbpf.NewPlatform(6, 6, 30),
			want: []string{
				"prog_netd_cgroupskb_ingress_stats",
				"prog_netd_cgroupskb_egress_stats",
				"prog_netd_cgroupsock_inet_create",
			},
		},
		{
			name:     "sdk t on a 4.19 kernel",
			platform: tetherbpf.NewPlatform(4, 19, tetherbpf.SdkLevelT),
			want: []string{
				"prog_netd_cgroupskb_ingress_stats",
				"prog_netd_cgroupskb_egress_stats",
				"prog_netd_cgroupsock_inet_create",
				"prog_netd_connect4_inet4_connect",
				"prog_netd_connect6_inet6_connect",
				"prog_netd_sendmsg4_udp4_sendmsg",
				"prog_netd_sendmsg6_udp6_sendmsg",
			},
		},
		{
			name:     "modern kernel and sdk select everything",
			platform: tetherbpf.NewPlatform(6, 6, tetherbpf.SdkLevelV),
			want: []string{
				"prog_netd_cgroupskb_ingress_stats",
				"prog_netd_cgroupskb_egress_stats",
				"prog_netd_cgroupsock_inet_create",
				"prog_netd_cgroupsockrelease_inet_release",
				"prog_netd_connect4_inet4_connect",
				"prog_netd_connect6_inet6_connect",
				"prog_netd_sendmsg4_udp4_sendmsg",
				"prog_netd_sendmsg6_udp6_sendmsg",
				"prog_netd_recvmsg4_udp4_recvmsg",
				"prog_netd_recvmsg6_udp6_recvmsg",
				"prog_netd_getsockopt_prog",
				"prog_netd_setsockopt_prog",
				"prog_netd_bind4_inet4_bind",
				"prog_netd_bind6_inet6_bind",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pins(cgroupPrograms(tt.platform)))
		})
	}
}

func TestCgroupProgramTable_Invariants(t *testing.T) {
	seenPins := make(map[string]bool)
	seenAttach := make(map[string]bool)

	for _, cp := range cgroupProgramTable {
		assert.True(t, strings.HasPrefix(cp.pin, "prog_netd_"), "pin %q", cp.pin)
		assert.False(t, seenPins[cp.pin], "duplicate pin %q", cp.pin)
		seenPins[cp.pin] = true

		// One program per hook: a second row for the same attach
		// type would silently replace the first on legacy kernels.
		name := cp.attach.String()
		assert.False(t, seenAttach[name], "duplicate attach type %s", name)
		seenAttach[name] = true
	}
}
