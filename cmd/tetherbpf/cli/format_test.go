package cli_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherbpf/tetherbpf/cmd/tetherbpf/cli"
	"github.com/tetherbpf/tetherbpf/doctor"
)

func sampleReport() cli.StatusReport {
	count := 3
	return cli.StatusReport{
		NetdStageDone:   true,
		TetherStageDone: false,
		Socket:          "/run/tetherbpf-sock/tetherbpf.sock",
		DaemonRunning:   true,
		TaggedSockets:   &count,
		Attachments: []cli.AttachmentView{{
			Program:    "prog_netd_cgroupskb_ingress_stats",
			AttachType: "CGroupInetIngress",
			CgroupPath: "/sys/fs/cgroup",
			ProgramID:  42,
			AttachedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		}},
		Loads: []cli.LoadView{{
			Stage:     "netd",
			Object:    "netd.o",
			Outcome:   "loaded",
			Elapsed:   "12ms",
			CreatedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		}},
	}
}

func TestFormatStatus_Table(t *testing.T) {
	out, err := cli.FormatStatus(sampleReport(), &cli.OutputFlags{Output: "table"})
	require.NoError(t, err)

	assert.Contains(t, out, "running, 3 tagged sockets")
	assert.Contains(t, out, "/run/tetherbpf-sock/tetherbpf.sock")
	assert.Contains(t, out, "netd stage:")
	assert.Contains(t, out, "loaded")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "ATTACHMENTS")
	assert.Contains(t, out, "prog_netd_cgroupskb_ingress_stats")
	assert.Contains(t, out, "RECENT LOADS")
	assert.Contains(t, out, "netd.o")
}

func TestFormatStatus_TableOmitsEmptySections(t *testing.T) {
	report := cli.StatusReport{Socket: "/tmp/x.sock"}
	out, err := cli.FormatStatus(report, &cli.OutputFlags{Output: "table"})
	require.NoError(t, err)

	assert.Contains(t, out, "not running")
	assert.NotContains(t, out, "ATTACHMENTS")
	assert.NotContains(t, out, "RECENT LOADS")
}

func TestFormatStatus_JSON(t *testing.T) {
	out, err := cli.FormatStatus(sampleReport(), &cli.OutputFlags{Output: "json"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["netd_stage_done"])
	assert.Equal(t, false, decoded["tethering_stage_done"])
	assert.Equal(t, float64(3), decoded["tagged_sockets"])
}

func TestFormatStatus_JSONOmitsAbsentCount(t *testing.T) {
	out, err := cli.FormatStatus(cli.StatusReport{}, &cli.OutputFlags{Output: "json"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.NotContains(t, decoded, "tagged_sockets")
}

func TestFormatConntrack_Table(t *testing.T) {
	flows := []cli.FlowView{{
		Proto:     "tcp",
		Src:       "192.168.43.17:40022",
		Dst:       "203.0.113.9:443",
		OrigBytes: 1234,
		ReplBytes: 5678,
		TimeoutS:  117,
	}}

	out, err := cli.FormatConntrack(flows, &cli.OutputFlags{Output: "table"})
	require.NoError(t, err)

	assert.Contains(t, out, "PROTO")
	assert.Contains(t, out, "tcp")
	assert.Contains(t, out, "192.168.43.17:40022")
	assert.Contains(t, out, "117s")
}

func TestFormatDoctor_CleanReport(t *testing.T) {
	out, err := cli.FormatDoctor(doctor.Report{}, &cli.OutputFlags{Output: "table"})
	require.NoError(t, err)
	assert.Equal(t, "no problems found\n", out)
}

func TestFormatDoctor_Findings(t *testing.T) {
	report := doctor.Report{Findings: []doctor.Finding{
		{Severity: doctor.SeverityError, Category: "loader", Description: "marker published but map missing"},
		{Severity: doctor.SeverityWarning, Category: "daemon", Description: "control service not reachable"},
	}}

	out, err := cli.FormatDoctor(report, &cli.OutputFlags{Output: "table"})
	require.NoError(t, err)
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "[loader]")
	assert.Contains(t, out, "WARNING")

	jsonOut, err := cli.FormatDoctor(report, &cli.OutputFlags{Output: "json"})
	require.NoError(t, err)

	var decoded []cli.FindingView
	require.NoError(t, json.Unmarshal([]byte(jsonOut), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "ERROR", decoded[0].Severity)
	assert.Equal(t, "daemon", decoded[1].Category)
}

func TestFormatConntrack_JSON(t *testing.T) {
	flows := []cli.FlowView{{Proto: "udp", Src: "10.0.0.1:53", Dst: "10.0.0.2:53"}}

	out, err := cli.FormatConntrack(flows, &cli.OutputFlags{Output: "json"})
	require.NoError(t, err)

	var decoded []cli.FlowView
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "udp", decoded[0].Proto)
}
