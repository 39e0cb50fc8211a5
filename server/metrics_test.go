package server

import (
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherbpf/tetherbpf/metrics"
)

func TestServeMetrics_ServesRegistry(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := metrics.New()
	stop := serveMetricsOn(lis, m, testLogger())
	defer stop()

	resp, err := http.Get("http://" + lis.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tetherbpf_hal_sessions")
}

func TestServeMetrics_BadAddressFails(t *testing.T) {
	_, err := serveMetrics("host:notaport", metrics.New(), testLogger())
	assert.Error(t, err)
}
