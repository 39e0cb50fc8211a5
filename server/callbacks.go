package server

import (
	"log/slog"
	"net/netip"

	"github.com/tetherbpf/tetherbpf/hal"
	"github.com/tetherbpf/tetherbpf/metrics"
)

// sessionCallbacks is the daemon's consumer of offload session events.
// Events arrive on the binding's delivery goroutine; everything here
// must be cheap and non-blocking.
type sessionCallbacks struct {
	metrics *metrics.Metrics
	log     *slog.Logger
}

var _ hal.Callbacks = (*sessionCallbacks)(nil)

func newSessionCallbacks(m *metrics.Metrics, log *slog.Logger) *sessionCallbacks {
	return &sessionCallbacks{
		metrics: m,
		log:     log.With("component", "offload"),
	}
}

func (c *sessionCallbacks) OnStarted() {
	c.metrics.HalSessions.Set(1)
	c.log.Info("offload session started")
}

func (c *sessionCallbacks) OnStoppedError() {
	c.metrics.HalSessions.Set(0)
	c.log.Warn("offload session stopped on error")
}

func (c *sessionCallbacks) OnStoppedUnsupported() {
	c.metrics.HalSessions.Set(0)
	c.log.Warn("offload session stopped, configuration not offloadable")
}

func (c *sessionCallbacks) OnSupportAvailable() {
	c.log.Info("offload support available again")
}

func (c *sessionCallbacks) OnStoppedLimitReached() {
	c.metrics.HalSessions.Set(0)
	c.log.Info("offload session stopped, data limit reached")
}

func (c *sessionCallbacks) OnWarningReached() {
	c.log.Info("offload data warning reached")
}

func (c *sessionCallbacks) OnNatTimeoutUpdate(proto uint8, src, dst netip.AddrPort) {
	c.log.Debug("nat timeout update",
		"proto", proto,
		"src", src.String(),
		"dst", dst.String())
}
