package hal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/tetherbpf/tetherbpf/fdpass"
)

// Client speaks the wire protocol to one offload service socket.
// Control calls are serialized internally; events are delivered from
// a dedicated reader goroutine.
type Client struct {
	conn    *net.UnixConn
	version Version
	log     *slog.Logger

	mu sync.Mutex // one control call in flight at a time

	cbMu sync.Mutex
	cb   Callbacks

	resp    chan wirePacket
	done    chan struct{}
	readErr error // set before done closes
}

var _ Offload = (*Client)(nil)

// Dial connects to the offload service socket at path and performs
// the version handshake.
func Dial(path string, log *slog.Logger) (*Client, error) {
	addr := &net.UnixAddr{Name: path, Net: "unixpacket"}
	conn, err := net.DialUnix("unixpacket", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial offload service: %w", err)
	}

	c := &Client{
		conn: conn,
		log:  log.With("component", "hal"),
		resp: make(chan wirePacket, 1),
		done: make(chan struct{}),
	}
	go c.readLoop()

	pkt, err := c.call(wireRequest{Method: methodHello})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	v, ok := versionFromWire(pkt.Version)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("handshake: unknown version code %d", pkt.Version)
	}
	c.version = v
	c.log.Debug("bound offload service", "path", path, "version", v.String())
	return c, nil
}

func (c *Client) readLoop() {
	buf := make([]byte, maxPacket)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			c.readErr = err
			close(c.done)
			return
		}

		var pkt wirePacket
		if err := json.Unmarshal(buf[:n], &pkt); err != nil {
			c.log.Warn("dropping malformed packet", "error", err)
			continue
		}
		if pkt.Event != "" {
			c.dispatch(pkt)
			continue
		}
		select {
		case c.resp <- pkt:
		default:
			c.log.Warn("dropping response with no call in flight")
		}
	}
}

func (c *Client) dispatch(pkt wirePacket) {
	c.cbMu.Lock()
	cb := c.cb
	c.cbMu.Unlock()
	if cb == nil {
		return
	}

	switch pkt.Event {
	case eventStarted:
		cb.OnStarted()
	case eventStoppedError:
		cb.OnStoppedError()
	case eventStoppedUnsupported:
		cb.OnStoppedUnsupported()
	case eventSupportAvailable:
		cb.OnSupportAvailable()
	case eventStoppedLimitReached:
		cb.OnStoppedLimitReached()
	case eventWarningReached:
		cb.OnWarningReached()
	case eventNatTimeoutUpdate:
		src, err := netip.ParseAddrPort(pkt.Src)
		if err != nil {
			c.log.Warn("dropping nat timeout update", "src", pkt.Src, "error", err)
			return
		}
		dst, err := netip.ParseAddrPort(pkt.Dst)
		if err != nil {
			c.log.Warn("dropping nat timeout update", "dst", pkt.Dst, "error", err)
			return
		}
		cb.OnNatTimeoutUpdate(pkt.Proto, src, dst)
	default:
		c.log.Debug("ignoring unknown event", "event", pkt.Event)
	}
}

func (c *Client) setCallbacks(cb Callbacks) {
	c.cbMu.Lock()
	c.cb = cb
	c.cbMu.Unlock()
}

// call sends one request, optionally with descriptors on its
// ancillary data, and waits for the matching response.
func (c *Client) call(req wireRequest, fds ...int) (wirePacket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A response without a call in flight means the peer is broken;
	// do not let it satisfy this call.
	select {
	case <-c.resp:
	default:
	}

	data, err := json.Marshal(req)
	if err != nil {
		return wirePacket{}, fmt.Errorf("marshal %s: %w", req.Method, err)
	}
	if err := fdpass.Send(c.conn, data, fds...); err != nil {
		return wirePacket{}, fmt.Errorf("%s: %w", req.Method, err)
	}

	select {
	case pkt := <-c.resp:
		if !pkt.OK {
			return wirePacket{}, &CallError{Method: req.Method, Reason: pkt.Error}
		}
		return pkt, nil
	case <-c.done:
		return wirePacket{}, fmt.Errorf("%s: connection lost: %w", req.Method, c.readErr)
	}
}

// InitOffload transfers the two conntrack sockets and registers cb
// for session events. Callbacks are installed before the request is
// sent; an event racing the response is delivered, not lost.
func (c *Client) InitOffload(fd1, fd2 int, cb Callbacks) error {
	c.setCallbacks(cb)
	if _, err := c.call(wireRequest{Method: methodInitOffload}, fd1, fd2); err != nil {
		c.setCallbacks(nil)
		return err
	}
	return nil
}

// StopOffload ends the session. Event delivery stops even when the
// service reports a failure.
func (c *Client) StopOffload() error {
	_, err := c.call(wireRequest{Method: methodStopOffload})
	c.setCallbacks(nil)
	return err
}

// Version reports the generation negotiated at dial time.
func (c *Client) Version() Version {
	return c.version
}

func (c *Client) GetForwardedStats(upstream string) (ForwardedStats, error) {
	pkt, err := c.call(wireRequest{Method: methodGetForwardedStats, Iface: upstream})
	if err != nil {
		return ForwardedStats{}, err
	}
	return ForwardedStats{RxBytes: pkt.RxBytes, TxBytes: pkt.TxBytes}, nil
}

func (c *Client) SetLocalPrefixes(prefixes []string) error {
	_, err := c.call(wireRequest{Method: methodSetLocalPrefixes, Prefixes: prefixes})
	return err
}

func (c *Client) SetDataLimit(upstream string, limitBytes uint64) error {
	_, err := c.call(wireRequest{
		Method:     methodSetDataLimit,
		Iface:      upstream,
		LimitBytes: limitBytes,
	})
	return err
}

func (c *Client) SetDataWarningAndLimit(upstream string, warningBytes, limitBytes uint64) error {
	_, err := c.call(wireRequest{
		Method:       methodSetDataWarningAndLimit,
		Iface:        upstream,
		WarningBytes: warningBytes,
		LimitBytes:   limitBytes,
	})
	return err
}

func (c *Client) SetUpstreamParameters(params UpstreamParameters) error {
	gws := params.IPv6Gateways
	if gws == nil {
		gws = []string{}
	}
	_, err := c.call(wireRequest{
		Method: methodSetUpstreamParameters,
		Upstream: &wireUpstream{
			Iface:        params.Iface,
			IPv4Addr:     params.IPv4Addr,
			IPv4Gateway:  params.IPv4Gateway,
			IPv6Gateways: gws,
		},
	})
	return err
}

func (c *Client) AddDownstream(iface, prefix string) error {
	_, err := c.call(wireRequest{Method: methodAddDownstream, Iface: iface, Prefix: prefix})
	return err
}

func (c *Client) RemoveDownstream(iface, prefix string) error {
	_, err := c.call(wireRequest{Method: methodRemoveDownstream, Iface: iface, Prefix: prefix})
	return err
}

// Close tears down the connection and stops event delivery.
func (c *Client) Close() error {
	c.setCallbacks(nil)
	return c.conn.Close()
}
