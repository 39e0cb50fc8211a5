package netd

import (
	"encoding/json"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/tetherbpf/tetherbpf/fdpass"
)

// Client talks to the control service. Requests are strictly
// serialized over one connection; not safe for concurrent use.
type Client struct {
	conn *net.UnixConn
}

// DialControl connects to the control socket at path.
func DialControl(path string) (*Client, error) {
	conn, err := net.DialUnix("unixpacket", nil, &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("dial control socket: %w", err)
	}
	return &Client{conn: conn}, nil
}

// TagSocket tags the socket behind sockFd. A nil chargeUid charges
// the calling uid.
func (c *Client) TagSocket(sockFd int, tag uint32, chargeUid *uint32) error {
	_, err := c.roundTrip(controlRequest{Op: opTag, Tag: tag, ChargeUid: chargeUid}, sockFd)
	return err
}

// UntagSocket removes the tag from the socket behind sockFd.
func (c *Client) UntagSocket(sockFd int) error {
	_, err := c.roundTrip(controlRequest{Op: opUntag}, sockFd)
	return err
}

// TaggedSocketCount reports the live cookie-tag entry count.
func (c *Client) TaggedSocketCount() (int, error) {
	resp, err := c.roundTrip(controlRequest{Op: opCount})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends one request, with fds on its ancillary data, and
// reads the response. A non-zero wire rc comes back as the errno it
// encodes, so callers can errors.Is against unix values the same way
// they would against the handler itself.
func (c *Client) roundTrip(req controlRequest, fds ...int) (controlResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return controlResponse{}, fmt.Errorf("marshal control request: %w", err)
	}
	if err := fdpass.Send(c.conn, data, fds...); err != nil {
		return controlResponse{}, fmt.Errorf("send control request: %w", err)
	}

	buf := make([]byte, maxControlPacket)
	n, _, err := fdpass.Recv(c.conn, buf, 0)
	if err != nil {
		return controlResponse{}, fmt.Errorf("read control response: %w", err)
	}

	var resp controlResponse
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		return controlResponse{}, fmt.Errorf("decode control response: %w", err)
	}
	if resp.Rc != 0 {
		return resp, unix.Errno(-resp.Rc)
	}
	return resp, nil
}
