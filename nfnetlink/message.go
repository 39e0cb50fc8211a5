package nfnetlink

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// Conntrack message subtype carried in the low byte of the netlink
// message type. The subsystem id rides in the high byte.
const ipctnlMsgCtGet = 1

// DumpRequestLen is the size of a conntrack dump request: a 16-byte
// nlmsghdr followed by a 4-byte nfgenmsg, no attributes.
const DumpRequestLen = 20

// DumpRequest builds a netlink dump request with the given message
// type and flags. Header fields are encoded in host byte order, the
// way the kernel reads them from a local socket. Sequence and port id
// are zero; replies arrive on the subscribed socket regardless.
func DumpRequest(msgType, flags uint16) []byte {
	b := make([]byte, DumpRequestLen)
	ne := binary.NativeEndian
	ne.PutUint32(b[0:4], DumpRequestLen)
	ne.PutUint16(b[4:6], msgType)
	ne.PutUint16(b[6:8], flags)
	ne.PutUint32(b[8:12], 0)  // sequence
	ne.PutUint32(b[12:16], 0) // port id
	b[16] = unix.AF_INET      // nfgenmsg: family
	b[17] = unix.NFNETLINK_V0 // nfgenmsg: version
	// nfgenmsg res_id stays zero.
	return b
}

// ConntrackDumpRequest builds the IPv4 conntrack table dump request
// sent once per offload session to seed the offload process with
// already-established connections.
func ConntrackDumpRequest() []byte {
	msgType := uint16(unix.NFNL_SUBSYS_CTNETLINK<<8 | ipctnlMsgCtGet)
	return DumpRequest(msgType, unix.NLM_F_REQUEST|unix.NLM_F_DUMP)
}

// Sender is the send side of a conntrack socket.
type Sender interface {
	SetSendTimeout(time.Duration) error
	Send(msg []byte) error
}

// SendConntrackDump writes the dump request to s under SendTimeout.
// The dump is best effort; callers log and swallow the returned
// error rather than failing session setup.
func SendConntrackDump(s Sender) error {
	if err := s.SetSendTimeout(SendTimeout); err != nil {
		return err
	}
	return s.Send(ConntrackDumpRequest())
}
