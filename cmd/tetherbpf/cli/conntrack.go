package cli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// ConntrackCmd dumps the kernel connection tracking table: the same
// state an offload session is seeded with at start. Requires
// CAP_NET_ADMIN.
type ConntrackCmd struct {
	OutputFlags
	Family string `help:"Address family: ipv4, ipv6 or all." default:"all" enum:"ipv4,ipv6,all"`
}

// FlowView is one conntrack table entry.
type FlowView struct {
	Proto     string `json:"proto"`
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	OrigBytes uint64 `json:"orig_bytes"`
	ReplBytes uint64 `json:"repl_bytes"`
	TimeoutS  uint32 `json:"timeout_s"`
}

// Run executes the conntrack command.
func (c *ConntrackCmd) Run(cli *CLI) error {
	var families []netlink.InetFamily
	switch c.Family {
	case "ipv4":
		families = []netlink.InetFamily{unix.AF_INET}
	case "ipv6":
		families = []netlink.InetFamily{unix.AF_INET6}
	default:
		families = []netlink.InetFamily{unix.AF_INET, unix.AF_INET6}
	}

	var views []FlowView
	for _, family := range families {
		flows, err := netlink.ConntrackTableList(netlink.ConntrackTable, family)
		if err != nil {
			return fmt.Errorf("dump conntrack table (family %d): %w", family, err)
		}
		for _, f := range flows {
			views = append(views, flowView(f))
		}
	}

	output, err := FormatConntrack(views, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

func flowView(f *netlink.ConntrackFlow) FlowView {
	return FlowView{
		Proto:     protoName(f.Forward.Protocol),
		Src:       joinAddrPort(f.Forward.SrcIP, f.Forward.SrcPort),
		Dst:       joinAddrPort(f.Forward.DstIP, f.Forward.DstPort),
		OrigBytes: f.Forward.Bytes,
		ReplBytes: f.Reverse.Bytes,
		TimeoutS:  f.TimeOut,
	}
}

func joinAddrPort(ip net.IP, port uint16) string {
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
}
