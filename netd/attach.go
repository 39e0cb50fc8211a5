package netd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	tetherbpf "github.com/tetherbpf/tetherbpf"
)

// kernelGate is the minimum kernel version for one attach table row.
type kernelGate struct{ major, minor int }

// cgroupProgram is one row of the attach table: a pinned program and
// the cgroup hook it goes to, with the platform gates deciding
// whether this device attaches it.
type cgroupProgram struct {
	pin    string
	attach ebpf.AttachType
	kernel kernelGate
	minSdk int
}

// cgroupProgramTable is the fixed attach set. Pin names are a
// compatibility surface shared with the loader; kernel gates follow
// the upstream arrival of each attach type, SDK gates the platform
// release that started shipping the program.
var cgroupProgramTable = []cgroupProgram{
	{"prog_netd_cgroupskb_ingress_stats", ebpf.AttachCGroupInetIngress, kernelGate{4, 10}, 0},
	{"prog_netd_cgroupskb_egress_stats", ebpf.AttachCGroupInetEgress, kernelGate{4, 10}, 0},
	{"prog_netd_cgroupsock_inet_create", ebpf.AttachCGroupInetSockCreate, kernelGate{4, 10}, 0},
	{"prog_netd_cgroupsockrelease_inet_release", ebpf.AttachCgroupInetSockRelease, kernelGate{5, 10}, tetherbpf.SdkLevelU},
	{"prog_netd_connect4_inet4_connect", ebpf.AttachCGroupInet4Connect, kernelGate{4, 17}, tetherbpf.SdkLevelT},
	{"prog_netd_connect6_inet6_connect", ebpf.AttachCGroupInet6Connect, kernelGate{4, 17}, tetherbpf.SdkLevelT},
	{"prog_netd_sendmsg4_udp4_sendmsg", ebpf.AttachCGroupUDP4Sendmsg, kernelGate{4, 18}, tetherbpf.SdkLevelT},
	{"prog_netd_sendmsg6_udp6_sendmsg", ebpf.AttachCGroupUDP6Sendmsg, kernelGate{4, 18}, tetherbpf.SdkLevelT},
	{"prog_netd_recvmsg4_udp4_recvmsg", ebpf.AttachCGroupUDP4Recvmsg, kernelGate{5, 2}, tetherbpf.SdkLevelT},
	{"prog_netd_recvmsg6_udp6_recvmsg", ebpf.AttachCGroupUDP6Recvmsg, kernelGate{5, 2}, tetherbpf.SdkLevelT},
	{"prog_netd_getsockopt_prog", ebpf.AttachCGroupGetsockopt, kernelGate{5, 3}, tetherbpf.SdkLevelT},
	{"prog_netd_setsockopt_prog", ebpf.AttachCGroupSetsockopt, kernelGate{5, 3}, tetherbpf.SdkLevelT},
	{"prog_netd_bind4_inet4_bind", ebpf.AttachCGroupInet4Bind, kernelGate{4, 17}, tetherbpf.SdkLevelU},
	{"prog_netd_bind6_inet6_bind", ebpf.AttachCGroupInet6Bind, kernelGate{4, 17}, tetherbpf.SdkLevelU},
}

// cgroupPrograms filters the attach table down to the rows the given
// platform supports. Pure function over the platform so the selection
// is testable without a kernel.
func cgroupPrograms(p tetherbpf.Platform) []cgroupProgram {
	var out []cgroupProgram
	for _, cp := range cgroupProgramTable {
		if !p.AtLeastKernel(cp.kernel.major, cp.kernel.minor) {
			continue
		}
		if !p.AtLeastSdk(cp.minSdk) {
			continue
		}
		out = append(out, cp)
	}
	return out
}

// Attachment records one cgroup program attachment for the ledger and
// the status surface. ProgramID is zero on kernels that cannot report
// program info.
type Attachment struct {
	Program    string
	AttachType string
	CgroupPath string
	ProgramID  uint32
}

// attachedPrograms keeps cgroup attachments alive. Closing a link
// detaches its program, so the daemon holds this for its lifetime.
type attachedPrograms struct {
	links []link.Link
}

func (a *attachedPrograms) Close() error {
	var errs []error
	for _, l := range a.links {
		errs = append(errs, l.Close())
	}
	a.links = nil
	return errors.Join(errs...)
}

// AttachCgroupPrograms attaches every platform-selected program from
// pinDir to the cgroup at cgroupPath. On kernels that support
// BPF_PROG_QUERY each attachment is re-queried as a self-check; a
// program missing from the query result right after its attach means
// the kernel is not doing what it reported, and accounting built on
// it would be silently wrong.
//
// Any failure detaches what was already attached and returns the
// error; the caller treats the whole batch as all-or-nothing.
func AttachCgroupPrograms(pinDir, cgroupPath string, platform tetherbpf.Platform, log *slog.Logger) (io.Closer, []Attachment, error) {
	var cg *os.File
	if platform.AtLeastKernel(4, 19) {
		var err error
		cg, err = os.Open(cgroupPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open cgroup %s: %w", cgroupPath, err)
		}
		defer cg.Close()
	}

	attached := &attachedPrograms{}
	var records []Attachment
	for _, cp := range cgroupPrograms(platform) {
		prog, err := ebpf.LoadPinnedProgram(filepath.Join(pinDir, cp.pin), nil)
		if err != nil {
			attached.Close()
			return nil, nil, fmt.Errorf("load pinned program %s: %w", cp.pin, err)
		}

		l, err := link.AttachCgroup(link.CgroupOptions{
			Path:    cgroupPath,
			Attach:  cp.attach,
			Program: prog,
		})
		if err != nil {
			prog.Close()
			attached.Close()
			return nil, nil, fmt.Errorf("attach %s: %w", cp.pin, err)
		}
		attached.links = append(attached.links, l)

		progID := programID(prog)
		prog.Close()
		if cg != nil {
			if err := verifyAttachment(cg, progID, cp); err != nil {
				attached.Close()
				return nil, nil, err
			}
		}

		records = append(records, Attachment{
			Program:    cp.pin,
			AttachType: cp.attach.String(),
			CgroupPath: cgroupPath,
			ProgramID:  uint32(progID),
		})
		log.Debug("attached cgroup program", "program", cp.pin, "attach", cp.attach.String())
	}

	log.Info("cgroup programs attached", "cgroup", cgroupPath, "count", len(attached.links))
	return attached, records, nil
}

// programID reads prog's kernel id, zero when the kernel cannot
// report program info. Only the query self-check requires a real id.
func programID(prog *ebpf.Program) ebpf.ProgramID {
	info, err := prog.Info()
	if err != nil {
		return 0
	}
	id, ok := info.ID()
	if !ok {
		return 0
	}
	return id
}

// verifyAttachment queries the cgroup for cp's attach type and checks
// that the program with the given id is among the results.
func verifyAttachment(cg *os.File, id ebpf.ProgramID, cp cgroupProgram) error {
	if id == 0 {
		return fmt.Errorf("kernel reports no id for program %s", cp.pin)
	}

	result, err := link.QueryPrograms(link.QueryOptions{
		Target: int(cg.Fd()),
		Attach: cp.attach,
	})
	if err != nil {
		return fmt.Errorf("query attachments for %s: %w", cp.pin, err)
	}

	found := slices.ContainsFunc(result.Programs, func(ap link.AttachedProgram) bool {
		return ap.ID == id
	})
	if !found {
		return fmt.Errorf("program %s missing from cgroup after attach", cp.pin)
	}
	return nil
}
