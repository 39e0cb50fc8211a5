package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tetherbpf/tetherbpf/doctor"
)

// FormatStatus renders a StatusReport according to the output flags.
func FormatStatus(report StatusReport, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(report)
	}
	return formatStatusTable(report), nil
}

func formatJSON(v any) (string, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(output) + "\n", nil
}

func formatStatusTable(report StatusReport) string {
	var b strings.Builder

	daemon := "not running"
	if report.DaemonRunning {
		daemon = "running"
		if report.TaggedSockets != nil {
			daemon = fmt.Sprintf("running, %d tagged sockets", *report.TaggedSockets)
		}
	}

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "daemon:\t%s\n", daemon)
	fmt.Fprintf(w, "control socket:\t%s\n", report.Socket)
	fmt.Fprintf(w, "netd stage:\t%s\n", stageState(report.NetdStageDone))
	fmt.Fprintf(w, "tethering stage:\t%s\n", stageState(report.TetherStageDone))
	w.Flush()

	if len(report.Attachments) > 0 {
		b.WriteString("\nATTACHMENTS\n")
		w = tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROGRAM\tTYPE\tID\tCGROUP\tATTACHED")
		for _, a := range report.Attachments {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				a.Program, a.AttachType, a.ProgramID, a.CgroupPath,
				a.AttachedAt.Format(time.RFC3339))
		}
		w.Flush()
	}

	if len(report.Loads) > 0 {
		b.WriteString("\nRECENT LOADS\n")
		w = tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSTAGE\tOBJECT\tOUTCOME\tELAPSED\tDETAIL")
		for _, l := range report.Loads {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				l.CreatedAt.Format(time.RFC3339), l.Stage, l.Object,
				l.Outcome, l.Elapsed, l.Detail)
		}
		w.Flush()
	}

	return b.String()
}

func stageState(done bool) string {
	if done {
		return "loaded"
	}
	return "pending"
}

// FormatConntrack renders conntrack flows according to the output
// flags.
func FormatConntrack(flows []FlowView, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(flows)
	}
	return formatConntrackTable(flows), nil
}

func formatConntrackTable(flows []FlowView) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROTO\tSRC\tDST\tORIG-BYTES\tREPL-BYTES\tTIMEOUT")
	for _, f := range flows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%ds\n",
			f.Proto, f.Src, f.Dst, f.OrigBytes, f.ReplBytes, f.TimeoutS)
	}
	w.Flush()
	return b.String()
}

// FindingView is one doctor finding.
type FindingView struct {
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// FormatDoctor renders a doctor report according to the output flags.
func FormatDoctor(report doctor.Report, flags *OutputFlags) (string, error) {
	views := make([]FindingView, 0, len(report.Findings))
	for _, f := range report.Findings {
		views = append(views, FindingView{
			Severity:    f.Severity.String(),
			Category:    f.Category,
			Description: f.Description,
		})
	}

	if flags.Format() == OutputFormatJSON {
		return formatJSON(views)
	}

	if len(views) == 0 {
		return "no problems found\n", nil
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, v := range views {
		fmt.Fprintf(w, "%s\t[%s]\t%s\n", v.Severity, v.Category, v.Description)
	}
	w.Flush()
	return b.String(), nil
}

// protoName names the IP protocols that show up in tethering flows;
// anything else renders as its number.
func protoName(p uint8) string {
	switch p {
	case 1:
		return "icmp"
	case 6:
		return "tcp"
	case 17:
		return "udp"
	case 47:
		return "gre"
	case 58:
		return "icmpv6"
	case 132:
		return "sctp"
	default:
		return strconv.Itoa(int(p))
	}
}
