package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tetherbpf/tetherbpf/netd"
	"github.com/tetherbpf/tetherbpf/store/sqlite"
)

// StatusCmd shows loader, attachment and control-service state. The
// markers and the live socket count come from the running system; the
// attachment and load history comes from the ledger, so status works
// without root and with the daemon down.
type StatusCmd struct {
	OutputFlags
	Loads int `help:"Number of recent load attempts to show." default:"10"`
}

// StatusReport is the gathered system state.
type StatusReport struct {
	NetdStageDone   bool             `json:"netd_stage_done"`
	TetherStageDone bool             `json:"tethering_stage_done"`
	Socket          string           `json:"socket"`
	DaemonRunning   bool             `json:"daemon_running"`
	TaggedSockets   *int             `json:"tagged_sockets,omitempty"`
	Attachments     []AttachmentView `json:"attachments"`
	Loads           []LoadView       `json:"loads"`
}

// AttachmentView is one ledger attachment row.
type AttachmentView struct {
	Program    string    `json:"program"`
	AttachType string    `json:"attach_type"`
	CgroupPath string    `json:"cgroup_path"`
	ProgramID  uint32    `json:"program_id"`
	AttachedAt time.Time `json:"attached_at"`
}

// LoadView is one ledger load-attempt row.
type LoadView struct {
	Stage     string    `json:"stage"`
	Object    string    `json:"object"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Elapsed   string    `json:"elapsed"`
	CreatedAt time.Time `json:"created_at"`
}

// Run executes the status command.
func (c *StatusCmd) Run(cli *CLI) error {
	logger, err := cli.Logger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	dirs, err := cli.RuntimeDirs()
	if err != nil {
		return err
	}

	ctx := context.Background()

	report := StatusReport{
		NetdStageDone:   fileExists(dirs.LoadedMarkerPath()),
		TetherStageDone: fileExists(dirs.MainlineMarkerPath()),
		Socket:          dirs.SocketPath(),
	}

	// The daemon being down is a finding, not a failure.
	if client, err := netd.DialControl(dirs.SocketPath()); err == nil {
		report.DaemonRunning = true
		if count, err := client.TaggedSocketCount(); err == nil {
			report.TaggedSockets = &count
		}
		if err := client.Close(); err != nil {
			logger.Warn("closing control connection", "error", err)
		}
	}

	st, err := sqlite.New(ctx, dirs.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", dirs.DBPath(), err)
	}
	defer st.Close()

	atts, err := st.Attachments(ctx)
	if err != nil {
		return fmt.Errorf("read attachments: %w", err)
	}
	for _, a := range atts {
		report.Attachments = append(report.Attachments, AttachmentView{
			Program:    a.Program,
			AttachType: a.AttachType,
			CgroupPath: a.CgroupPath,
			ProgramID:  a.ProgramID,
			AttachedAt: a.AttachedAt,
		})
	}

	loads, err := st.Loads(ctx, c.Loads)
	if err != nil {
		return fmt.Errorf("read load attempts: %w", err)
	}
	for _, l := range loads {
		report.Loads = append(report.Loads, LoadView{
			Stage:     l.Stage,
			Object:    l.Object,
			Outcome:   l.Outcome,
			Detail:    l.Detail,
			Elapsed:   l.Elapsed.String(),
			CreatedAt: l.CreatedAt,
		})
	}

	output, err := FormatStatus(report, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
