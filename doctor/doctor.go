// Package doctor performs read-only coherency checks across the
// runtime tree: the bpf filesystem, the loader's completion markers,
// the pinned objects and the live control service. Diagnose is a pure
// function over gathered State so tests drive it without a kernel.
package doctor

import (
	"fmt"

	tetherbpf "github.com/tetherbpf/tetherbpf"
	"github.com/tetherbpf/tetherbpf/bpffs"
)

// Severity indicates the severity of a doctor finding.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns a human-readable label for the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Finding describes a single coherency check result.
type Finding struct {
	Severity    Severity
	Category    string
	Description string
}

// Report contains the results of a coherency check. An empty report
// means everything checked out.
type Report struct {
	Findings []Finding
}

// HasErrors returns true if any finding has error severity.
func (r Report) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if any finding has warning severity.
func (r Report) HasWarnings() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// State is the gathered input to Diagnose. Pointer fields are nil when
// the gatherer could not observe the value; checks needing them are
// skipped rather than guessed at.
type State struct {
	// BpffsMounted reports whether a bpf filesystem is mounted at the
	// configured root.
	BpffsMounted bool

	// NetdMarker and TetherMarker report completion-marker existence.
	NetdMarker   bool
	TetherMarker bool

	// NetdPins and TetherPins are the pin directory contents.
	NetdPins   []bpffs.Pin
	TetherPins []bpffs.Pin

	// Selector is the live stats-map selector slot, when readable.
	Selector *uint32

	// TaggedCount is the live cookie-tag entry count, when the
	// control service answered.
	TaggedCount *int

	// StatsMaxEntries is the stats map capacity, when readable.
	StatsMaxEntries uint32

	// DaemonRunning reports whether the control socket accepted a
	// connection.
	DaemonRunning bool
}

// requiredNetdMaps are the accounting maps the tag path depends on.
// The netd completion marker asserts they exist.
var requiredNetdMaps = []string{
	tetherbpf.CookieTagMapName,
	tetherbpf.StatsMapAName,
	tetherbpf.StatsMapBName,
	tetherbpf.ConfigurationMapName,
	tetherbpf.UidPermissionMapName,
}

// Diagnose runs all coherency checks over state. Pure function.
func Diagnose(state State) Report {
	var report Report

	if !state.BpffsMounted {
		report.Findings = append(report.Findings, Finding{
			Severity:    SeverityError,
			Category:    "bpffs",
			Description: "bpf filesystem not mounted at the configured root",
		})
	}

	report.Findings = append(report.Findings, checkLoader(state)...)
	report.Findings = append(report.Findings, checkPinDrift(state)...)
	report.Findings = append(report.Findings, checkMaps(state)...)
	report.Findings = append(report.Findings, checkCapacity(state)...)

	if !state.DaemonRunning {
		report.Findings = append(report.Findings, Finding{
			Severity:    SeverityWarning,
			Category:    "daemon",
			Description: "control service not reachable; the daemon is down or the socket path is wrong",
		})
	}

	return report
}

// checkLoader verifies the markers against the pins they assert.
func checkLoader(state State) []Finding {
	var findings []Finding

	if state.NetdMarker {
		present := make(map[string]bool, len(state.NetdPins))
		for _, pin := range state.NetdPins {
			present[pin.Name] = true
		}
		for _, name := range requiredNetdMaps {
			if !present[name] {
				findings = append(findings, Finding{
					Severity:    SeverityError,
					Category:    "loader",
					Description: fmt.Sprintf("completion marker published but %s missing from pin directory", name),
				})
			}
		}
	} else if len(state.NetdPins) > 0 {
		findings = append(findings, Finding{
			Severity:    SeverityWarning,
			Category:    "loader",
			Description: fmt.Sprintf("%d pins present without a completion marker; a load run was interrupted and will be redone", len(state.NetdPins)),
		})
	}

	return findings
}

// checkPinDrift reports entries that do not follow the pin naming
// conventions. Nothing in this system creates them.
func checkPinDrift(state State) []Finding {
	var findings []Finding
	for _, pin := range append(append([]bpffs.Pin(nil), state.NetdPins...), state.TetherPins...) {
		if pin.Kind == bpffs.PinKindOther {
			findings = append(findings, Finding{
				Severity:    SeverityWarning,
				Category:    "pins",
				Description: fmt.Sprintf("unexpected entry %s in pin directory", pin.Path),
			})
		}
	}
	return findings
}

// checkMaps verifies the live stats-map selector holds a valid value.
func checkMaps(state State) []Finding {
	if state.Selector == nil {
		return nil
	}
	if sel := *state.Selector; sel != tetherbpf.SelectMapA && sel != tetherbpf.SelectMapB {
		return []Finding{{
			Severity:    SeverityError,
			Category:    "maps",
			Description: fmt.Sprintf("stats-map selector holds %s; the configuration map is corrupt", tetherbpf.SelectorString(sel)),
		}}
	}
	return nil
}

// checkCapacity warns when tagged entries are at the ceiling the tag
// path enforces.
func checkCapacity(state State) []Finding {
	if state.TaggedCount == nil || state.StatsMaxEntries == 0 {
		return nil
	}
	limit := tetherbpf.TotalStatsEntriesLimit(state.StatsMaxEntries)
	if uint32(*state.TaggedCount) >= limit {
		return []Finding{{
			Severity:    SeverityWarning,
			Category:    "capacity",
			Description: fmt.Sprintf("%d tagged sockets at the %d-entry ceiling; further tag requests will be refused", *state.TaggedCount, limit),
		}}
	}
	return nil
}
