package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mblsha/pfcore/internal/builder"
	"github.com/mblsha/pfcore/internal/container"
	"github.com/mblsha/pfcore/internal/diagnostics"
	"github.com/mblsha/pfcore/internal/mk"
	"github.com/mblsha/pfcore/internal/pipeline"
)

// diagnosticLimit caps the compiler errors printed after a failed build.
const diagnosticLimit = 5

type styles struct {
	banner  lipgloss.Style
	ok      lipgloss.Style
	skipped lipgloss.Style
	failed  lipgloss.Style
}

func newStyles() styles {
	return styles{
		banner:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		skipped: lipgloss.NewStyle().Faint(true),
		failed:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

// stepTitles names the pipeline steps by the file they produce.
var stepTitles = map[string]string{
	"ap_core.qsf": "Fetching core template",
	"pf_core.qsf": "Updating project file",
	"pf_core.rbf": "Compiling core bitstream",
}

func (a *app) title(target string) string {
	base := filepath.Base(target)
	if t, ok := stepTitles[base]; ok {
		return t
	}
	switch {
	case target == pipeline.InstallAction:
		return "Installing core on " + a.cfg.VolumePath()
	case filepath.Ext(base) == ".zip":
		return "Packaging " + base
	default:
		return "Staging " + base
	}
}

// printEvent renders engine progress on stdout.
func (a *app) printEvent(e mk.Event) {
	if a.cfg.Quiet && e.Kind != mk.EventFailed {
		return
	}
	switch e.Kind {
	case mk.EventStart:
		_, _ = fmt.Fprintln(a.stdout, a.styles.banner.Render("==> "+a.title(e.Target)))
	case mk.EventDone:
		a.logger.Debug("step finished", "target", e.Target, "duration", e.Duration)
	case mk.EventUpToDate:
		a.logger.Debug("step up to date", "target", e.Target)
	case mk.EventFailed:
		_, _ = fmt.Fprintln(a.stderr, a.styles.failed.Render("!! "+a.title(e.Target)+" failed"))
	}
}

// renderPlan prints a dry run as a table.
func renderPlan(w io.Writer, st styles, steps []mk.Step) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Target", "Action", "Reason"})
	pending := 0
	for i, s := range steps {
		action := st.skipped.Render("up to date")
		if s.Run {
			action = st.ok.Render("build")
			pending++
		}
		t.AppendRow(table.Row{i + 1, s.Target, action, s.Reason})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d of %d targets to build)\n", pending, len(steps))
}

// printDiagnostics shows the first compiler errors recorded by a failed
// compile. Failures of other steps print nothing.
func (a *app) printDiagnostics(buildErr error) {
	var re *container.RunError
	if !errors.As(buildErr, &re) {
		return
	}
	raw, err := os.ReadFile(filepath.Join(a.cfg.FPGADir(), "output_files", builder.DiagnosticsFile))
	if err != nil {
		return
	}
	var rep diagnostics.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return
	}
	shown := 0
	for _, d := range rep.Diagnostics {
		if d.Severity != diagnostics.SeverityError {
			continue
		}
		if shown == diagnosticLimit {
			_, _ = fmt.Fprintf(a.stderr, "  ... %d more errors\n", rep.ErrorCount-shown)
			break
		}
		loc := ""
		if d.File != "" {
			loc = fmt.Sprintf(" (%s:%d)", d.File, d.Line)
		}
		_, _ = fmt.Fprintf(a.stderr, "  %s%s\n", d.Message, loc)
		shown++
	}
}
