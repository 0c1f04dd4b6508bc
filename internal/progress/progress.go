// Package progress renders practice snapshots as a terminal progress line.
package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/aldaxho/couchoratorariaweb/internal/artifact"
	"github.com/aldaxho/couchoratorariaweb/internal/fsm"
	"github.com/aldaxho/couchoratorariaweb/internal/practice"
)

const barWidth = 24

// Label names the finalize stage a progress value falls in.
func Label(progress int) string {
	switch {
	case progress >= practice.ProgressDone:
		return "completed"
	case progress >= practice.ProgressUploaded:
		return "sending to server"
	case progress >= practice.ProgressUploading:
		return "uploading to storage"
	default:
		return "preparing video"
	}
}

// View prints one line per visible change of the practice state.
type View struct {
	out io.Writer

	filled  lipgloss.Style
	empty   lipgloss.Style
	state   lipgloss.Style
	failure lipgloss.Style
	done    lipgloss.Style

	mu   sync.Mutex
	last string
}

// New renders to out; colors follow out's terminal capabilities.
func New(out io.Writer) *View {
	r := lipgloss.NewRenderer(out)
	return &View{
		out:     out,
		filled:  r.NewStyle().Foreground(lipgloss.Color("62")),
		empty:   r.NewStyle().Foreground(lipgloss.Color("240")),
		state:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		failure: r.NewStyle().Foreground(lipgloss.Color("196")),
		done:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
	}
}

func (v *View) Observe(_ context.Context, snap practice.Snapshot) {
	line := v.Render(snap)
	v.mu.Lock()
	defer v.mu.Unlock()
	if line == v.last {
		return
	}
	v.last = line
	fmt.Fprintln(v.out, line)
}

// Render formats snap without writing it.
func (v *View) Render(snap practice.Snapshot) string {
	var b strings.Builder
	b.WriteString(v.state.Render(fmt.Sprintf("%-17s", snap.State)))
	b.WriteByte(' ')

	switch {
	case snap.Capturing:
		b.WriteString("recording… run `oratoria stop` to finish")
	case snap.State.Busy() || snap.State == fsm.StateCompleted:
		b.WriteString(v.bar(snap.Progress))
		fmt.Fprintf(&b, " %3d%% %s", snap.Progress, Label(snap.Progress))
		if snap.State == fsm.StateCompleted && snap.ResultID != "" {
			b.WriteString(" ")
			b.WriteString(v.done.Render("practice " + snap.ResultID))
		}
	case snap.State == fsm.StateValidated:
		fmt.Fprintf(&b, "%s ready (%s)", displayName(snap), artifact.HumanSize(snap.ArtifactSize))
	case snap.SessionID != "":
		fmt.Fprintf(&b, "session %s", snap.SessionID)
	default:
		b.WriteString("idle")
	}

	if snap.LastError != "" {
		b.WriteString(" ")
		b.WriteString(v.failure.Render("error: " + snap.LastError))
	}
	return b.String()
}

func (v *View) bar(progress int) string {
	progress = max(0, min(progress, 100))
	n := progress * barWidth / 100
	return v.filled.Render(strings.Repeat("█", n)) + v.empty.Render(strings.Repeat("░", barWidth-n))
}

func displayName(snap practice.Snapshot) string {
	if snap.ArtifactName != "" {
		return snap.ArtifactName
	}
	return "video"
}

