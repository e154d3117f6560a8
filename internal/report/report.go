// Package report renders end-of-run summaries for the terminal.
package report

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"spamstop/internal/classify"
	"spamstop/internal/logging"
	"spamstop/internal/optout"
	"spamstop/internal/unsub"
)

// Palette
var (
	Accent      = lipgloss.Color("#8BC34A") // lime green
	Destructive = lipgloss.Color("#e53935")
	Warning     = lipgloss.Color("#FFC107")
	Muted       = lipgloss.Color("#6b7280")
	Border      = lipgloss.Color("#2a3850")
)

// Styles holds the rendering styles.
type Styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Good  lipgloss.Style
	Bad   lipgloss.Style
	Warn  lipgloss.Style
	Box   lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(Accent),
		Label: lipgloss.NewStyle().Foreground(Muted).Width(12),
		Value: lipgloss.NewStyle().Bold(true),
		Good:  lipgloss.NewStyle().Bold(true).Foreground(Accent),
		Bad:   lipgloss.NewStyle().Bold(true).Foreground(Destructive),
		Warn:  lipgloss.NewStyle().Foreground(Warning),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Border).
			Padding(0, 1),
	}
}

// Renderer renders summaries, either styled or as plain text.
type Renderer struct {
	Plain  bool
	Styles Styles
}

// New returns a renderer. Output is plain when NO_COLOR is set.
func New() *Renderer {
	_, noColor := os.LookupEnv("NO_COLOR")
	return &Renderer{Plain: noColor, Styles: DefaultStyles()}
}

type row struct {
	label string
	value string
	style *lipgloss.Style
}

func (r *Renderer) block(title string, rows []row) string {
	if r.Plain {
		var b strings.Builder
		b.WriteString(title)
		b.WriteString("\n")
		for _, rw := range rows {
			fmt.Fprintf(&b, "  %s: %s\n", rw.label, rw.value)
		}
		return b.String()
	}

	lines := []string{r.Styles.Title.Render(title)}
	for _, rw := range rows {
		vs := r.Styles.Value
		if rw.style != nil {
			vs = *rw.style
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			r.Styles.Label.Render(rw.label), vs.Render(rw.value)))
	}
	return r.Styles.Box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)) + "\n"
}

// Summary renders the counters of one send run.
func (r *Renderer) Summary(title string, res unsub.Result, dryRun bool) string {
	rows := []row{{label: "candidates", value: fmt.Sprint(res.Candidates)}}
	if dryRun {
		rows = append(rows, row{label: "would send", value: fmt.Sprint(res.WouldSend), style: &r.Styles.Warn})
	} else {
		rows = append(rows, row{label: "sent", value: fmt.Sprint(res.Sent), style: &r.Styles.Good})
	}
	rows = append(rows, row{label: "skipped", value: fmt.Sprint(res.Skipped)})
	if res.Failed > 0 {
		rows = append(rows, row{label: "failed", value: fmt.Sprint(res.Failed), style: &r.Styles.Bad})
	}
	rows = append(rows, row{label: "duration", value: res.Duration.Round(time.Millisecond).String()})
	return r.block(title, rows)
}

// Stats renders opt-out set statistics, sources sorted by name.
func (r *Renderer) Stats(s optout.Stats) string {
	rows := []row{{label: "total", value: fmt.Sprint(s.Total), style: &r.Styles.Good}}
	sources := make([]string, 0, len(s.BySource))
	for src := range s.BySource {
		sources = append(sources, src)
	}
	slices.Sort(sources)
	for _, src := range sources {
		rows = append(rows, row{label: src, value: fmt.Sprint(s.BySource[src])})
	}
	return r.block("Opt-out set", rows)
}

// Verdicts lists the matching political messages with masked senders.
func (r *Renderer) Verdicts(verdicts []classify.Verdict) string {
	matches := classify.Matches(verdicts)
	rows := make([]row, 0, len(matches)+1)
	rows = append(rows, row{label: "scanned", value: fmt.Sprint(len(verdicts))})
	for _, v := range matches {
		rows = append(rows, row{
			label: logging.MaskPhone(v.Message.Handle),
			value: fmt.Sprintf("%.2f %s", v.Similarity, v.BuzzWord),
			style: &r.Styles.Warn,
		})
	}
	return r.block(fmt.Sprintf("Political messages: %d", len(matches)), rows)
}
