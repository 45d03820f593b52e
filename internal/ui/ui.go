// Package ui prints the user-facing banners of mxgit.
//
// Diagnostics go through the logger; this package only renders the few
// messages a developer must act on, such as reopening the model.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer renders banners to a writer.
type Printer struct {
	w io.Writer

	banner lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	ok     lipgloss.Style
	muted  lipgloss.Style
}

// New returns a Printer for w. Colour is used only when w is a terminal
// and NO_COLOR is unset.
func New(w io.Writer) *Printer {
	profile := termenv.Ascii
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) && !termenv.EnvNoColor() {
		profile = termenv.NewOutput(f).EnvColorProfile()
	}
	return NewWithProfile(w, profile)
}

// NewWithProfile returns a Printer rendering with a fixed colour profile.
func NewWithProfile(w io.Writer, profile termenv.Profile) *Printer {
	r := lipgloss.NewRenderer(w)
	// the renderer detects its own profile lazily; pin it
	r.SetColorProfile(profile)
	return &Printer{
		w:      w,
		banner: r.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("11")),
		err:    r.NewStyle().Foreground(lipgloss.Color("9")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("10")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("242")),
	}
}

func (p *Printer) println(s string) {
	fmt.Fprintln(p.w, s)
}

// ReloadRequired asks the developer to reopen the model.
func (p *Printer) ReloadRequired(reasons []string) {
	p.println("")
	p.println(p.banner.Render(">>> PLEASE CLOSE AND RE-OPEN THE MODEL IN THE MODELER <<<"))
	for _, reason := range reasons {
		p.println(p.muted.Render("    * " + reason))
	}
	p.println("")
}

// MergeConflict tells the developer to resolve artifact in the modeler.
func (p *Printer) MergeConflict(artifact string) {
	p.println("")
	p.println(p.banner.Render(">>> MERGE CONFLICT DETECTED. PLEASE SOLVE THE CONFLICTS IN THE MODELER <<<"))
	p.println(p.banner.Render(fmt.Sprintf(">>> TO MARK RESOLVED, USE 'git add %s' <<<", artifact)))
	p.println("")
}

// Warn prints a warning line.
func (p *Printer) Warn(msg string) {
	p.println(p.warn.Render("mxgit: warning: " + msg))
}

// Error prints the single error line the CLI ends with.
func (p *Printer) Error(err error) {
	p.println(p.err.Render("mxgit: " + strings.TrimSpace(err.Error())))
}

// Done prints a short success line.
func (p *Printer) Done(msg string) {
	p.println(p.ok.Render("mxgit: " + msg))
}
