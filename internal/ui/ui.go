// Package ui renders CLI output with terminal-aware styling. Colors degrade
// to plain text on dumb terminals and when NO_COLOR is set.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/vaultmcp/vaultd/internal/gitx"
)

var colorEnabled = termenv.EnvColorProfile() != termenv.Ascii

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	labelStyle  = lipgloss.NewStyle().Bold(true)
)

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// Pass styles a success marker.
func Pass(s string) string { return render(passStyle, s) }

// Fail styles a failure marker.
func Fail(s string) string { return render(failStyle, s) }

// Warn styles a warning.
func Warn(s string) string { return render(warnStyle, s) }

// Accent styles an emphasized value.
func Accent(s string) string { return render(accentStyle, s) }

// Dim styles secondary detail.
func Dim(s string) string { return render(dimStyle, s) }

// RenderOutcome formats a sync result for the terminal.
func RenderOutcome(o gitx.Outcome) string {
	var b strings.Builder

	if o.Success {
		b.WriteString(Pass("ok"))
	} else {
		b.WriteString(Fail("failed"))
	}
	b.WriteString("  ")
	b.WriteString(Accent(string(o.Action)))

	if o.Step != "" {
		b.WriteString(Dim(" at " + string(o.Step)))
	}
	if o.Path != "" {
		b.WriteString(Dim(" -> " + o.Path))
	}
	if o.ChangesPushed {
		b.WriteString("  " + Pass("changes pushed"))
	}
	if o.Error != "" {
		b.WriteString("\n  " + Fail(o.Error))
	}

	if o.Pull != nil {
		b.WriteString("\n  pull: " + summarize(*o.Pull))
	}
	if o.Push != nil {
		b.WriteString("\n  push: " + summarize(*o.Push))
	}

	return b.String()
}

func summarize(o gitx.Outcome) string {
	if o.Success {
		return Pass("ok")
	}
	msg := Fail("failed")
	if o.Step != "" {
		msg += Dim(" at " + string(o.Step))
	}
	if o.Error != "" {
		msg += " " + Dim(o.Error)
	}
	return msg
}

// RenderSnapshot formats a repository status for the terminal.
func RenderSnapshot(s gitx.Snapshot) string {
	var b strings.Builder

	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", render(labelStyle, label+":"), value)
	}

	row("vault", s.Root)
	row("branch", Accent(s.Branch))
	if s.RemoteURL != "" {
		row("remote", s.RemoteURL)
	}

	if s.Clean {
		row("tree", Pass("clean"))
	} else {
		row("tree", Warn(fmt.Sprintf("%d changed file(s)", len(s.ChangedFiles))))
		for _, f := range s.ChangedFiles {
			b.WriteString("  " + Dim(f) + "\n")
		}
	}

	if s.LastCommit != "" {
		row("last commit", s.LastCommit)
	}
	if s.Ahead > 0 || s.Behind > 0 {
		row("divergence", Warn(fmt.Sprintf("ahead %d, behind %d", s.Ahead, s.Behind)))
	}
	if s.LastSync != nil {
		row("last sync", s.LastSync.Format("2006-01-02 15:04:05"))
	}

	for _, e := range s.Errors {
		b.WriteString(Fail("error: ") + e + "\n")
	}

	return b.String()
}
