package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/rendis/phasegraph/pkg/schema"
)

var (
	colorGreen  = lipgloss.Color("35")  // success
	colorYellow = lipgloss.Color("220") // warnings
	colorRed    = lipgloss.Color("167") // errors
	colorDim    = lipgloss.Color("240") // codes
)

// styles binds the palette to w, so colors are dropped when w is not a terminal.
type styles struct {
	err, warn, ok, dim lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		err:  r.NewStyle().Foreground(colorRed),
		warn: r.NewStyle().Foreground(colorYellow),
		ok:   r.NewStyle().Foreground(colorGreen),
		dim:  r.NewStyle().Foreground(colorDim),
	}
}

func printIssues(w io.Writer, result *schema.ValidationResult) {
	st := newStyles(w)
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "%s    %s: %s %s\n", st.err.Render("error"), issue.Path, st.dim.Render("["+issue.Code+"]"), issue.Message)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(w, "%s  %s: %s %s\n", st.warn.Render("warning"), issue.Path, st.dim.Render("["+issue.Code+"]"), issue.Message)
	}
}

func printOK(w io.Writer, format string, args ...any) {
	st := newStyles(w)
	fmt.Fprintf(w, "%s %s\n", st.ok.Render("✓"), fmt.Sprintf(format, args...))
}
