// Package render draws a positioned workflow graph as Mermaid, Graphviz
// DOT, SVG or PNG. Edge appearance comes from a fixed per-kind style table.
package render

import (
	"fmt"

	"github.com/rendis/phasegraph/internal/graph"
)

// Format names an output format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
	FormatSVG     Format = "svg"
	FormatPNG     Format = "png"
)

// ParseFormat validates a format name. "" means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatMermaid, FormatDOT, FormatSVG, FormatPNG:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want json, mermaid, dot, svg or png)", s)
}

// EdgeStyle is the drawing style of one edge kind.
type EdgeStyle struct {
	Color    string
	Dashed   bool
	Animated bool
	// Arrow is the Mermaid link operator.
	Arrow string
	// Label is drawn when the edge carries no label of its own.
	Label string
}

var edgeStyles = map[graph.EdgeKind]EdgeStyle{
	graph.EdgeSequential: {Color: "#6b7280", Arrow: "-->"},
	graph.EdgeDependency: {Color: "#2563eb", Arrow: "==>"},
	graph.EdgeLoop:       {Color: "#d97706", Dashed: true, Animated: true, Arrow: "-.->"},
	graph.EdgeRetry:      {Color: "#dc2626", Dashed: true, Arrow: "-.->", Label: "retry"},
}

// StyleOf returns the style of an edge kind. Unknown kinds get the
// sequential style.
func StyleOf(kind graph.EdgeKind) EdgeStyle {
	if s, ok := edgeStyles[kind]; ok {
		return s
	}
	return edgeStyles[graph.EdgeSequential]
}

// edgeLabel is the loop label, or the kind's fixed label.
func edgeLabel(e *graph.Edge) string {
	if e.Data != nil && e.Data.Label != "" {
		return e.Data.Label
	}
	return StyleOf(e.Kind).Label
}
