package render

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/rendis/phasegraph/internal/graph"
	"github.com/rendis/phasegraph/internal/layout"
	"github.com/rendis/phasegraph/pkg/schema"
)

// pointsPerInch converts canvas pixels to Graphviz node sizes.
const pointsPerInch = 72

// DOTOptions configures DOT output.
type DOTOptions struct {
	Title string
	// NodeSize is the canvas card size. Zero means layout.DefaultConfig.
	NodeSize layout.Size
}

// DOT renders g as a Graphviz digraph with every node pinned to its canvas
// position, so neato draws the canvas layout instead of computing its own.
// Canvas y grows downward and Graphviz y grows upward, so y is negated.
func DOT(g *graph.Graph, opts DOTOptions) string {
	size := opts.NodeSize
	if size.Width <= 0 || size.Height <= 0 {
		size = layout.DefaultConfig().NodeSize
	}

	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	if opts.Title != "" {
		fmt.Fprintf(&buf, "  label=%q;\n", opts.Title)
		buf.WriteString("  labelloc=t;\n")
	}
	buf.WriteString("  inputscale=72;\n")
	buf.WriteString("  splines=true;\n")
	buf.WriteString("  overlap=true;\n")
	fmt.Fprintf(&buf, "  node [shape=box, style=\"rounded,filled\", fillcolor=white, fixedsize=true, width=%s, height=%s];\n",
		fmtFloat(size.Width/pointsPerInch), fmtFloat(size.Height/pointsPerInch))
	buf.WriteString("\n")

	for _, n := range g.Nodes {
		cx := n.Position.X + size.Width/2
		cy := -(n.Position.Y + size.Height/2)
		attrs := []string{
			fmt.Sprintf("label=%q", n.Data.Name),
			fmt.Sprintf("pos=\"%s,%s!\"", fmtFloat(cx), fmtFloat(cy)),
		}
		attrs = append(attrs, gateAttrs(n.Data.GateType)...)
		fmt.Fprintf(&buf, "  %q [%s];\n", n.ID, strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, e := range g.Edges {
		s := StyleOf(e.Kind)
		attrs := []string{fmt.Sprintf("color=%q", s.Color)}
		if s.Dashed {
			attrs = append(attrs, "style=dashed")
		}
		if e.Kind == graph.EdgeDependency {
			attrs = append(attrs, "penwidth=2")
		}
		if l := edgeLabel(e); l != "" {
			attrs = append(attrs, fmt.Sprintf("label=%q", l))
		}
		fmt.Fprintf(&buf, "  %q -> %q [%s];\n", e.Source, e.Target, strings.Join(attrs, ", "))
	}

	buf.WriteString("}\n")
	return buf.String()
}

func gateAttrs(g schema.GateType) []string {
	switch g {
	case schema.GateHuman:
		return []string{"fillcolor=\"#fef3c7\"", "color=\"#b45309\""}
	case schema.GateAI:
		return []string{"fillcolor=\"#ede9fe\"", "color=\"#6d28d9\""}
	case schema.GateSkip:
		return []string{"style=\"rounded,filled,dashed\"", "fillcolor=\"#f3f4f6\""}
	default:
		return nil
	}
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SVG renders a DOT document with neato, honouring pinned positions.
func SVG(ctx context.Context, dot string) ([]byte, error) {
	return renderDOT(ctx, dot, graphviz.SVG)
}

// PNG renders a DOT document with neato, honouring pinned positions.
func PNG(ctx context.Context, dot string) ([]byte, error) {
	return renderDOT(ctx, dot, graphviz.PNG)
}

func renderDOT(ctx context.Context, dot string, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("render: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.NEATO)

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("render: parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, format, &buf); err != nil {
		return nil, fmt.Errorf("render: %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
