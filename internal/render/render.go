package render

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/phasegraph/internal/graph"
)

// Options configures Render.
type Options struct {
	Title string
	DOT   DOTOptions
}

// Render writes g in the given format. JSON is the canvas wire form.
func Render(ctx context.Context, g *graph.Graph, format Format, opts Options) ([]byte, error) {
	dotOpts := opts.DOT
	if dotOpts.Title == "" {
		dotOpts.Title = opts.Title
	}

	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(g, "", "  ")
	case FormatMermaid:
		return []byte(Mermaid(g, opts.Title)), nil
	case FormatDOT:
		return []byte(DOT(g, dotOpts)), nil
	case FormatSVG:
		return SVG(ctx, DOT(g, dotOpts))
	case FormatPNG:
		return PNG(ctx, DOT(g, dotOpts))
	}
	return nil, fmt.Errorf("unknown format %q", format)
}
