package render

import (
	"fmt"
	"strings"

	"github.com/rendis/phasegraph/internal/graph"
	"github.com/rendis/phasegraph/pkg/schema"
)

// Mermaid renders g as a left-to-right Mermaid flowchart. Mermaid runs its
// own layout, so node positions are not carried over.
func Mermaid(g *graph.Graph, title string) string {
	var b strings.Builder

	b.WriteString("graph LR\n")
	if title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", title)
	}

	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(n))
	}

	for _, e := range g.Edges {
		label := ""
		if l := edgeLabel(e); l != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(l))
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n",
			mermaidSafeID(e.Source), StyleOf(e.Kind).Arrow, label, mermaidSafeID(e.Target))
	}

	// Gate class definitions.
	b.WriteString("\n")
	b.WriteString("    classDef human fill:#fef3c7,stroke:#b45309\n")
	b.WriteString("    classDef ai fill:#ede9fe,stroke:#6d28d9\n")
	b.WriteString("    classDef skip fill:#f3f4f6,stroke:#9ca3af,stroke-dasharray:5 5\n")

	for _, n := range g.Nodes {
		if cls := mermaidGateClass(n.Data.GateType); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(n.ID), cls)
		}
	}

	for i, e := range g.Edges {
		s := StyleOf(e.Kind)
		style := "stroke:" + s.Color
		if s.Dashed {
			style += ",stroke-dasharray:5 5"
		}
		fmt.Fprintf(&b, "    linkStyle %d %s\n", i, style)
	}

	return b.String()
}

func mermaidNodeDef(n *graph.Node) string {
	id := mermaidSafeID(n.ID)
	label := mermaidEscapeLabel(n.Data.Name)
	if n.Data.GateType == schema.GateHuman {
		return fmt.Sprintf("%s{{%q}}", id, label)
	}
	return fmt.Sprintf("%s[%q]", id, label)
}

// mermaidSafeID replaces dots, dashes and spaces with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel drops characters that end a Mermaid label early.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(`"`, "'", "|", "/", "\n", " ")
	return r.Replace(s)
}

func mermaidGateClass(g schema.GateType) string {
	switch g {
	case schema.GateHuman:
		return "human"
	case schema.GateAI:
		return "ai"
	case schema.GateSkip:
		return "skip"
	default:
		return ""
	}
}
