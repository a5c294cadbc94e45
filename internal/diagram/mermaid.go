package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/lessonflow/pkg/schema"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}
	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef unreachable fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		switch {
		case node.Status != nil:
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), node.Status.Status)
		case node.Unreachable:
			fmt.Fprintf(&b, "    class %s unreachable\n", mermaidSafeID(node.ID))
		}
	}
	return b.String()
}

// mermaidNodeDef picks a shape per kind family.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := strings.ReplaceAll(firstLine(node.Label), `"`, "'")

	switch node.Kind.Family() {
	case schema.FamilyStart, schema.FamilyEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	case schema.FamilyAI:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case schema.FamilyMessaging, schema.FamilyCalendar:
		return fmt.Sprintf("%s>%q]", id, label)
	case schema.FamilyPDF:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case schema.FamilyLesson:
		return fmt.Sprintf("%s[(%q)]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID replaces characters Mermaid does not accept in identifiers.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}
