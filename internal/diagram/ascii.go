package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a record status.
func statusTag(s *StatusOverlay) string {
	if s == nil {
		return ""
	}
	switch s.Status {
	case "completed":
		return "[OK]"
	case "error":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	case "pending":
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as rows of boxes, one row per level.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			if node := model.Node(nodeID); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		if len(boxes) > 0 && levelIdx > 0 && model.Node(level[0]).Unreachable {
			b.WriteString("\n(unreachable)\n")
		} else if levelIdx > 0 {
			renderConnector(&b)
		}
		renderBoxRow(&b, boxes)
	}

	if len(model.Edges) > 0 {
		b.WriteString("\nEdges:\n")
		for _, e := range model.Edges {
			label := ""
			if e.Label != "" {
				label = " [" + e.Label + "]"
			}
			fmt.Fprintf(&b, "  %s ─→ %s%s\n", e.From, e.To, label)
		}
	}
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	content := []string{firstLine(node.Label), "(" + string(node.Kind) + ")"}
	if tag := statusTag(node.Status); tag != "" {
		line := tag
		if node.Status.Attempts > 1 {
			line += fmt.Sprintf(" x%d", node.Status.Attempts)
		}
		if node.Status.DurationMs > 0 {
			line += fmt.Sprintf(" %dms", node.Status.DurationMs)
		}
		content = append(content, line)
	}

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, len([]rune(line)))
	}
	width := maxLen + 4

	lines := []string{"┌" + strings.Repeat("─", width-2) + "┐"}
	for _, c := range content {
		lines = append(lines, "│ "+c+strings.Repeat(" ", maxLen-len([]rune(c)))+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	height := 0
	for _, box := range boxes {
		height = max(height, len(box.lines))
	}
	for row := 0; row < height; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

func renderConnector(b *strings.Builder) {
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}
