// Package visual строит диаграммы определений workflow.
package visual

import (
	"fmt"
	"strings"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/engine"
)

// Overlay — состояние запуска поверх диаграммы.
type Overlay struct {
	Succeeded []string
	Failed    []string
}

// OverlayFromNodeRuns собирает Overlay из выполнений узлов.
// Узел, который хотя бы раз упал, отмечается как failed.
func OverlayFromNodeRuns(nodeRuns []domain.NodeRun) *Overlay {
	failed := make(map[string]bool)
	for _, nr := range nodeRuns {
		if nr.Status == domain.NodeStatusFailed {
			failed[nr.NodeID] = true
		}
	}

	o := &Overlay{}
	seen := make(map[string]bool)
	for _, nr := range nodeRuns {
		if seen[nr.NodeID] {
			continue
		}
		seen[nr.NodeID] = true
		switch {
		case failed[nr.NodeID]:
			o.Failed = append(o.Failed, nr.NodeID)
		case nr.Status == domain.NodeStatusSucceeded:
			o.Succeeded = append(o.Succeeded, nr.NodeID)
		}
	}
	return o
}

// Mermaid возвращает flowchart в синтаксисе Mermaid.
//
// Формы узлов:
//   - стартовый узел: ((круг))
//   - logic/*: {ромб}
//   - trigger/*: ([стадион])
//   - остальные: [прямоугольник]
//
// Условные связи подписываются текстом условия.
func Mermaid(def *domain.WorkflowDefinition, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")
	if def == nil {
		return sb.String()
	}

	starts := make(map[string]bool)
	if ids, err := engine.FindStartNodes(def); err == nil {
		for _, id := range ids {
			starts[id] = true
		}
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]
		opener, closer := shape(node, starts[node.ID])
		fmt.Fprintf(&sb, "    %s%s\"%s<br/><small>%s</small>\"%s\n",
			sanitizeID(node.ID), opener, escapeLabel(node.DisplayName()), escapeLabel(node.Type), closer)
	}

	for _, conn := range def.Connections {
		from, to := sanitizeID(conn.From), sanitizeID(conn.To)
		if conn.IsConditional() {
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", from, escapeLabel(conn.Condition), to)
			continue
		}
		fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
	}

	if overlay != nil && (len(overlay.Succeeded) > 0 || len(overlay.Failed) > 0) {
		sb.WriteString("\n    classDef succeeded fill:#e8f5e9,stroke:#2e7d32,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffebee,stroke:#c62828,stroke-width:2px,color:#000;\n")
		for _, id := range overlay.Succeeded {
			fmt.Fprintf(&sb, "    class %s succeeded;\n", sanitizeID(id))
		}
		for _, id := range overlay.Failed {
			fmt.Fprintf(&sb, "    class %s failed;\n", sanitizeID(id))
		}
	}

	return sb.String()
}

func shape(node *domain.NodeSpec, start bool) (string, string) {
	switch {
	case start:
		return "((", "))"
	case strings.HasPrefix(node.Type, "logic/"):
		return "{", "}"
	case strings.HasPrefix(node.Type, "trigger/"):
		return "([", "])"
	default:
		return "[", "]"
	}
}

var idReplacer = strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_")

func sanitizeID(id string) string {
	return "n_" + idReplacer.Replace(id)
}

var labelReplacer = strings.NewReplacer("\"", "#quot;", "<", "#lt;", ">", "#gt;")

func escapeLabel(s string) string {
	return labelReplacer.Replace(s)
}
