package engine

import (
	"github.com/shaiso/flowgraph/internal/domain"
)

// Graph — индекс определения workflow для обхода.
//
// Порядок узлов и исходящих связей совпадает с порядком объявления:
// от него зависит порядок обхода.
type Graph struct {
	// nodes — узлы по ID.
	nodes map[string]*domain.NodeSpec

	// order — ID узлов в порядке объявления.
	order []string

	// outgoing — исходящие связи узла в порядке объявления.
	outgoing map[string][]*domain.ConnectionSpec

	// inDegree — количество входящих связей узла.
	inDegree map[string]int
}

// BuildGraph строит индекс по определению.
// Определение должно быть провалидировано: связи на неизвестные
// узлы попадают в индекс, но никогда не достигаются.
func BuildGraph(def *domain.WorkflowDefinition) *Graph {
	g := &Graph{
		nodes:    make(map[string]*domain.NodeSpec, len(def.Nodes)),
		order:    make([]string, 0, len(def.Nodes)),
		outgoing: make(map[string][]*domain.ConnectionSpec),
		inDegree: make(map[string]int, len(def.Nodes)),
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]
		if _, exists := g.nodes[node.ID]; exists {
			continue
		}
		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)
	}

	for i := range def.Connections {
		conn := &def.Connections[i]
		g.outgoing[conn.From] = append(g.outgoing[conn.From], conn)
		g.inDegree[conn.To]++
	}

	return g
}

// Node возвращает узел по ID или nil.
func (g *Graph) Node(id string) *domain.NodeSpec {
	return g.nodes[id]
}

// Outgoing возвращает исходящие связи узла в порядке объявления.
func (g *Graph) Outgoing(id string) []*domain.ConnectionSpec {
	return g.outgoing[id]
}

// InDegree возвращает количество входящих связей узла.
func (g *Graph) InDegree(id string) int {
	return g.inDegree[id]
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.order)
}

// StartNodes возвращает узлы без входящих связей в порядке объявления.
// Возвращает ErrNoStartNode, если таких узлов нет.
func (g *Graph) StartNodes() ([]*domain.NodeSpec, error) {
	starts := make([]*domain.NodeSpec, 0)
	for _, id := range g.order {
		if g.inDegree[id] == 0 {
			starts = append(starts, g.nodes[id])
		}
	}
	if len(starts) == 0 {
		return nil, ErrNoStartNode
	}
	return starts, nil
}

// HasCycle проверяет граф на циклы (алгоритм Кана).
//
// Циклы допустимы, движок ограничивает их лимитом выполнений;
// проверка нужна для предупреждений и визуализации.
func (g *Graph) HasCycle() bool {
	inDegree := make(map[string]int, len(g.inDegree))
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for _, conns := range g.outgoing {
		for _, c := range conns {
			if _, ok := g.nodes[c.To]; ok {
				inDegree[c.To]++
			}
		}
	}

	queue := make([]string, 0)
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, c := range g.outgoing[id] {
			if _, ok := g.nodes[c.To]; !ok {
				continue
			}
			inDegree[c.To]--
			if inDegree[c.To] == 0 {
				queue = append(queue, c.To)
			}
		}
	}

	return visited != len(g.nodes)
}

// Reachable возвращает ID узлов, достижимых из стартовых
// без учёта условий связей, в порядке объявления.
func (g *Graph) Reachable() []string {
	seen := make(map[string]bool, len(g.nodes))
	stack := make([]string, 0)
	for _, id := range g.order {
		if g.inDegree[id] == 0 {
			stack = append(stack, id)
		}
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, c := range g.outgoing[id] {
			if _, ok := g.nodes[c.To]; ok && !seen[c.To] {
				stack = append(stack, c.To)
			}
		}
	}

	result := make([]string, 0, len(seen))
	for _, id := range g.order {
		if seen[id] {
			result = append(result, id)
		}
	}
	return result
}
