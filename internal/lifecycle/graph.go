package lifecycle

import (
	"github.com/picklr-io/apphost/internal/model"
)

// DAG orders resource starts by their wait and reference edges.
type DAG struct {
	nodes map[string]*dagNode
	names []string   // registration order
	waves [][]string // resources that can start together
	order []string   // flattened waves, start order
}

type dagNode struct {
	name     string
	edges    []string // resources this node waits for
	revEdges []string // resources waiting for this node
}

// BuildDAG constructs the start graph. Edges to resources outside the list
// are ignored. A cycle yields a *model.CyclicGraphError.
func BuildDAG(resources []model.Resource) (*DAG, error) {
	dag := &DAG{nodes: make(map[string]*dagNode, len(resources))}
	for _, r := range resources {
		dag.nodes[r.Name()] = &dagNode{name: r.Name()}
		dag.names = append(dag.names, r.Name())
	}

	for _, r := range resources {
		node := dag.nodes[r.Name()]
		for _, dep := range model.Dependencies(r) {
			if _, ok := dag.nodes[dep.Name()]; ok {
				node.edges = append(node.edges, dep.Name())
			}
		}
	}

	// Reverse edges in registration order.
	for _, name := range dag.names {
		for _, dep := range dag.nodes[name].edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, name)
		}
	}

	if err := dag.topoSort(); err != nil {
		return nil, err
	}
	return dag, nil
}

// topoSort runs Kahn's algorithm one wave at a time. Ties are broken by
// registration order.
func (d *DAG) topoSort() error {
	inDegree := make(map[string]int, len(d.nodes))
	for name, node := range d.nodes {
		inDegree[name] = len(node.edges)
	}

	var wave []string
	for _, name := range d.names {
		if inDegree[name] == 0 {
			wave = append(wave, name)
		}
	}

	for len(wave) > 0 {
		d.waves = append(d.waves, wave)
		d.order = append(d.order, wave...)

		ready := make(map[string]bool)
		for _, name := range wave {
			for _, dependent := range d.nodes[name].revEdges {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					ready[dependent] = true
				}
			}
		}
		wave = nil
		for _, name := range d.names {
			if ready[name] {
				wave = append(wave, name)
			}
		}
	}

	if len(d.order) != len(d.nodes) {
		return &model.CyclicGraphError{Path: d.findCycle(inDegree)}
	}
	return nil
}

// findCycle walks unresolved nodes to report one cycle path.
func (d *DAG) findCycle(inDegree map[string]int) []string {
	var start string
	for _, name := range d.names {
		if inDegree[name] > 0 {
			start = name
			break
		}
	}
	seen := make(map[string]int)
	var path []string
	for cur := start; ; {
		if i, ok := seen[cur]; ok {
			return append(path[i:], cur)
		}
		seen[cur] = len(path)
		path = append(path, cur)
		next := ""
		for _, dep := range d.nodes[cur].edges {
			if inDegree[dep] > 0 {
				next = dep
				break
			}
		}
		if next == "" {
			return path
		}
		cur = next
	}
}

// StartOrder returns resource names in start order.
func (d *DAG) StartOrder() []string { return d.order }

// StopOrder returns resource names in reverse start order.
func (d *DAG) StopOrder() []string {
	out := make([]string, len(d.order))
	for i, name := range d.order {
		out[len(d.order)-1-i] = name
	}
	return out
}

// Waves returns groups of resources whose dependencies are all in earlier
// groups.
func (d *DAG) Waves() [][]string { return d.waves }

// Dependencies returns the resources name waits for.
func (d *DAG) Dependencies(name string) []string {
	if node, ok := d.nodes[name]; ok {
		return node.edges
	}
	return nil
}
