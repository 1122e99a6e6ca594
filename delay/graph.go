package delay

import (
	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
)

// Node is a Delayable, a Chain or a Group.
type Node interface {
	heads() []*Delayable
	tails() []*Delayable
	graph() *graph
}

// graph is an ordered adjacency list between nodes.
type graph struct {
	order []Node
	edges map[Node][]Node
}

func newGraph() *graph {
	return &graph{edges: make(map[Node][]Node)}
}

func (g *graph) addVertex(n Node) {
	if _, ok := g.edges[n]; ok {
		return
	}
	g.edges[n] = nil
	g.order = append(g.order, n)
}

func (g *graph) addEdge(parent, child Node) {
	g.addVertex(parent)
	g.addVertex(child)
	for _, c := range g.edges[parent] {
		if c == child {
			return
		}
	}
	g.edges[parent] = append(g.edges[parent], child)
}

// dag is the connected graph of Delayables a Delay call stores.
type dag struct {
	order    []*Delayable
	children map[*Delayable][]*Delayable
	parents  map[*Delayable][]*Delayable
}

func newDAG() *dag {
	return &dag{
		children: make(map[*Delayable][]*Delayable),
		parents:  make(map[*Delayable][]*Delayable),
	}
}

func (d *dag) addVertex(v *Delayable) {
	if _, ok := d.children[v]; ok {
		return
	}
	d.children[v] = nil
	d.order = append(d.order, v)
}

func (d *dag) addEdge(parent, child *Delayable) {
	d.addVertex(parent)
	d.addVertex(child)
	for _, c := range d.children[parent] {
		if c == child {
			return
		}
	}
	d.children[parent] = append(d.children[parent], child)
	d.parents[child] = append(d.parents[child], parent)
}

// merge adds the edges of g, replacing every composite vertex by its tails
// on the parent side and by its heads on the child side.
func (d *dag) merge(g *graph) {
	for _, v := range g.order {
		var heads []*Delayable
		for _, child := range g.edges[v] {
			heads = append(heads, child.heads()...)
		}
		for _, tail := range v.tails() {
			d.addVertex(tail)
			for _, head := range heads {
				d.addEdge(tail, head)
			}
		}
	}
}

// connect merges every graph reachable from root, breadth first.
func connect(root *graph) *dag {
	out := newDAG()
	seen := make(map[*graph]bool)
	queue := []*graph{root}
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		if seen[g] {
			continue
		}
		seen[g] = true
		out.merge(g)
		for _, v := range g.order {
			queue = append(queue, v.graph())
		}
	}
	return out
}

// sorted returns the vertices in dependency order, parents first, keeping
// insertion order among independent vertices.
func (d *dag) sorted() ([]*Delayable, error) {
	indegree := make(map[*Delayable]int, len(d.order))
	for _, v := range d.order {
		indegree[v] = len(d.parents[v])
	}
	var ready, out []*Delayable
	for _, v := range d.order {
		if indegree[v] == 0 {
			ready = append(ready, v)
		}
	}
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		out = append(out, v)
		for _, c := range d.children[v] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if len(out) != len(d.order) {
		return nil, errors.Wrapf(queuejob.ErrCyclicGraph, "%d of %d jobs are on a cycle", len(d.order)-len(out), len(d.order))
	}
	return out, nil
}
