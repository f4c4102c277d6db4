package graph

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
)

// This file holds port level queries and reachability traversals.

// InEdges returns the edges arriving at node id, sorted by input port.
func (g *Graph) InEdges(id string) []*Edge {
	edges := slices.Clone(g.inEdges[id])
	slices.SortStableFunc(edges, func(a, b *Edge) int { return a.In - b.In })
	return edges
}

// OutEdges returns the edges leaving node id, sorted by output port.
func (g *Graph) OutEdges(id string) []*Edge {
	edges := slices.Clone(g.outEdges[id])
	slices.SortStableFunc(edges, func(a, b *Edge) int { return a.Out - b.Out })
	return edges
}

// InEdgesAt returns the edges arriving at input port `port` of node id.
func (g *Graph) InEdgesAt(id string, port int) []*Edge {
	return slices.DeleteFunc(g.InEdges(id), func(e *Edge) bool { return e.In != port })
}

// OutEdgesAt returns the edges leaving output port `port` of node id.
func (g *Graph) OutEdgesAt(id string, port int) []*Edge {
	return slices.DeleteFunc(g.OutEdges(id), func(e *Edge) bool { return e.Out != port })
}

// InPorts returns the sorted distinct input ports of node id that have an incoming edge.
func (g *Graph) InPorts(id string) []int {
	var ports []int
	for _, e := range g.InEdges(id) {
		if len(ports) == 0 || ports[len(ports)-1] != e.In {
			ports = append(ports, e.In)
		}
	}
	return ports
}

// OutPorts returns the sorted distinct output ports of node id that have an outgoing edge.
func (g *Graph) OutPorts(id string) []int {
	var ports []int
	for _, e := range g.OutEdges(id) {
		if len(ports) == 0 || ports[len(ports)-1] != e.Out {
			ports = append(ports, e.Out)
		}
	}
	return ports
}

// InNode returns the producer connected to input port `port` of node id, or nil.
// In OpData graphs this is the data node feeding the port.
func (g *Graph) InNode(id string, port int) *Node {
	edges := g.InEdgesAt(id, port)
	if len(edges) == 0 {
		return nil
	}
	return g.nodes[edges[0].Src]
}

// OutNodes returns the consumers connected to output port `port` of node id.
func (g *Graph) OutNodes(id string, port int) []*Node {
	var nodes []*Node
	for _, e := range g.OutEdgesAt(id, port) {
		nodes = append(nodes, g.nodes[e.Dst])
	}
	return nodes
}

// Producer returns the node feeding a data node and the output port used, or nil if the data node has no producer.
func (g *Graph) Producer(dataID string) (*Node, int) {
	edges := g.InEdges(dataID)
	if len(edges) == 0 {
		return nil, 0
	}
	return g.nodes[edges[0].Src], edges[0].Out
}

// Ancestors returns the ids of the given nodes and of every node from which one of them can be reached.
func (g *Graph) Ancestors(ids ...string) sets.Set[string] {
	return g.traverse(ids, func(id string) []string {
		in := g.inEdges[id]
		next := make([]string, len(in))
		for ii, e := range in {
			next[ii] = e.Src
		}
		return next
	})
}

// Descendants returns the ids of the given nodes and of every node reachable from one of them.
func (g *Graph) Descendants(ids ...string) sets.Set[string] {
	return g.traverse(ids, func(id string) []string {
		out := g.outEdges[id]
		next := make([]string, len(out))
		for ii, e := range out {
			next[ii] = e.Dst
		}
		return next
	})
}

func (g *Graph) traverse(roots []string, next func(id string) []string) sets.Set[string] {
	visited := sets.Make[string]()
	stack := slices.Clone(roots)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited.Has(id) || !g.HasNode(id) {
			continue
		}
		visited.Insert(id)
		stack = append(stack, next(id)...)
	}
	return visited
}

// Validate checks the structural invariants of the graph's topology:
//
//   - every edge references existing nodes;
//   - no input port of a node is fed twice;
//   - OpOnly graphs contain no data nodes;
//   - OpData graphs never connect two op nodes or two data nodes directly, op nodes feed at most one data node
//     per output port, and data nodes have at most one producer.
func (g *Graph) Validate() error {
	fedPorts := make(map[string]map[int]string)
	dataForPort := make(map[string]map[int]string)
	for _, e := range g.Edges() {
		src, dst := g.nodes[e.Src], g.nodes[e.Dst]
		if src == nil || dst == nil {
			return errors.Errorf("edge %s references a missing node", e)
		}
		if fedPorts[e.Dst] == nil {
			fedPorts[e.Dst] = make(map[int]string)
		}
		if other, found := fedPorts[e.Dst][e.In]; found {
			return errors.Errorf("input port %d of node %q is fed by both %q and %q", e.In, e.Dst, other, e.Src)
		}
		fedPorts[e.Dst][e.In] = e.Src

		switch g.Topology {
		case OpOnly:
			if src.Kind != KindOp || dst.Kind != KindOp {
				return errors.Errorf("edge %s connects a data node in an %s graph", e, g.Topology)
			}
		case OpData:
			if src.Kind == dst.Kind {
				return errors.Errorf("edge %s connects two %s nodes in an %s graph", e, src.Kind, g.Topology)
			}
			if src.Kind == KindOp {
				if dataForPort[e.Src] == nil {
					dataForPort[e.Src] = make(map[int]string)
				}
				if other, found := dataForPort[e.Src][e.Out]; found {
					return errors.Errorf("output port %d of node %q feeds two data nodes %q and %q", e.Out, e.Src, other, e.Dst)
				}
				dataForPort[e.Src][e.Out] = e.Dst
			}
		}
	}
	return nil
}
