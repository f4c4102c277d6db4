package graph

import (
	"github.com/pkg/errors"
)

// EdgeDef describes an edge for Build.
type EdgeDef struct {
	Src, Dst string
	Out, In  int
}

// Build creates a graph from a list of nodes and edges, and validates its topology.
func Build(topology Topology, nodes []*Node, edges []EdgeDef) (*Graph, error) {
	g := New(topology)
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range edges {
		if _, err := g.AddEdge(e.Src, e.Dst, e.Out, e.In); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, errors.WithMessage(err, "graph.Build")
	}
	return g, nil
}

// NewOp returns an op node with the given id and op tag. The op tag is also used as its type.
func NewOp(id, op string) *Node {
	return &Node{ID: id, Name: id, Kind: KindOp, Op: op, Type: op}
}

// NewData returns a data node with the given id and shape.
func NewData(id string, shape Shape) *Node {
	return &Node{ID: id, Name: id, Kind: KindData, Shape: shape}
}
