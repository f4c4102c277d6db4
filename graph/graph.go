// Package graph holds the computation graph that the cutting passes rewrite.
//
// A Graph is imported from a trained model description and lives in one of two topologies:
//
//   - OpOnly: before shape inference. Edges connect op nodes directly, and each edge carries the producer's
//     output port (Out) and the consumer's input port (In).
//   - OpData: after shape inference. Op nodes and data nodes alternate: an op's output port k feeds exactly
//     one data node, and that data node fans out to every consumer. A data node has at most one producer.
//
// The topology is carried once on the Graph, and passes dispatch on it instead of probing node attributes.
//
// Node identity is the ID, which is unique within the graph. Name is the user-facing display name, and
// several nodes may share it.
package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Topology of a Graph, see package documentation.
type Topology int

const (
	// OpOnly graphs connect op nodes directly: they exist before shape inference.
	OpOnly Topology = iota

	// OpData graphs alternate op and data nodes: they exist after shape inference.
	OpData
)

// String implements fmt.Stringer.
func (t Topology) String() string {
	switch t {
	case OpOnly:
		return "op"
	case OpData:
		return "op_data"
	default:
		return "invalid"
	}
}

// Kind of node.
type Kind int

const (
	KindOp Kind = iota
	KindData
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindOp:
		return "op"
	case KindData:
		return "data"
	default:
		return "invalid"
	}
}

// Well-known op tags.
const (
	OpPlaceholder = "Placeholder"
	OpOutput      = "OpOutput"
	OpConst       = "Const"
)

// Shape is an ordered list of dimensions. A nil Shape is unknown, while an empty (non-nil) Shape is a scalar.
// Dynamic axes are marked with -1.
type Shape []int

// Equal returns whether both shapes are known and equal, or both unknown.
func (s Shape) Equal(other Shape) bool {
	if (s == nil) != (other == nil) {
		return false
	}
	return slices.Equal(s, other)
}

// Clone returns a copy of the shape, preserving the nil (unknown) value.
func (s Shape) Clone() Shape {
	return slices.Clone(s)
}

// IsFullyConcrete returns true if the shape is known and has no dynamic axis.
func (s Shape) IsFullyConcrete() bool {
	if s == nil {
		return false
	}
	for _, d := range s {
		if d < 0 {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s == nil {
		return "?"
	}
	parts := make([]string, len(s))
	for ii, d := range s {
		if d < 0 {
			parts[ii] = "?"
		} else {
			parts[ii] = fmt.Sprintf("%d", d)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Node of the graph. The set of fields is closed; framework specific attributes go to Attrs.
type Node struct {
	ID   string
	Name string
	Kind Kind

	// Op is the operation tag (e.g. "Placeholder") and Type its IR type. Only used by op nodes.
	Op, Type string

	IsInput, IsOutput bool

	// Shape of the tensor produced: for op nodes it is the shape requested for placeholders, for data nodes the
	// inferred shape.
	Shape Shape

	// DType of the tensor produced, if known.
	DType dtypes.DType

	// Value holds the constant value of data nodes (when known) and of frozen placeholders.
	Value *tensors.Tensor

	// SpatialDims maps a logical spatial axis to the index used in per-axis attributes (kernel, pad, stride...).
	// nil if the node has no spatial axes.
	SpatialDims []int

	// Attrs holds passthrough attributes.
	Attrs map[string]any
}

// DisplayName returns the Name of the node, or its ID if it has no name.
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n.Kind == KindData {
		return fmt.Sprintf("data %q %s", n.ID, n.Shape)
	}
	return fmt.Sprintf("%s %q", n.Op, n.ID)
}

// clone returns a deep copy of the node, except for Value which is shared: tensors are not mutated in place.
func (n *Node) clone() *Node {
	c := *n
	c.Shape = n.Shape.Clone()
	c.SpatialDims = slices.Clone(n.SpatialDims)
	if n.Attrs != nil {
		c.Attrs = maps.Clone(n.Attrs)
	}
	return &c
}

// Edge connects the output port Out of Src to the input port In of Dst.
type Edge struct {
	Src, Dst string
	Out, In  int
	Attrs    map[string]any

	// seq orders edges by insertion.
	seq int
}

// String implements fmt.Stringer.
func (e *Edge) String() string {
	return fmt.Sprintf("%s:%d -> %d:%s", e.Src, e.Out, e.In, e.Dst)
}

// Graph is a directed multi-graph of nodes and port annotated edges.
//
// It is not safe for concurrent use: passes take exclusive ownership during their call.
type Graph struct {
	Topology Topology

	nodes map[string]*Node
	order []string

	// Adjacency lists, each in insertion order.
	inEdges, outEdges map[string][]*Edge
	numEdges, nextSeq int
}

// New creates an empty graph with the given topology.
func New(topology Topology) *Graph {
	return &Graph{
		Topology: topology,
		nodes:    make(map[string]*Node),
		inEdges:  make(map[string][]*Edge),
		outEdges: make(map[string][]*Edge),
	}
}

// AddNode adds the node to the graph. It fails if the ID is empty or already in use.
func (g *Graph) AddNode(n *Node) error {
	if n.ID == "" {
		return errors.New("graph.AddNode: node has an empty ID")
	}
	if _, found := g.nodes[n.ID]; found {
		return errors.Errorf("graph.AddNode: node %q already exists", n.ID)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// Node returns the node with the given id, or nil if it doesn't exist.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// HasNode returns whether a node with the given id exists.
func (g *Graph) HasNode(id string) bool {
	_, found := g.nodes[id]
	return found
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// NodesByName returns the nodes whose display name is exactly name, in insertion order.
func (g *Graph) NodesByName(name string) []*Node {
	var found []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.DisplayName() == name {
			found = append(found, n)
		}
	}
	return found
}

// Inputs returns the nodes flagged as inputs, in insertion order.
func (g *Graph) Inputs() []*Node {
	return g.filter(func(n *Node) bool { return n.IsInput })
}

// Outputs returns the nodes flagged as outputs, in insertion order.
func (g *Graph) Outputs() []*Node {
	return g.filter(func(n *Node) bool { return n.IsOutput })
}

// NodesWithOp returns the op nodes with the given op tag, in insertion order.
func (g *Graph) NodesWithOp(op string) []*Node {
	return g.filter(func(n *Node) bool { return n.Kind == KindOp && n.Op == op })
}

// Sinks returns the nodes without outgoing edges, in insertion order.
func (g *Graph) Sinks() []*Node {
	return g.filter(func(n *Node) bool { return len(g.outEdges[n.ID]) == 0 })
}

func (g *Graph) filter(pred func(n *Node) bool) []*Node {
	var found []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; pred(n) {
			found = append(found, n)
		}
	}
	return found
}

// UniqueID returns prefix if no node uses it as ID, otherwise prefix suffixed with the first free "_<n>".
func (g *Graph) UniqueID(prefix string) string {
	if !g.HasNode(prefix) {
		return prefix
	}
	for ii := 1; ; ii++ {
		id := fmt.Sprintf("%s_%d", prefix, ii)
		if !g.HasNode(id) {
			return id
		}
	}
}

// AddEdge connects port out of src to port in of dst.
func (g *Graph) AddEdge(src, dst string, out, in int) (*Edge, error) {
	if !g.HasNode(src) {
		return nil, errors.Errorf("graph.AddEdge: unknown source node %q", src)
	}
	if !g.HasNode(dst) {
		return nil, errors.Errorf("graph.AddEdge: unknown destination node %q", dst)
	}
	if out < 0 || in < 0 {
		return nil, errors.Errorf("graph.AddEdge: invalid ports for edge %s:%d -> %d:%s", src, out, in, dst)
	}
	e := &Edge{Src: src, Dst: dst, Out: out, In: in}
	g.insertEdge(e)
	return e, nil
}

// insertEdge links e into the adjacency lists, giving it the next insertion sequence number.
func (g *Graph) insertEdge(e *Edge) {
	e.seq = g.nextSeq
	g.nextSeq++
	g.outEdges[e.Src] = append(g.outEdges[e.Src], e)
	g.inEdges[e.Dst] = append(g.inEdges[e.Dst], e)
	g.numEdges++
}

// RemoveEdge removes the given edge. It returns false if the edge wasn't part of the graph.
func (g *Graph) RemoveEdge(e *Edge) bool {
	out := g.outEdges[e.Src]
	idx := slices.Index(out, e)
	if idx < 0 {
		return false
	}
	g.outEdges[e.Src] = slices.Delete(out, idx, idx+1)
	in := g.inEdges[e.Dst]
	if idx = slices.Index(in, e); idx >= 0 {
		g.inEdges[e.Dst] = slices.Delete(in, idx, idx+1)
	}
	g.numEdges--
	return true
}

// RemoveNode removes the node and every edge touching it.
func (g *Graph) RemoveNode(id string) {
	g.RemoveNodes(id)
}

// RemoveNodes removes the nodes and every edge touching them. Unknown ids are ignored.
func (g *Graph) RemoveNodes(ids ...string) {
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !g.HasNode(id) || removed[id] {
			continue
		}
		removed[id] = true
		for _, e := range slices.Clone(g.outEdges[id]) {
			g.RemoveEdge(e)
		}
		for _, e := range slices.Clone(g.inEdges[id]) {
			g.RemoveEdge(e)
		}
		delete(g.nodes, id)
		delete(g.outEdges, id)
		delete(g.inEdges, id)
	}
	if len(removed) > 0 {
		g.order = slices.DeleteFunc(g.order, func(id string) bool { return removed[id] })
	}
}

// NumEdges returns the number of edges in the graph.
func (g *Graph) NumEdges() int {
	return g.numEdges
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []*Edge {
	edges := make([]*Edge, 0, g.numEdges)
	for _, id := range g.order {
		edges = append(edges, g.outEdges[id]...)
	}
	slices.SortFunc(edges, func(a, b *Edge) int { return a.seq - b.seq })
	return edges
}

// HasEdge returns whether there is at least one edge from src to dst.
func (g *Graph) HasEdge(src, dst string) bool {
	return slices.ContainsFunc(g.outEdges[src], func(e *Edge) bool { return e.Dst == dst })
}

// Clone returns a deep copy of the graph. Tensor values are shared.
func (g *Graph) Clone() *Graph {
	c := New(g.Topology)
	c.order = slices.Clone(g.order)
	for id, n := range g.nodes {
		c.nodes[id] = n.clone()
	}
	for _, e := range g.Edges() {
		ce := *e
		if e.Attrs != nil {
			ce.Attrs = maps.Clone(e.Attrs)
		}
		c.outEdges[ce.Src] = append(c.outEdges[ce.Src], &ce)
		c.inEdges[ce.Dst] = append(c.inEdges[ce.Dst], &ce)
	}
	c.numEdges, c.nextSeq = g.numEdges, g.nextSeq
	return c
}

// ReplaceWith makes g hold the contents of other, which must not be used afterwards.
// Passes use it to commit a rewrite done on a Clone: *Node and *Edge pointers taken from g before the call
// belong to the old contents and are no longer part of g.
func (g *Graph) ReplaceWith(other *Graph) {
	*g = *other
}
