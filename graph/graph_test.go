package graph

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeChain builds the OpOnly graph: in -> conv -> relu, with relu also fed by const at port 1.
func makeChain(t *testing.T) *Graph {
	t.Helper()
	return must.M1(Build(OpOnly,
		[]*Node{
			NewOp("in", OpPlaceholder),
			NewOp("conv", "Convolution"),
			NewOp("const", OpConst),
			NewOp("relu", "ReLU"),
		},
		[]EdgeDef{
			{Src: "in", Dst: "conv"},
			{Src: "conv", Dst: "relu"},
			{Src: "const", Dst: "relu", In: 1},
		}))
}

func nodeIDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for ii, n := range nodes {
		ids[ii] = n.ID
	}
	return ids
}

func TestShape(t *testing.T) {
	var unknown Shape
	scalar := Shape{}
	assert.True(t, unknown.Equal(nil))
	assert.False(t, unknown.Equal(scalar))
	assert.True(t, scalar.Equal(Shape{}))
	assert.True(t, Shape{1, 2}.Equal(Shape{1, 2}))
	assert.False(t, Shape{1, 2}.Equal(Shape{2, 1}))
	assert.Nil(t, unknown.Clone())
	assert.NotNil(t, scalar.Clone())
	assert.Equal(t, "[1 ? 3]", Shape{1, -1, 3}.String())
	assert.Equal(t, "?", unknown.String())
	assert.True(t, Shape{1, 3}.IsFullyConcrete())
	assert.False(t, Shape{1, -1}.IsFullyConcrete())
	assert.False(t, unknown.IsFullyConcrete())
}

func TestGraphEdges(t *testing.T) {
	g := makeChain(t)
	require.Equal(t, 4, g.NumNodes())

	inEdges := g.InEdges("relu")
	require.Len(t, inEdges, 2)
	assert.Equal(t, "conv", inEdges[0].Src)
	assert.Equal(t, "const", inEdges[1].Src)
	assert.Equal(t, []int{0, 1}, g.InPorts("relu"))
	assert.Equal(t, "const", g.InNode("relu", 1).ID)
	assert.Nil(t, g.InNode("relu", 2))
	assert.Equal(t, []int{0}, g.OutPorts("conv"))
	assert.Equal(t, []*Node{g.Node("relu")}, g.OutNodes("conv", 0))

	require.True(t, g.RemoveEdge(inEdges[1]))
	assert.False(t, g.RemoveEdge(inEdges[1]))
	assert.False(t, g.HasEdge("const", "relu"))

	g.RemoveNode("conv")
	assert.False(t, g.HasNode("conv"))
	assert.Empty(t, g.InEdges("relu"))
	assert.Empty(t, g.OutEdges("in"))
}

func TestEdgesOrder(t *testing.T) {
	g := makeChain(t)
	e := must.M1(g.AddEdge("in", "relu", 1, 2))
	edgeStrings := func(edges []*Edge) (s []string) {
		for _, e := range edges {
			s = append(s, e.String())
		}
		return
	}
	assert.Equal(t, []string{"in:0 -> 0:conv", "conv:0 -> 0:relu", "const:0 -> 1:relu", "in:1 -> 2:relu"},
		edgeStrings(g.Edges()))
	assert.Equal(t, 4, g.NumEdges())

	g.RemoveEdge(e)
	g.RemoveNodes("const", "conv", "missing")
	assert.Equal(t, []string{"in", "relu"}, nodeIDs(g.Nodes()))
	assert.Empty(t, g.Edges())
	assert.Equal(t, 0, g.NumEdges())
	assert.Equal(t, []string{"in", "relu"}, nodeIDs(g.Sinks()))

	// Edges added after a removal keep the insertion order.
	must.M1(g.AddEdge("relu", "in", 0, 0))
	must.M1(g.AddEdge("in", "relu", 0, 0))
	assert.Equal(t, []string{"relu:0 -> 0:in", "in:0 -> 0:relu"}, edgeStrings(g.Edges()))
	assert.Equal(t, []string{"relu:0 -> 0:in", "in:0 -> 0:relu"}, edgeStrings(g.Clone().Edges()))
}

func TestGraphErrors(t *testing.T) {
	g := New(OpOnly)
	require.NoError(t, g.AddNode(NewOp("a", "A")))
	require.Error(t, g.AddNode(NewOp("a", "A")))
	require.Error(t, g.AddNode(&Node{}))
	_, err := g.AddEdge("a", "missing", 0, 0)
	require.Error(t, err)
	_, err = g.AddEdge("a", "a", -1, 0)
	require.Error(t, err)
}

func TestUniqueID(t *testing.T) {
	g := makeChain(t)
	assert.Equal(t, "new", g.UniqueID("new"))
	assert.Equal(t, "conv_1", g.UniqueID("conv"))
	require.NoError(t, g.AddNode(NewOp("conv_1", "X")))
	assert.Equal(t, "conv_2", g.UniqueID("conv"))
}

func TestNodesByName(t *testing.T) {
	g := makeChain(t)
	g.Node("conv").Name = "Conv"
	assert.Empty(t, g.NodesByName("conv"))
	assert.Equal(t, []*Node{g.Node("conv")}, g.NodesByName("Conv"))

	// Nodes without name are found by their id.
	g.Node("relu").Name = ""
	assert.Equal(t, []*Node{g.Node("relu")}, g.NodesByName("relu"))
}

func TestCloneIsDeep(t *testing.T) {
	g := makeChain(t)
	g.Node("in").Shape = Shape{1, 3}
	g.Node("in").Attrs = map[string]any{"k": 1}

	c := g.Clone()
	c.Node("in").Shape[0] = 7
	c.Node("in").Attrs["k"] = 2
	c.Node("in").IsInput = true
	c.RemoveEdge(c.InEdges("conv")[0])

	assert.Equal(t, Shape{1, 3}, g.Node("in").Shape)
	assert.Equal(t, 1, g.Node("in").Attrs["k"])
	assert.False(t, g.Node("in").IsInput)
	assert.True(t, g.HasEdge("in", "conv"))

	assert.Len(t, g.OutEdges("in"), 1)
	assert.Empty(t, c.OutEdges("in"))
	assert.Equal(t, 2, c.NumEdges())

	// Adding to the clone doesn't change the original.
	must.M1(c.AddEdge("const", "conv", 0, 1))
	assert.Empty(t, g.InEdges("conv")[1:])

	g.ReplaceWith(c)
	assert.False(t, g.HasEdge("in", "conv"))
	assert.True(t, g.Node("in").IsInput)
}

func TestAncestorsDescendants(t *testing.T) {
	g := makeChain(t)
	anc := g.Ancestors("relu")
	assert.Len(t, anc, 4)
	anc = g.Ancestors("conv")
	assert.True(t, anc.Has("in"))
	assert.False(t, anc.Has("const"))
	desc := g.Descendants("in")
	assert.True(t, desc.Has("relu"))
	assert.False(t, desc.Has("const"))
}

func TestValidate(t *testing.T) {
	// Op nodes connected directly in an OpData graph.
	_, err := Build(OpData,
		[]*Node{NewOp("a", "A"), NewOp("b", "B")},
		[]EdgeDef{{Src: "a", Dst: "b"}})
	require.Error(t, err)

	// Data node in an OpOnly graph.
	_, err = Build(OpOnly,
		[]*Node{NewOp("a", "A"), NewData("d", nil)},
		[]EdgeDef{{Src: "a", Dst: "d"}})
	require.Error(t, err)

	// Input port fed twice.
	_, err = Build(OpOnly,
		[]*Node{NewOp("a", "A"), NewOp("b", "B"), NewOp("c", "C")},
		[]EdgeDef{{Src: "a", Dst: "c"}, {Src: "b", Dst: "c"}})
	require.Error(t, err)

	// Output port feeding two data nodes.
	_, err = Build(OpData,
		[]*Node{NewOp("a", "A"), NewData("d1", nil), NewData("d2", nil)},
		[]EdgeDef{{Src: "a", Dst: "d1"}, {Src: "a", Dst: "d2"}})
	require.Error(t, err)

	// Valid OpData graph with fan-out.
	_, err = Build(OpData,
		[]*Node{NewOp("a", "A"), NewData("d", Shape{2}), NewOp("b", "B"), NewOp("c", "C")},
		[]EdgeDef{{Src: "a", Dst: "d"}, {Src: "d", Dst: "b"}, {Src: "d", Dst: "c", In: 1}})
	require.NoError(t, err)
}

func TestString(t *testing.T) {
	g := makeChain(t)
	g.Node("in").IsInput = true
	s := g.String()
	assert.Contains(t, s, "op topology")
	assert.Contains(t, s, `"Convolution"`)
	assert.Contains(t, s, "in:0 -> 0:conv")
	assert.Contains(t, s, "Inputs:\t[in?]")
}
