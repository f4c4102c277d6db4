package graph

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
)

// String implements fmt.Stringer, and pretty prints the graph summary followed by its nodes and edges.
func (g *Graph) String() string {
	var buf bytes.Buffer
	// w writes formatted text to buf.
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	w("Graph (%s topology):\n", g.Topology)
	w("\t# nodes:\t%d\n", len(g.nodes))
	w("\t# edges:\t%d\n", g.numEdges)

	opTypesSet := sets.Make[string]()
	for _, n := range g.nodes {
		if n.Kind == KindOp && n.Op != "" {
			opTypesSet.Insert(n.Op)
		}
	}
	w("\tOps:\t%q\n", slices.Sorted(maps.Keys(opTypesSet)))

	writeIDs := func(title string, nodes []*Node) {
		w("\t%s:\t[", title)
		for ii, n := range nodes {
			if ii > 0 {
				w(", ")
			}
			w("%s%s", n.ID, n.Shape)
		}
		w("]\n")
	}
	writeIDs("Inputs", g.Inputs())
	writeIDs("Outputs", g.Outputs())

	w("Nodes:\n")
	for _, n := range g.Nodes() {
		w("\t%s", n)
		if n.Name != "" && n.Name != n.ID {
			w(" (%s)", n.Name)
		}
		if n.Kind == KindOp && n.Shape != nil {
			w(" %s", n.Shape)
		}
		w("\n")
	}
	w("Edges:\n")
	for _, e := range g.Edges() {
		w("\t%s\n", e)
	}
	return buf.String()
}
