package cut

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphcut/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// outputRewriter holds the state of one AddOutputs call.
type outputRewriter struct {
	g *graph.Graph

	// sinks created in this call, keyed by the (node, output port) they consume.
	sinks map[portKey]*graph.Node
	ids   []string
}

// AddOutputs cuts the graph so that the nodes (or ports) in spec become its outputs, and returns the ids of the
// OpOutput sinks it created.
//
// For each descriptor:
//
//   - default: the node is detached from all its consumers and feeds a sink.
//   - out(k): only the consumers of output port k are detached, and the port feeds a sink.
//   - in(k): only the edge feeding input port k of the node is removed, and its producer feeds a sink.
//
// Nodes are never removed: call graph.Cleanup afterwards to drop what is no longer needed. Previous OpOutput
// sinks are removed and the IsOutput flag is cleared, so only the requested outputs remain.
// With a nil spec, every current sink of the graph gets an OpOutput.
//
// As with AddInputs, on error the graph is unchanged. On success the rewrite is committed with
// graph.ReplaceWith: *graph.Node and *graph.Edge pointers fetched from g before the call are stale, fetch them
// again by id.
func AddOutputs(g *graph.Graph, spec OutputSpec) ([]string, error) {
	r := &outputRewriter{
		g:     g.Clone(),
		sinks: make(map[portKey]*graph.Node),
	}
	err := exceptions.TryCatch[error](func() { r.apply(spec) })
	if err != nil {
		return nil, errors.WithMessage(err, "cut.AddOutputs")
	}
	g.ReplaceWith(r.g)
	klog.V(1).Infof("cut.AddOutputs: created sinks %q", r.ids)
	return r.ids, nil
}

func (r *outputRewriter) apply(spec OutputSpec) {
	if spec == nil {
		for _, n := range r.g.Sinks() {
			switch {
			case n.Kind == graph.KindOp && n.Op == graph.OpOutput:
				continue
			case n.Kind == graph.KindOp && r.g.Topology == graph.OpData:
				r.attachSink(r.dataAt(n, 0).ID, 0)
			default:
				r.attachSink(n.ID, 0)
			}
		}
		return
	}

	for _, id := range slices.Sorted(maps.Keys(spec)) {
		if !r.g.HasNode(id) {
			panic(errors.Wrapf(ErrUnknownNodeName, "node %q given as output does not exist in the graph", id))
		}
	}
	for _, n := range r.g.NodesWithOp(graph.OpOutput) {
		if _, found := spec[n.ID]; !found {
			r.g.RemoveNode(n.ID)
		}
	}
	for _, n := range r.g.Outputs() {
		n.IsOutput = false
	}
	for _, id := range slices.Sorted(maps.Keys(spec)) {
		for _, d := range spec[id] {
			r.applyDescriptor(r.g.Node(id), d.Selector)
		}
	}
}

func (r *outputRewriter) applyDescriptor(node *graph.Node, sel Selector) {
	if node.Kind == graph.KindOp && node.Op == graph.OpOutput {
		// Already a sink.
		node.IsOutput = true
		return
	}
	switch sel.Kind {
	case SelectOut:
		if ports := r.outPorts(node); !slices.Contains(ports, sel.Port) {
			panic(errors.Wrapf(ErrOutputPortOutOfRange,
				"output port index %d is out of number of available output ports %v for node %q", sel.Port, ports, node.ID))
		}
	case SelectIn:
		if ports := r.g.InPorts(node.ID); !slices.Contains(ports, sel.Port) {
			panic(errors.Wrapf(ErrInputPortOutOfRange,
				"input port index %d is out of number of available input ports %v for node %q", sel.Port, ports, node.ID))
		}
	}

	if node.Kind == graph.KindData {
		// Data nodes have one port on each side: any selector designates the tensor itself.
		r.detachAll(node.ID)
		r.attachSink(node.ID, 0)
		return
	}

	switch sel.Kind {
	case SelectDefault:
		ports := r.g.OutPorts(node.ID)
		port := 0
		if len(ports) > 0 {
			port = ports[0]
		}
		if r.g.Topology == graph.OpData {
			for _, p := range ports {
				for _, data := range r.g.OutNodes(node.ID, p) {
					r.detachAll(data.ID)
				}
			}
			r.attachSink(r.dataAt(node, port).ID, 0)
		} else {
			r.detachAll(node.ID)
			r.attachSink(node.ID, port)
		}

	case SelectOut:
		if r.g.Topology == graph.OpData {
			data := r.dataAt(node, sel.Port)
			r.detachAll(data.ID)
			r.attachSink(data.ID, 0)
		} else {
			for _, e := range r.g.OutEdgesAt(node.ID, sel.Port) {
				if r.g.Node(e.Dst).Op != graph.OpOutput {
					r.g.RemoveEdge(e)
				}
			}
			r.attachSink(node.ID, sel.Port)
		}

	case SelectIn:
		e := r.g.InEdgesAt(node.ID, sel.Port)[0]
		r.g.RemoveEdge(e)
		r.attachSink(e.Src, e.Out)
	}
}

// outPorts returns the output ports of node a selector may refer to.
func (r *outputRewriter) outPorts(node *graph.Node) []int {
	if node.Kind == graph.KindData {
		return []int{0}
	}
	return r.g.OutPorts(node.ID)
}

// dataAt returns the data node of an output port of op node, creating it if the port isn't used.
func (r *outputRewriter) dataAt(node *graph.Node, port int) *graph.Node {
	if nodes := r.g.OutNodes(node.ID, port); len(nodes) > 0 {
		return nodes[0]
	}
	data := graph.NewData(r.g.UniqueID(fmt.Sprintf("%s/out_port_%d", node.ID, port)), nil)
	data.DType = node.DType
	addNode(r.g, data)
	addEdge(r.g, node.ID, data.ID, port, 0)
	return data
}

// detachAll removes every edge leaving the node, except those feeding sinks.
func (r *outputRewriter) detachAll(id string) {
	for _, e := range r.g.OutEdges(id) {
		if r.g.Node(e.Dst).Op == graph.OpOutput {
			continue
		}
		r.g.RemoveEdge(e)
	}
}

// attachSink feeds a new OpOutput sink from the given port of the node. Requests for the same (node, port) share
// one sink.
func (r *outputRewriter) attachSink(id string, port int) {
	key := portKey{node: id, kind: SelectOut, port: port}
	if _, found := r.sinks[key]; found {
		return
	}
	sinkID := r.g.UniqueID(fmt.Sprintf("%s/sink_port_%d", id, port))
	sink := graph.NewOp(sinkID, graph.OpOutput)
	sink.IsOutput = true
	addNode(r.g, sink)
	addEdge(r.g, id, sinkID, port, 0)
	r.sinks[key] = sink
	r.ids = append(r.ids, sinkID)
	klog.V(2).Infof("cut.AddOutputs: port %d of %q feeds sink %q", port, id, sinkID)
}
