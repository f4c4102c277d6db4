package cut

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/graphcut/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PlaceholderType is the IR type given to the placeholders created by AddInputs.
const PlaceholderType = "Input"

// topologyFor returns the topology the input cut expects.
func topologyFor(beforeInfer bool) graph.Topology {
	if beforeInfer {
		return graph.OpOnly
	}
	return graph.OpData
}

// portKey identifies a cut target within one AddInputs call.
type portKey struct {
	node string
	kind SelectorKind
	port int
}

// inputRewriter holds the state of one AddInputs call.
type inputRewriter struct {
	g           *graph.Graph
	beforeInfer bool

	// roots are the nodes whose dependencies must all be fed by inputs.
	roots []string

	// placeholders created in this call, so identical targets share one new input.
	placeholders map[portKey]*graph.Node

	// requested shapes of existing placeholders.
	requested map[string]graph.Shape

	// deferred is set if some descriptor was left for after shape inference.
	deferred bool

	inputs   []string
	inputSet sets.Set[string]
	applied  map[*Descriptor]string
}

// AddInputs cuts the graph so that the nodes (or ports) in spec become its inputs, and returns the ids of the
// graph inputs after the cut.
//
// beforeInfer must match the graph's topology: true for OpOnly graphs (before shape inference) and false for
// OpData graphs. Before inference, descriptors without a shape on nodes that are not placeholders are left for
// the call after inference, which takes the shape from the inferred data nodes.
//
// Every Placeholder not (re)designated as input loses its IsInput flag. If such a placeholder is still needed
// to compute the outputs, the cut is rejected with ErrConflictingInputSpecification.
//
// AddInputs validates the whole spec before committing: on error the graph is unchanged. Applied descriptors
// are marked as Added, so applying the same spec again doesn't change the graph.
// With a nil spec, every Placeholder is an input.
//
// The rewrite is done on a clone of g and committed with graph.ReplaceWith: *graph.Node and *graph.Edge pointers
// fetched from g before a successful call are stale, fetch them again by id.
func AddInputs(g *graph.Graph, spec InputSpec, beforeInfer bool) ([]string, error) {
	if want := topologyFor(beforeInfer); g.Topology != want {
		return nil, errors.Wrapf(ErrTopologyMismatch, "cut.AddInputs(beforeInfer=%v) requires an %s graph, got %s",
			beforeInfer, want, g.Topology)
	}
	r := &inputRewriter{
		g:            g.Clone(),
		beforeInfer:  beforeInfer,
		placeholders: make(map[portKey]*graph.Node),
		requested:    make(map[string]graph.Shape),
		inputSet:     sets.Make[string](),
		applied:      make(map[*Descriptor]string),
	}
	err := exceptions.TryCatch[error](func() { r.apply(spec) })
	if err != nil {
		return nil, errors.WithMessage(err, "cut.AddInputs")
	}
	g.ReplaceWith(r.g)
	for d, id := range r.applied {
		d.Added = true
		d.InputID = id
	}
	klog.V(1).Infof("cut.AddInputs: graph inputs are %q", r.inputs)
	return r.inputs, nil
}

func (r *inputRewriter) apply(spec InputSpec) {
	r.roots = rootIDs(r.g)
	if spec == nil {
		for _, n := range r.g.NodesWithOp(graph.OpPlaceholder) {
			r.addInput(n.ID)
		}
	} else {
		// Cuts without a shape go last, so they can share the placeholders of cuts with one.
		type pending struct {
			node *graph.Node
			d    *Descriptor
		}
		var shapeless []pending
		for _, id := range slices.Sorted(maps.Keys(spec)) {
			node := r.g.Node(id)
			if node == nil {
				panic(errors.Wrapf(ErrUnknownNodeName, "node %q given as input does not exist in the graph", id))
			}
			for _, d := range spec[id] {
				if d.Added {
					if n := r.g.Node(d.InputID); n != nil && n.Op == graph.OpPlaceholder {
						r.addInput(d.InputID)
					}
					continue
				}
				if r.beforeInfer && d.Shape == nil && node.Op != graph.OpPlaceholder {
					shapeless = append(shapeless, pending{node, d})
					continue
				}
				r.applyDescriptor(node, d)
			}
		}
		for _, p := range shapeless {
			r.applyDescriptor(p.node, p.d)
		}
	}

	// Nothing was cut yet (all shapes deferred to after inference): the graph is left as is.
	if len(r.inputs) == 0 {
		return
	}
	// With deferred cuts, placeholders they will replace are still needed until then.
	needed := r.g.Ancestors(r.roots...)
	for _, n := range r.g.NodesWithOp(graph.OpPlaceholder) {
		keep := r.deferred && n.IsInput && needed.Has(n.ID)
		n.IsInput = keep || r.inputSet.Has(n.ID)
		if keep {
			r.addInput(n.ID)
		}
	}
	if !r.deferred {
		r.checkFrontier()
	}
}

func (r *inputRewriter) applyDescriptor(node *graph.Node, d *Descriptor) {
	sel := d.Selector
	switch sel.Kind {
	case SelectOut:
		if sel.Port == NoPort {
			panic(errors.Wrapf(ErrUnspecifiedOutputPort,
				"output port for input node %q should be specified, it cannot be None", node.ID))
		}
		_, alreadyCut := r.placeholders[portKey{node: node.ID, kind: SelectOut, port: sel.Port}]
		if ports := r.g.OutPorts(node.ID); !alreadyCut && !slices.Contains(ports, sel.Port) {
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
		// A data node has a single port on each side: cutting it means replacing its producer's output port.
		producer, port := r.g.Producer(node.ID)
		if producer == nil {
			panic(errors.Wrapf(ErrConflictingInputSpecification, "data node %q has no producer to replace", node.ID))
		}
		node, sel = producer, OutPort(port)
	}

	if node.Op == graph.OpPlaceholder {
		// The placeholder is already an input: only its shape may change.
		r.reusePlaceholder(node, d.Shape)
		r.record(d, node.ID)
		return
	}
	if r.beforeInfer && d.Shape == nil {
		if key, found := r.cutKey(node, sel); found {
			if ph := r.sharedPlaceholder(key, nil); ph != nil {
				r.record(d, ph.ID)
				return
			}
		}
		r.deferred = true
		klog.Warningf("cut.AddInputs: no shape given for input %q port %s, it will be cut after shape inference",
			node.ID, sel)
		return
	}
	if sel.Kind == SelectOut {
		r.cutOutPort(node, sel.Port, d)
	} else {
		r.cutInPort(node, sel, d)
	}
}

// cutKey returns the key of the port cut by sel, if it can be resolved.
func (r *inputRewriter) cutKey(node *graph.Node, sel Selector) (portKey, bool) {
	switch sel.Kind {
	case SelectOut, SelectIn:
		return portKey{node: node.ID, kind: sel.Kind, port: sel.Port}, true
	default:
		if ports := r.g.InPorts(node.ID); len(ports) == 1 {
			return portKey{node: node.ID, kind: SelectIn, port: ports[0]}, true
		}
	}
	return portKey{}, false
}

// reusePlaceholder sets the shape of an existing placeholder, checking it doesn't conflict with a shape
// requested earlier in the same call.
func (r *inputRewriter) reusePlaceholder(ph *graph.Node, shape graph.Shape) {
	if shape == nil {
		return
	}
	if previous, found := r.requested[ph.ID]; found && !previous.Equal(shape) {
		panic(errors.Wrapf(ErrConflictingInputSpecification,
			"placeholder %q requested with shapes %s and %s", ph.ID, previous, shape))
	}
	r.requested[ph.ID] = shape
	ph.Shape = shape.Clone()
	if r.g.Topology == graph.OpData {
		for _, e := range r.g.OutEdges(ph.ID) {
			r.g.Node(e.Dst).Shape = shape.Clone()
		}
	}
}

// cutInPort severs the edge feeding an input port of node and feeds the port from a new placeholder instead.
func (r *inputRewriter) cutInPort(node *graph.Node, sel Selector, d *Descriptor) {
	port := sel.Port
	if sel.Kind == SelectDefault {
		ports := r.g.InPorts(node.ID)
		switch {
		case len(ports) == 0:
			panic(errors.Wrapf(ErrInputPortOutOfRange, "node %q has no input port to cut", node.ID))
		case len(ports) > 1:
			panic(errors.Wrapf(ErrUnspecifiedOutputPort,
				"node %q has %d inputs, specify the port to cut with the \"port:%s\" or \"%s:port\" notation",
				node.ID, len(ports), node.DisplayName(), node.DisplayName()))
		}
		port = ports[0]
	}

	key := portKey{node: node.ID, kind: SelectIn, port: port}
	if ph := r.sharedPlaceholder(key, d.Shape); ph != nil {
		r.record(d, ph.ID)
		return
	}
	edges := r.g.InEdgesAt(node.ID, port)
	producer := r.g.Node(edges[0].Src)
	shape := d.Shape
	if shape == nil {
		shape = producer.Shape
	}
	if shape == nil {
		panic(errors.Wrapf(ErrUndefinedShape, "shape of %q feeding input port %d of node %q is not defined",
			producer.ID, port, node.ID))
	}
	ph := r.newPlaceholder(key, fmt.Sprintf("%s/placeholder_port_%d", node.ID, port), shape, dtypeOf(producer))
	for _, e := range edges {
		r.g.RemoveEdge(e)
	}
	switch r.g.Topology {
	case graph.OpOnly:
		addEdge(r.g, ph.ID, node.ID, 0, port)
	case graph.OpData:
		data := r.newData(ph, shape)
		addEdge(r.g, data.ID, node.ID, 0, port)
	}
	klog.V(1).Infof("cut.AddInputs: input port %d of %q is now fed by %q", port, node.ID, ph.ID)
	r.record(d, ph.ID)
}

// cutOutPort moves every consumer of an output port of node to a new placeholder.
func (r *inputRewriter) cutOutPort(node *graph.Node, port int, d *Descriptor) {
	key := portKey{node: node.ID, kind: SelectOut, port: port}
	if ph := r.sharedPlaceholder(key, d.Shape); ph != nil {
		r.record(d, ph.ID)
		return
	}
	edges := r.g.OutEdgesAt(node.ID, port)
	shape := d.Shape
	var data *graph.Node
	if r.g.Topology == graph.OpData {
		data = r.g.Node(edges[0].Dst)
		if shape == nil {
			shape = data.Shape
		}
	}
	if shape == nil {
		panic(errors.Wrapf(ErrUndefinedShape, "shape of output port %d of node %q is not defined", port, node.ID))
	}
	dtype := dtypeOf(node)
	if data != nil {
		dtype = dtypeOf(data)
	}
	ph := r.newPlaceholder(key, fmt.Sprintf("%s/placeholder_out_port_%d", node.ID, port), shape, dtype)
	switch r.g.Topology {
	case graph.OpOnly:
		for _, e := range edges {
			r.g.RemoveEdge(e)
			addEdge(r.g, ph.ID, e.Dst, 0, e.In)
		}
	case graph.OpData:
		// The data node keeps all its consumers, only its producer changes.
		r.g.RemoveEdge(edges[0])
		addEdge(r.g, ph.ID, data.ID, 0, 0)
		data.Shape = shape.Clone()
		data.Value = nil
	}
	klog.V(1).Infof("cut.AddInputs: output port %d of %q replaced by %q", port, node.ID, ph.ID)
	r.record(d, ph.ID)
}

// sharedPlaceholder returns the placeholder already created for key in this call, or nil.
// A nil shape matches any placeholder shape.
func (r *inputRewriter) sharedPlaceholder(key portKey, shape graph.Shape) *graph.Node {
	ph, found := r.placeholders[key]
	if !found {
		return nil
	}
	if shape != nil && !ph.Shape.Equal(shape) {
		panic(errors.Wrapf(ErrConflictingInputSpecification,
			"port %d of node %q requested as input with shapes %s and %s", key.port, key.node, ph.Shape, shape))
	}
	return ph
}

func (r *inputRewriter) newPlaceholder(key portKey, id string, shape graph.Shape, dtype dtypes.DType) *graph.Node {
	id = r.g.UniqueID(id)
	ph := &graph.Node{
		ID:    id,
		Name:  id,
		Kind:  graph.KindOp,
		Op:    graph.OpPlaceholder,
		Type:  PlaceholderType,
		Shape: shape.Clone(),
		DType: dtype,
	}
	addNode(r.g, ph)
	r.placeholders[key] = ph
	return ph
}

// newData creates the data node fed by the placeholder ph, for OpData graphs.
func (r *inputRewriter) newData(ph *graph.Node, shape graph.Shape) *graph.Node {
	data := graph.NewData(r.g.UniqueID(ph.ID+"/data"), shape.Clone())
	data.DType = ph.DType
	addNode(r.g, data)
	addEdge(r.g, ph.ID, data.ID, 0, 0)
	return data
}

func (r *inputRewriter) record(d *Descriptor, inputID string) {
	r.applied[d] = inputID
	r.addInput(inputID)
}

func (r *inputRewriter) addInput(id string) {
	if r.inputSet.Has(id) {
		return
	}
	r.inputSet.Insert(id)
	r.inputs = append(r.inputs, id)
}

// checkFrontier verifies that every placeholder needed to compute the outputs is an input.
func (r *inputRewriter) checkFrontier() {
	needed := r.g.Ancestors(r.roots...)
	for _, n := range r.g.NodesWithOp(graph.OpPlaceholder) {
		if needed.Has(n.ID) && !n.IsInput {
			panic(errors.Wrapf(ErrConflictingInputSpecification,
				"node %q is a placeholder which is not in the list of inputs, but it is needed to compute the outputs: "+
					"add it to the inputs or cut the graph below it", n.ID))
		}
	}
}

// rootIDs returns the ids of the graph outputs, or of its sinks (unused placeholders excluded) if no node is
// flagged as output.
func rootIDs(g *graph.Graph) []string {
	var ids []string
	for _, n := range g.Outputs() {
		ids = append(ids, n.ID)
	}
	if len(ids) > 0 {
		return ids
	}
	for _, n := range g.Sinks() {
		if n.Op != graph.OpPlaceholder {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// dtypeOf returns the dtype of the tensor produced by n, defaulting to Float32.
func dtypeOf(n *graph.Node) dtypes.DType {
	if n.DType != dtypes.InvalidDType {
		return n.DType
	}
	if n.Value != nil {
		return n.Value.DType()
	}
	return dtypes.Float32
}

func addNode(g *graph.Graph, n *graph.Node) {
	if err := g.AddNode(n); err != nil {
		panic(err)
	}
}

func addEdge(g *graph.Graph, src, dst string, out, in int) {
	if _, err := g.AddEdge(src, dst, out, in); err != nil {
		panic(err)
	}
}
