package onnx

import (
	"fmt"

	"github.com/gomlx/graphcut/graph"
	"github.com/gomlx/graphcut/internal/togomlx"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TensorAttr is the node attribute holding the ONNX tensor name of placeholders, constants and output sinks.
const TensorAttr = "tensor"

// spatialOps are the ops whose per-axis attributes (kernel_shape, strides, pads, dilations) index the spatial
// axes directly.
var spatialOps = map[string]bool{
	"Conv": true, "ConvTranspose": true, "ConvInteger": true, "QLinearConv": true,
	"MaxPool": true, "AveragePool": true, "LpPool": true, "MaxUnpool": true,
}

// producer is the op node and output port computing an ONNX tensor.
type producer struct {
	id   string
	port int
}

// Graph builds the op-only graph of the model:
//
//   - an op node per ONNX node, with the node name as id (or "<op_type>_<index>" for unnamed nodes) and the
//     attributes as Attrs;
//   - a Const per initializer, holding its value;
//   - a Placeholder, flagged as input, per model input that is not an initializer. Dimensions without a value are
//     dynamic (-1);
//   - an OpOutput sink, flagged as output, per model output.
//
// Edges connect the op producing a tensor (on the tensor index in the node outputs) to each consumer (on the
// tensor index in the node inputs).
func (m *Model) Graph() (*graph.Graph, error) {
	var reader *ExternalDataReader
	if m.baseDir != "" {
		reader = NewExternalDataReader(m.baseDir)
		defer func() { _ = reader.Close() }()
	}
	b := &graphBuilder{
		m:         m,
		g:         graph.New(graph.OpOnly),
		reader:    reader,
		producers: make(map[string]producer),
	}
	if err := b.build(); err != nil {
		return nil, errors.WithMessage(err, "onnx.Model.Graph")
	}
	if err := b.g.Validate(); err != nil {
		return nil, errors.WithMessage(err, "onnx.Model.Graph")
	}
	klog.V(1).Infof("onnx.Model.Graph: built %d nodes, inputs %q, outputs %q", b.g.NumNodes(), m.Inputs(), m.Outputs())
	return b.g, nil
}

type graphBuilder struct {
	m         *Model
	g         *graph.Graph
	reader    *ExternalDataReader
	producers map[string]producer
}

func (b *graphBuilder) build() error {
	proto := b.m.Proto.Graph
	for _, t := range proto.Initializer {
		if err := b.addInitializer(t); err != nil {
			return err
		}
	}
	for _, input := range proto.Input {
		if _, found := b.producers[input.Name]; found {
			// Initializers may also be listed as inputs.
			continue
		}
		if err := b.addPlaceholder(input); err != nil {
			return err
		}
	}
	nodeIDs := make([]string, len(proto.Node))
	for ii, node := range proto.Node {
		id, err := b.addOp(ii, node)
		if err != nil {
			return err
		}
		nodeIDs[ii] = id
	}
	for ii, node := range proto.Node {
		for in, name := range node.Input {
			if name == "" {
				// Omitted optional input.
				continue
			}
			if err := b.connect(name, nodeIDs[ii], in); err != nil {
				return errors.WithMessagef(err, "input #%d of node %q", in, nodeIDs[ii])
			}
		}
	}
	for _, output := range proto.Output {
		if err := b.addOutput(output); err != nil {
			return err
		}
	}
	return nil
}

func (b *graphBuilder) addInitializer(t *TensorProto) error {
	n := graph.NewOp(b.g.UniqueID(t.Name), graph.OpConst)
	n.Attrs = map[string]any{TensorAttr: t.Name}
	shape, err := Shape(t)
	if err != nil {
		klog.Warningf("onnx: initializer %q kept without shape: %v", t.Name, err)
		return b.add(n, t.Name)
	}
	n.Shape = graph.Shape(shape.Dimensions)
	n.DType = shape.DType
	n.Value, err = tensorToGoMLX(t, b.reader)
	if err != nil {
		// The graph can still be cut without the value.
		klog.Warningf("onnx: value of initializer %q not loaded: %v", t.Name, err)
	}
	return b.add(n, t.Name)
}

func (b *graphBuilder) addPlaceholder(input *ValueInfoProto) error {
	n := graph.NewOp(b.g.UniqueID(input.Name), graph.OpPlaceholder)
	n.IsInput = true
	n.Attrs = map[string]any{TensorAttr: input.Name}
	if input.Shape != nil {
		n.Shape = graph.Shape(input.Shape).Clone()
	}
	if input.ElemType != 0 {
		dtype, err := togomlx.DTypeForONNX(input.ElemType)
		if err != nil {
			return errors.WithMessagef(err, "model input %q", input.Name)
		}
		n.DType = dtype
	}
	return b.add(n, input.Name)
}

func (b *graphBuilder) add(n *graph.Node, tensorName string) error {
	if err := b.g.AddNode(n); err != nil {
		return err
	}
	b.producers[tensorName] = producer{id: n.ID}
	return nil
}

func (b *graphBuilder) addOp(index int, node *NodeProto) (string, error) {
	id := node.Name
	if id == "" {
		id = fmt.Sprintf("%s_%d", node.OpType, index)
	}
	n := graph.NewOp(b.g.UniqueID(id), node.OpType)
	if node.Domain != "" && node.Domain != "ai.onnx" {
		n.Type = node.Domain + "." + node.OpType
	}
	if len(node.Attribute) > 0 {
		n.Attrs = make(map[string]any, len(node.Attribute))
	}
	for _, attr := range node.Attribute {
		if attr.Name == "value" && node.OpType == "Constant" && attr.T != nil {
			value, err := tensorToGoMLX(attr.T, b.reader)
			if err != nil {
				return "", errors.WithMessagef(err, "value of Constant node %q", n.ID)
			}
			n.Value = value
			n.DType = value.DType()
			n.Shape = graph.Shape(value.Shape().Dimensions).Clone()
			continue
		}
		value, err := attrValue(attr)
		if err != nil {
			return "", errors.WithMessagef(err, "node %q", n.ID)
		}
		if value == nil {
			klog.V(2).Infof("onnx: skipping attribute %q of node %q", attr.Name, n.ID)
			continue
		}
		n.Attrs[attr.Name] = value
	}
	if spatialOps[node.OpType] {
		n.SpatialDims = spatialDims(n)
	}
	if err := b.g.AddNode(n); err != nil {
		return "", err
	}
	for port, name := range node.Output {
		if name == "" {
			continue
		}
		if other, found := b.producers[name]; found {
			return "", errors.Errorf("tensor %q is produced by both %q and %q", name, other.id, n.ID)
		}
		b.producers[name] = producer{id: n.ID, port: port}
	}
	return n.ID, nil
}

// spatialDims returns the identity mapping for the spatial axes of the node, whose count is given by the
// length of its kernel_shape, strides or dilations attribute. nil if none is given.
func spatialDims(n *graph.Node) []int {
	for _, field := range []string{"kernel_shape", "strides", "dilations"} {
		if ints, ok := n.Attrs[field].([]int64); ok && len(ints) > 0 {
			dims := make([]int, len(ints))
			for ii := range dims {
				dims[ii] = ii
			}
			return dims
		}
	}
	return nil
}

func (b *graphBuilder) connect(tensorName, dst string, in int) error {
	p, found := b.producers[tensorName]
	if !found {
		return errors.Errorf("tensor %q is not produced by any node, initializer or input", tensorName)
	}
	_, err := b.g.AddEdge(p.id, dst, p.port, in)
	return err
}

func (b *graphBuilder) addOutput(output *ValueInfoProto) error {
	p, found := b.producers[output.Name]
	if !found {
		return errors.Errorf("model output %q is not produced by any node, initializer or input", output.Name)
	}
	sink := graph.NewOp(b.g.UniqueID(fmt.Sprintf("%s/sink_port_%d", p.id, p.port)), graph.OpOutput)
	sink.IsOutput = true
	sink.Attrs = map[string]any{TensorAttr: output.Name}
	if err := b.g.AddNode(sink); err != nil {
		return err
	}
	_, err := b.g.AddEdge(p.id, sink.ID, p.port, 0)
	return err
}

// attrValue converts an attribute to a plain Go value: float32, int64, string, their slices, or the values of
// tensors (see togomlx.Values). It returns nil for attributes that have no such representation (sub-graphs).
func attrValue(attr *AttributeProto) (any, error) {
	attrType := attr.Type
	if attrType == AttrUndefined {
		attrType = guessAttrType(attr)
	}
	switch attrType {
	case AttrFloat:
		return attr.F, nil
	case AttrInt:
		return attr.I, nil
	case AttrString:
		return string(attr.S), nil
	case AttrFloats:
		return attr.Floats, nil
	case AttrInts:
		return attr.Ints, nil
	case AttrStrings:
		values := make([]string, len(attr.Strings))
		for ii, s := range attr.Strings {
			values[ii] = string(s)
		}
		return values, nil
	case AttrTensor:
		return tensorAttrValue(attr.T)
	case AttrTensors:
		values := make([]any, len(attr.Tensors))
		for ii, t := range attr.Tensors {
			value, err := tensorAttrValue(t)
			if err != nil {
				return nil, err
			}
			values[ii] = value
		}
		return values, nil
	}
	return nil, nil
}

func tensorAttrValue(t *TensorProto) (any, error) {
	if t == nil {
		return nil, nil
	}
	tensor, err := tensorToGoMLX(t, nil)
	if err != nil {
		return nil, err
	}
	return togomlx.Values(tensor)
}

// guessAttrType infers the type of attributes written before AttributeProto.type was introduced.
func guessAttrType(attr *AttributeProto) AttributeType {
	switch {
	case attr.HasF:
		return AttrFloat
	case attr.HasI:
		return AttrInt
	case attr.S != nil:
		return AttrString
	case attr.T != nil:
		return AttrTensor
	case len(attr.Floats) > 0:
		return AttrFloats
	case len(attr.Ints) > 0:
		return AttrInts
	case len(attr.Strings) > 0:
		return AttrStrings
	case len(attr.Tensors) > 0:
		return AttrTensors
	}
	return AttrUndefined
}

// TensorName returns the ONNX tensor name a Placeholder, Const or OpOutput node was created for, or "" if the
// node didn't come from an ONNX model.
func TensorName(n *graph.Node) string {
	name, _ := n.Attrs[TensorAttr].(string)
	return name
}
