package onnx

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/graphcut/cut"
	"github.com/gomlx/graphcut/graph"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// Helpers to encode ONNX messages.

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendPacked(b []byte, num protowire.Number, values ...int64) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}

// valueInfo encodes a tensor ValueInfoProto. Dimensions < 0 are encoded with the dim_param "N".
func valueInfo(name string, elemType int64, dims ...int64) []byte {
	var shape []byte
	for _, d := range dims {
		var dim []byte
		if d < 0 {
			dim = appendString(dim, dimParam, "N")
		} else {
			dim = appendVarint(dim, dimValue, d)
		}
		shape = appendMessage(shape, shapeDim, dim)
	}
	var tensorType []byte
	tensorType = appendVarint(tensorType, tensorTypeElem, elemType)
	tensorType = appendMessage(tensorType, tensorTypeShape, shape)
	var b []byte
	b = appendString(b, valueInfoName, name)
	return appendMessage(b, valueInfoType, appendMessage(nil, typeTensorType, tensorType))
}

func node(name, opType string, inputs, outputs []string, attrs ...[]byte) []byte {
	var b []byte
	for _, in := range inputs {
		b = appendString(b, nodeInput, in)
	}
	for _, out := range outputs {
		b = appendString(b, nodeOutput, out)
	}
	if name != "" {
		b = appendString(b, nodeName, name)
	}
	b = appendString(b, nodeOpType, opType)
	for _, attr := range attrs {
		b = appendMessage(b, nodeAttribute, attr)
	}
	return b
}

// testModel encodes the model:
//
//	x[N,3] -> Mul(x, w) -> y -> Relu -> z -> MaxPool -> p
//
// with outputs p and y, and an unused boolean initializer "flag".
func testModel() []byte {
	var raw []byte
	for _, v := range []float32{1, 2, 3} {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}
	var w []byte
	w = appendPacked(w, tensorDims, 3)
	w = appendVarint(w, tensorDataType, onnxFloat)
	w = appendString(w, tensorName, "w")
	w = appendMessage(w, tensorRawData, raw)

	var flag []byte
	flag = appendVarint(flag, tensorDataType, onnxBool)
	flag = appendPacked(flag, tensorInt32Data, 1)
	flag = appendString(flag, tensorName, "flag")

	var kernel, strides, autoPad, alpha []byte
	kernel = appendString(kernel, attrName, "kernel_shape")
	kernel = appendPacked(kernel, attrInts, 3, 3)
	kernel = appendVarint(kernel, attrType, int64(AttrInts))
	strides = appendString(strides, attrName, "strides")
	// Unpacked and without type.
	strides = appendVarint(strides, attrInts, 2)
	strides = appendVarint(strides, attrInts, 2)
	autoPad = appendString(autoPad, attrName, "auto_pad")
	autoPad = appendString(autoPad, attrS, "NOTSET")
	autoPad = appendVarint(autoPad, attrType, int64(AttrString))
	alpha = appendString(alpha, attrName, "alpha")
	alpha = protowire.AppendTag(alpha, attrF, protowire.Fixed32Type)
	alpha = protowire.AppendFixed32(alpha, math.Float32bits(0.5))

	var g []byte
	g = appendMessage(g, graphNode, node("mul", "Mul", []string{"x", "w"}, []string{"y"}))
	g = appendMessage(g, graphNode, node("", "Relu", []string{"y"}, []string{"z"}, alpha))
	g = appendMessage(g, graphNode, node("pool", "MaxPool", []string{"z"}, []string{"p", ""}, kernel, strides, autoPad))
	g = appendString(g, graphName, "test")
	g = appendMessage(g, graphInitializer, w)
	g = appendMessage(g, graphInitializer, flag)
	g = appendMessage(g, graphInput, valueInfo("x", onnxFloat, -1, 3))
	g = appendMessage(g, graphInput, valueInfo("w", onnxFloat, 3))
	g = appendMessage(g, graphOutput, valueInfo("p", onnxFloat))
	g = appendMessage(g, graphOutput, valueInfo("y", onnxFloat))

	var opset []byte
	opset = appendVarint(opset, opsetVersion, 17)

	var m []byte
	m = appendVarint(m, modelIrVersion, 8)
	m = appendString(m, modelProducerName, "test")
	m = appendMessage(m, modelOpsetImport, opset)
	m = appendMessage(m, modelGraph, g)
	return m
}

func TestParse(t *testing.T) {
	m := must.M1(Parse(testModel()))
	assert.Equal(t, int64(8), m.Proto.IrVersion)
	assert.Equal(t, []string{"x"}, m.Inputs())
	assert.Equal(t, []string{"p", "y"}, m.Outputs())
	assert.Equal(t, []string{"w", "flag"}, m.Variables())
	require.Len(t, m.Proto.Graph.Node, 3)
	pool := m.Proto.Graph.Node[2]
	assert.Equal(t, []string{"p", ""}, pool.Output)
	require.Len(t, pool.Attribute, 3)
	assert.Equal(t, []int64{3, 3}, pool.Attribute[0].Ints)
	assert.Equal(t, []int64{2, 2}, pool.Attribute[1].Ints)

	x := m.Proto.Graph.Input[0]
	assert.Equal(t, []int{-1, 3}, x.Shape)
	assert.Equal(t, []string{"N", ""}, x.DimParams)

	summary := m.String()
	assert.Contains(t, summary, "v17")
	assert.Contains(t, summary, `["MaxPool" "Mul" "Relu"]`)

	_, err := Parse([]byte{0xFF})
	require.Error(t, err)
	_, err = Parse(appendVarint(nil, modelIrVersion, 8))
	require.Error(t, err, "a model without a graph is invalid")
}

func TestGraph(t *testing.T) {
	m := must.M1(Parse(testModel()))
	g := must.M1(m.Graph())
	assert.Equal(t, graph.OpOnly, g.Topology)

	var ids []string
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"w", "flag", "x", "mul", "Relu_1", "pool", "pool/sink_port_0", "mul/sink_port_0"}, ids)

	x := g.Node("x")
	assert.Equal(t, graph.OpPlaceholder, x.Op)
	assert.True(t, x.IsInput)
	assert.Equal(t, graph.Shape{-1, 3}, x.Shape)
	assert.Equal(t, dtypes.Float32, x.DType)
	assert.Equal(t, "x", TensorName(x))

	w := g.Node("w")
	assert.Equal(t, graph.OpConst, w.Op)
	assert.Equal(t, graph.Shape{3}, w.Shape)
	assert.Equal(t, []float32{1, 2, 3}, tensors.MustCopyFlatData[float32](w.Value))
	assert.Equal(t, []bool{true}, tensors.MustCopyFlatData[bool](g.Node("flag").Value))

	assert.Equal(t, "x", g.InNode("mul", 0).ID)
	assert.Equal(t, "w", g.InNode("mul", 1).ID)
	assert.Equal(t, "mul", g.InNode("Relu_1", 0).ID)
	assert.Equal(t, float32(0.5), g.Node("Relu_1").Attrs["alpha"])

	pool := g.Node("pool")
	assert.Equal(t, []int{0, 1}, pool.SpatialDims)
	assert.Equal(t, "3,3", graph.AttrGetter(pool, "kernel_shape"))
	assert.Equal(t, "NOTSET", graph.AttrGetter(pool, "auto_pad"))
	assert.Equal(t, int64(2), must.M1(graph.SpatialAttrGetter(pool, "strides", 1, nil)))

	outputs := g.Outputs()
	require.Len(t, outputs, 2)
	assert.Equal(t, "p", TensorName(outputs[0]))
	assert.Equal(t, "y", TensorName(outputs[1]))
	assert.Equal(t, graph.OpOutput, outputs[1].Op)
}

func TestGraphErrors(t *testing.T) {
	var g []byte
	g = appendMessage(g, graphNode, node("relu", "Relu", []string{"missing"}, []string{"y"}))
	g = appendMessage(g, graphOutput, valueInfo("y", onnxFloat))
	m := must.M1(Parse(appendMessage(nil, modelGraph, g)))
	_, err := m.Graph()
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing")

	g = appendMessage(nil, graphInput, valueInfo("x", onnxFloat, 1))
	g = appendMessage(g, graphNode, node("relu", "Relu", []string{"x"}, []string{"y"}))
	g = appendMessage(g, graphOutput, valueInfo("z", onnxFloat))
	m = must.M1(Parse(appendMessage(nil, modelGraph, g)))
	_, err = m.Graph()
	require.Error(t, err)
}

// TestCutModel keeps only the pooling of the model.
func TestCutModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, testModel(), 0o644))
	m := must.M1(ReadFile(path))
	g := must.M1(m.Graph())

	// Outputs first: the original output "y" still depends on "x".
	outputs := must.M1(cut.RepackOutputs(g, cut.NameList{"pool"}))
	must.M1(cut.AddOutputs(g, outputs))
	inputs, freeze := must.M2(cut.RepackInputs(g, cut.NameShapes{{Name: "0:pool", Shape: graph.Shape{1, 3}}}, nil))
	assert.Nil(t, freeze)
	newInputs := must.M1(cut.AddInputs(g, inputs, true))
	require.Len(t, newInputs, 1)
	graph.Cleanup(g)

	var ids []string
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"pool", "pool/sink_port_0", newInputs[0]}, ids)
	ph := g.Node(newInputs[0])
	assert.True(t, ph.IsInput)
	assert.Equal(t, graph.Shape{1, 3}, ph.Shape)
}
