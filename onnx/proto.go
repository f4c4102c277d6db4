package onnx

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// The messages below hold the subset of onnx.proto needed to build a cut graph. Fields not listed are skipped
// while decoding.

// ModelProto is the top level ONNX message.
type ModelProto struct {
	IrVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	OpsetImport     []*OperatorSetIDProto
	MetadataProps   []*StringStringEntryProto
}

// OperatorSetIDProto identifies an operator set.
type OperatorSetIDProto struct {
	Domain  string
	Version int64
}

// StringStringEntryProto is a key/value pair.
type StringStringEntryProto struct {
	Key, Value string
}

// GraphProto holds the nodes, initializers and inputs/outputs of a model.
type GraphProto struct {
	Name        string
	Node        []*NodeProto
	Initializer []*TensorProto
	Input       []*ValueInfoProto
	Output      []*ValueInfoProto
	ValueInfo   []*ValueInfoProto
}

// NodeProto is one operation of the graph.
type NodeProto struct {
	Name      string
	OpType    string
	Domain    string
	Input     []string
	Output    []string
	Attribute []*AttributeProto
}

// AttributeProto values: the one used is given by Type.
type AttributeProto struct {
	Name    string
	Type    AttributeType
	F       float32
	I       int64
	S       []byte
	T       *TensorProto
	Floats  []float32
	Ints    []int64
	Strings [][]byte
	Tensors []*TensorProto
	HasF    bool
	HasI    bool
	HasG    bool
}

// AttributeType enumerates AttributeProto.AttributeType.
type AttributeType int32

const (
	AttrUndefined AttributeType = iota
	AttrFloat
	AttrInt
	AttrString
	AttrTensor
	AttrGraph
	AttrFloats
	AttrInts
	AttrStrings
	AttrTensors
	AttrGraphs
)

// DataLocation enumerates TensorProto.DataLocation.
type DataLocation int32

const (
	LocationDefault DataLocation = iota
	LocationExternal
)

// TensorProto holds a constant tensor, stored either in RawData (little-endian), in one of the typed fields, or
// in an external file.
type TensorProto struct {
	Name         string
	Dims         []int64
	DataType     int32
	FloatData    []float32
	Int32Data    []int32
	Int64Data    []int64
	DoubleData   []float64
	Uint64Data   []uint64
	RawData      []byte
	ExternalData []*StringStringEntryProto
	DataLocation DataLocation
	HasSegment   bool
}

// ValueInfoProto describes a graph input or output.
type ValueInfoProto struct {
	Name string

	// ElemType is the ONNX data type, 0 if unknown.
	ElemType int32

	// Shape is nil if unknown. Dims without a value (or with a dim_param) are -1, and their parameter name is
	// kept in DimParams.
	Shape     []int
	DimParams []string
}

// ONNX field numbers.
const (
	modelIrVersion       = 1
	modelProducerName    = 2
	modelProducerVersion = 3
	modelDomain          = 4
	modelModelVersion    = 5
	modelDocString       = 6
	modelGraph           = 7
	modelOpsetImport     = 8
	modelMetadataProps   = 14

	graphNode        = 1
	graphName        = 2
	graphInitializer = 5
	graphInput       = 11
	graphOutput      = 12
	graphValueInfo   = 13

	nodeInput     = 1
	nodeOutput    = 2
	nodeName      = 3
	nodeOpType    = 4
	nodeAttribute = 5
	nodeDomain    = 7

	attrName    = 1
	attrF       = 2
	attrI       = 3
	attrS       = 4
	attrT       = 5
	attrG       = 6
	attrFloats  = 7
	attrInts    = 8
	attrStrings = 9
	attrTensors = 10
	attrType    = 20

	tensorDims         = 1
	tensorDataType     = 2
	tensorSegment      = 3
	tensorFloatData    = 4
	tensorInt32Data    = 5
	tensorInt64Data    = 7
	tensorName         = 8
	tensorRawData      = 9
	tensorDoubleData   = 10
	tensorUint64Data   = 11
	tensorExternalData = 13
	tensorDataLocation = 14

	valueInfoName = 1
	valueInfoType = 2

	typeTensorType  = 1
	tensorTypeElem  = 1
	tensorTypeShape = 2
	shapeDim        = 1
	dimValue        = 1
	dimParam        = 2

	opsetDomain  = 1
	opsetVersion = 2

	entryKey   = 1
	entryValue = 2
)

// field is one decoded protobuf field. Scalars are in num (Fixed32 and Fixed64 bits included), length delimited
// values in bytes.
type field struct {
	number protowire.Number
	typ    protowire.Type
	num    uint64
	bytes  []byte
}

// forEachField calls fn for each field of the encoded message b.
func forEachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		number, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "invalid tag")
		}
		b = b[n:]
		f := field{number: number, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.num, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.num = uint64(v)
		case protowire.Fixed64Type:
			f.num, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(number, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "invalid value for field %d", number)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) string() string { return string(f.bytes) }

func (f field) int64() int64 { return int64(f.num) }

// varints returns the values of a repeated varint field, packed or not.
func (f field) varints() ([]uint64, error) {
	if f.typ == protowire.VarintType {
		return []uint64{f.num}, nil
	}
	var values []uint64
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "invalid packed field %d", f.number)
		}
		values = append(values, v)
		b = b[n:]
	}
	return values, nil
}

// float32s returns the values of a repeated float field, packed or not.
func (f field) float32s() ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return []float32{math.Float32frombits(uint32(f.num))}, nil
	}
	var values []float32
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "invalid packed field %d", f.number)
		}
		values = append(values, math.Float32frombits(v))
		b = b[n:]
	}
	return values, nil
}

// float64s returns the values of a repeated double field, packed or not.
func (f field) float64s() ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return []float64{math.Float64frombits(f.num)}, nil
	}
	var values []float64
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "invalid packed field %d", f.number)
		}
		values = append(values, math.Float64frombits(v))
		b = b[n:]
	}
	return values, nil
}

func appendInts[T int32 | int64 | uint64](dst []T, f field) ([]T, error) {
	values, err := f.varints()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		dst = append(dst, T(v))
	}
	return dst, nil
}

func decodeModel(b []byte) (*ModelProto, error) {
	m := &ModelProto{}
	err := forEachField(b, func(f field) (err error) {
		switch f.number {
		case modelIrVersion:
			m.IrVersion = f.int64()
		case modelProducerName:
			m.ProducerName = f.string()
		case modelProducerVersion:
			m.ProducerVersion = f.string()
		case modelDomain:
			m.Domain = f.string()
		case modelModelVersion:
			m.ModelVersion = f.int64()
		case modelDocString:
			m.DocString = f.string()
		case modelGraph:
			m.Graph, err = decodeGraph(f.bytes)
		case modelOpsetImport:
			opset := &OperatorSetIDProto{}
			err = forEachField(f.bytes, func(f field) error {
				switch f.number {
				case opsetDomain:
					opset.Domain = f.string()
				case opsetVersion:
					opset.Version = f.int64()
				}
				return nil
			})
			m.OpsetImport = append(m.OpsetImport, opset)
		case modelMetadataProps:
			var entry *StringStringEntryProto
			entry, err = decodeEntry(f.bytes)
			m.MetadataProps = append(m.MetadataProps, entry)
		}
		return err
	})
	return m, err
}

func decodeEntry(b []byte) (*StringStringEntryProto, error) {
	entry := &StringStringEntryProto{}
	err := forEachField(b, func(f field) error {
		switch f.number {
		case entryKey:
			entry.Key = f.string()
		case entryValue:
			entry.Value = f.string()
		}
		return nil
	})
	return entry, err
}

func decodeGraph(b []byte) (*GraphProto, error) {
	g := &GraphProto{}
	err := forEachField(b, func(f field) error {
		switch f.number {
		case graphNode:
			node, err := decodeNode(f.bytes)
			if err != nil {
				return errors.WithMessagef(err, "while decoding node #%d", len(g.Node))
			}
			g.Node = append(g.Node, node)
		case graphName:
			g.Name = f.string()
		case graphInitializer:
			tensor, err := decodeTensor(f.bytes)
			if err != nil {
				return errors.WithMessagef(err, "while decoding initializer #%d", len(g.Initializer))
			}
			g.Initializer = append(g.Initializer, tensor)
		case graphInput, graphOutput, graphValueInfo:
			info, err := decodeValueInfo(f.bytes)
			if err != nil {
				return err
			}
			switch f.number {
			case graphInput:
				g.Input = append(g.Input, info)
			case graphOutput:
				g.Output = append(g.Output, info)
			default:
				g.ValueInfo = append(g.ValueInfo, info)
			}
		}
		return nil
	})
	return g, err
}

func decodeNode(b []byte) (*NodeProto, error) {
	node := &NodeProto{}
	err := forEachField(b, func(f field) error {
		switch f.number {
		case nodeInput:
			node.Input = append(node.Input, f.string())
		case nodeOutput:
			node.Output = append(node.Output, f.string())
		case nodeName:
			node.Name = f.string()
		case nodeOpType:
			node.OpType = f.string()
		case nodeDomain:
			node.Domain = f.string()
		case nodeAttribute:
			attr, err := decodeAttribute(f.bytes)
			if err != nil {
				return err
			}
			node.Attribute = append(node.Attribute, attr)
		}
		return nil
	})
	return node, err
}

func decodeAttribute(b []byte) (*AttributeProto, error) {
	attr := &AttributeProto{}
	err := forEachField(b, func(f field) (err error) {
		switch f.number {
		case attrName:
			attr.Name = f.string()
		case attrType:
			attr.Type = AttributeType(f.num)
		case attrF:
			attr.F, attr.HasF = math.Float32frombits(uint32(f.num)), true
		case attrI:
			attr.I, attr.HasI = f.int64(), true
		case attrS:
			attr.S = f.bytes
		case attrT:
			attr.T, err = decodeTensor(f.bytes)
		case attrG:
			attr.HasG = true
		case attrFloats:
			var values []float32
			values, err = f.float32s()
			attr.Floats = append(attr.Floats, values...)
		case attrInts:
			attr.Ints, err = appendInts(attr.Ints, f)
		case attrStrings:
			attr.Strings = append(attr.Strings, f.bytes)
		case attrTensors:
			var tensor *TensorProto
			tensor, err = decodeTensor(f.bytes)
			attr.Tensors = append(attr.Tensors, tensor)
		}
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while decoding attribute %q", attr.Name)
	}
	return attr, nil
}

func decodeTensor(b []byte) (*TensorProto, error) {
	t := &TensorProto{}
	err := forEachField(b, func(f field) (err error) {
		switch f.number {
		case tensorDims:
			t.Dims, err = appendInts(t.Dims, f)
		case tensorDataType:
			t.DataType = int32(f.num)
		case tensorSegment:
			t.HasSegment = true
		case tensorFloatData:
			var values []float32
			values, err = f.float32s()
			t.FloatData = append(t.FloatData, values...)
		case tensorInt32Data:
			t.Int32Data, err = appendInts(t.Int32Data, f)
		case tensorInt64Data:
			t.Int64Data, err = appendInts(t.Int64Data, f)
		case tensorName:
			t.Name = f.string()
		case tensorRawData:
			t.RawData = f.bytes
		case tensorDoubleData:
			var values []float64
			values, err = f.float64s()
			t.DoubleData = append(t.DoubleData, values...)
		case tensorUint64Data:
			t.Uint64Data, err = appendInts(t.Uint64Data, f)
		case tensorExternalData:
			var entry *StringStringEntryProto
			entry, err = decodeEntry(f.bytes)
			t.ExternalData = append(t.ExternalData, entry)
		case tensorDataLocation:
			t.DataLocation = DataLocation(f.num)
		}
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while decoding tensor %q", t.Name)
	}
	return t, nil
}

func decodeValueInfo(b []byte) (*ValueInfoProto, error) {
	info := &ValueInfoProto{}
	err := forEachField(b, func(f field) error {
		switch f.number {
		case valueInfoName:
			info.Name = f.string()
		case valueInfoType:
			return forEachField(f.bytes, func(f field) error {
				if f.number != typeTensorType {
					return nil
				}
				return info.decodeTensorType(f.bytes)
			})
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while decoding value info %q", info.Name)
	}
	return info, nil
}

func (info *ValueInfoProto) decodeTensorType(b []byte) error {
	return forEachField(b, func(f field) error {
		switch f.number {
		case tensorTypeElem:
			info.ElemType = int32(f.num)
		case tensorTypeShape:
			info.Shape = []int{}
			info.DimParams = []string{}
			return forEachField(f.bytes, func(f field) error {
				if f.number != shapeDim {
					return nil
				}
				dim, param := -1, ""
				err := forEachField(f.bytes, func(f field) error {
					switch f.number {
					case dimValue:
						dim = int(f.int64())
					case dimParam:
						param = f.string()
					}
					return nil
				})
				info.Shape = append(info.Shape, dim)
				info.DimParams = append(info.DimParams, param)
				return err
			})
		}
		return nil
	})
}
