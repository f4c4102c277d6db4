package onnx

import (
	"bytes"
	"encoding/binary"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/graphcut/internal/togomlx"
	"github.com/pkg/errors"
)

// Shape converts an ONNX data type and shape to GoMLX shapes.Shape (it includes the dtype).
func Shape(proto *TensorProto) (shape shapes.Shape, err error) {
	if proto == nil {
		err = errors.New("ONNX TensorProto is nil")
		return
	}
	if proto.HasSegment {
		err = errors.Errorf("segmented tensor %q not supported", proto.Name)
		return
	}
	dtype, err := togomlx.DTypeForONNX(proto.DataType)
	if err != nil {
		return
	}
	dims := make([]int, len(proto.Dims))
	for axis, dim := range proto.Dims {
		dims[axis] = int(dim)
	}
	shape, err = togomlx.Shape(dtype, dims)
	if err != nil {
		err = errors.WithMessagef(err, "tensor %q", proto.Name)
	}
	return
}

// checkAndCreateTensor checks the ONNX proto data matches the shape and copies it to a tensor.
func checkAndCreateTensor[T int32 | int64 | uint64 | float32 | float64](proto *TensorProto, onnxData []T, shape shapes.Shape) (*tensors.Tensor, error) {
	if shape.DType != dtypes.FromGenericsType[T]() {
		return nil, errors.Errorf("tensor %q shaped %s provided data as %T!?", proto.Name, shape, onnxData)
	}
	if len(onnxData) != shape.Size() {
		return nil, errors.Errorf("tensor %q shaped %s has size %d , but ONNX model provided a slice with %d values!?",
			proto.Name, shape, shape.Size(), len(onnxData))
	}
	return tensors.FromFlatDataAndDimensions(onnxData, shape.Dimensions...), nil
}

// tensorToGoMLX converts an ONNX TensorProto to a tensor. External data is read with r, which may be nil if
// the tensor has no external data.
func tensorToGoMLX(proto *TensorProto, r *ExternalDataReader) (*tensors.Tensor, error) {
	shape, err := Shape(proto)
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing tensor %q", proto.Name)
	}
	if proto.DataLocation == LocationExternal {
		if r == nil {
			return nil, errors.Errorf("tensor %q stores its data in an external file, but the model was not read "+
				"from a file", proto.Name)
		}
		info, err := parseExternalData(proto)
		if err != nil {
			return nil, err
		}
		raw, err := r.Read(info, rawSize(shape))
		if err != nil {
			return nil, errors.WithMessagef(err, "while reading external data of tensor %q", proto.Name)
		}
		return rawToTensor(proto.Name, raw, shape)
	}

	switch {
	case proto.RawData != nil:
		return rawToTensor(proto.Name, proto.RawData, shape)
	case len(proto.FloatData) > 0:
		return checkAndCreateTensor(proto, proto.FloatData, shape)
	case len(proto.DoubleData) > 0:
		return checkAndCreateTensor(proto, proto.DoubleData, shape)
	case len(proto.Int64Data) > 0:
		return checkAndCreateTensor(proto, proto.Int64Data, shape)
	case len(proto.Uint64Data) > 0:
		if shape.DType == dtypes.Uint32 {
			return convertTensor(proto, proto.Uint64Data, shape)
		}
		return checkAndCreateTensor(proto, proto.Uint64Data, shape)
	case len(proto.Int32Data) > 0:
		// Int32Data also holds the smaller integer types and booleans.
		if shape.DType == dtypes.Int32 {
			return checkAndCreateTensor(proto, proto.Int32Data, shape)
		}
		return convertTensor(proto, proto.Int32Data, shape)
	case shape.Size() == 0:
		return rawToTensor(proto.Name, nil, shape)
	}
	return nil, errors.Errorf("tensor %q shaped %s has no supported format of data in the ONNX model!?", proto.Name, shape)
}

func convertTensor[T int32 | uint64](proto *TensorProto, onnxData []T, shape shapes.Shape) (*tensors.Tensor, error) {
	if len(onnxData) != shape.Size() {
		return nil, errors.Errorf("tensor %q shaped %s has size %d , but ONNX model provided a slice with %d values!?",
			proto.Name, shape, shape.Size(), len(onnxData))
	}
	values := make([]float64, len(onnxData))
	for ii, v := range onnxData {
		values[ii] = float64(v)
	}
	t, err := togomlx.Tensor(values, shape.DType, shape.Dimensions)
	if err != nil {
		return nil, errors.WithMessagef(err, "while converting tensor %q", proto.Name)
	}
	return t, nil
}

// rawSize returns the number of bytes of the little-endian encoding of a tensor shaped shape.
func rawSize(shape shapes.Shape) int {
	if shape.DType == dtypes.Bool {
		return shape.Size()
	}
	return shape.Size() * int(shape.DType.Size())
}

// rawToTensor decodes the little-endian raw data of a tensor.
func rawToTensor(name string, raw []byte, shape shapes.Shape) (*tensors.Tensor, error) {
	switch shape.DType {
	case dtypes.Float32:
		return fromRaw[float32](name, raw, shape)
	case dtypes.Float64:
		return fromRaw[float64](name, raw, shape)
	case dtypes.Int8:
		return fromRaw[int8](name, raw, shape)
	case dtypes.Int16:
		return fromRaw[int16](name, raw, shape)
	case dtypes.Int32:
		return fromRaw[int32](name, raw, shape)
	case dtypes.Int64:
		return fromRaw[int64](name, raw, shape)
	case dtypes.Uint8:
		return fromRaw[uint8](name, raw, shape)
	case dtypes.Uint16:
		return fromRaw[uint16](name, raw, shape)
	case dtypes.Uint32:
		return fromRaw[uint32](name, raw, shape)
	case dtypes.Uint64:
		return fromRaw[uint64](name, raw, shape)
	case dtypes.Bool:
		if len(raw) != shape.Size() {
			return nil, errors.Errorf("tensor %q shaped %s uses %d bytes, but ONNX model provided %d bytes of raw-data!?",
				name, shape, shape.Size(), len(raw))
		}
		data := make([]bool, len(raw))
		for ii, b := range raw {
			data[ii] = b != 0
		}
		return tensors.FromFlatDataAndDimensions(data, shape.Dimensions...), nil
	}
	return nil, errors.Errorf("tensor %q: raw data of dtype %s is not supported", name, shape.DType)
}

func fromRaw[T int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64](
	name string, raw []byte, shape shapes.Shape) (*tensors.Tensor, error) {
	data := make([]T, shape.Size())
	if size := binary.Size(data); size != len(raw) {
		return nil, errors.Errorf("tensor %q shaped %s uses %d bytes, but ONNX model provided %d bytes of raw-data!?",
			name, shape, size, len(raw))
	}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, data); err != nil {
		return nil, errors.Wrapf(err, "tensor %q: failed to decode raw data", name)
	}
	return tensors.FromFlatDataAndDimensions(data, shape.Dimensions...), nil
}
