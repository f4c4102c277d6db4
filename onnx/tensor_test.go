package onnx

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/require"
)

// ONNX data types used in the tests.
const (
	onnxFloat  = 1
	onnxUint8  = 2
	onnxInt32  = 6
	onnxInt64  = 7
	onnxString = 8
	onnxBool   = 9
	onnxDouble = 11
)

func TestShape(t *testing.T) {
	t.Run("NilProto", func(t *testing.T) {
		_, err := Shape(nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "nil")
	})

	t.Run("Float32Scalar", func(t *testing.T) {
		shape, err := Shape(&TensorProto{DataType: onnxFloat})
		require.NoError(t, err)
		require.Equal(t, dtypes.Float32, shape.DType)
		require.Equal(t, 0, shape.Rank())
	})

	t.Run("Int64_4D", func(t *testing.T) {
		shape, err := Shape(&TensorProto{Dims: []int64{2, 3, 4, 5}, DataType: onnxInt64})
		require.NoError(t, err)
		require.Equal(t, dtypes.Int64, shape.DType)
		require.Equal(t, []int{2, 3, 4, 5}, shape.Dimensions)
	})

	t.Run("SegmentedTensorNotSupported", func(t *testing.T) {
		_, err := Shape(&TensorProto{Name: "x", Dims: []int64{10}, DataType: onnxFloat, HasSegment: true})
		require.Error(t, err)
		require.Contains(t, err.Error(), "segmented tensor")
	})

	t.Run("NegativeDimension", func(t *testing.T) {
		_, err := Shape(&TensorProto{Name: "w", Dims: []int64{-1, 3}, DataType: onnxFloat})
		require.Error(t, err)
		require.Contains(t, err.Error(), `"w"`)
	})

	t.Run("StringNotSupported", func(t *testing.T) {
		_, err := Shape(&TensorProto{Dims: []int64{1}, DataType: onnxString})
		require.Error(t, err)
	})
}

func TestTensorToGoMLX(t *testing.T) {
	t.Run("FloatData_Float32", func(t *testing.T) {
		tensor, err := tensorToGoMLX(&TensorProto{
			Dims:      []int64{2, 2},
			DataType:  onnxFloat,
			FloatData: []float32{1.0, 2.0, 3.0, 4.0},
		}, nil)
		require.NoError(t, err)
		require.Equal(t, dtypes.Float32, tensor.Shape().DType)
		require.Equal(t, []int{2, 2}, tensor.Shape().Dimensions)
		require.Equal(t, []float32{1.0, 2.0, 3.0, 4.0}, tensors.MustCopyFlatData[float32](tensor))
	})

	t.Run("Int64Data_Int64", func(t *testing.T) {
		tensor, err := tensorToGoMLX(&TensorProto{Dims: []int64{2}, DataType: onnxInt64, Int64Data: []int64{100, 200}}, nil)
		require.NoError(t, err)
		require.Equal(t, []int64{100, 200}, tensors.MustCopyFlatData[int64](tensor))
	})

	t.Run("Int32Data_Bool", func(t *testing.T) {
		tensor, err := tensorToGoMLX(&TensorProto{Dims: []int64{3}, DataType: onnxBool, Int32Data: []int32{1, 0, 1}}, nil)
		require.NoError(t, err)
		require.Equal(t, []bool{true, false, true}, tensors.MustCopyFlatData[bool](tensor))
	})

	t.Run("Int32Data_Uint8", func(t *testing.T) {
		tensor, err := tensorToGoMLX(&TensorProto{Dims: []int64{2}, DataType: onnxUint8, Int32Data: []int32{7, 255}}, nil)
		require.NoError(t, err)
		require.Equal(t, []uint8{7, 255}, tensors.MustCopyFlatData[uint8](tensor))
	})

	t.Run("RawData_Float64", func(t *testing.T) {
		raw := binary.LittleEndian.AppendUint64(nil, math.Float64bits(0.5))
		raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(-2))
		tensor, err := tensorToGoMLX(&TensorProto{Dims: []int64{2}, DataType: onnxDouble, RawData: raw}, nil)
		require.NoError(t, err)
		require.Equal(t, []float64{0.5, -2}, tensors.MustCopyFlatData[float64](tensor))
	})

	t.Run("RawData_Bool", func(t *testing.T) {
		tensor, err := tensorToGoMLX(&TensorProto{Dims: []int64{2}, DataType: onnxBool, RawData: []byte{0, 1}}, nil)
		require.NoError(t, err)
		require.Equal(t, []bool{false, true}, tensors.MustCopyFlatData[bool](tensor))
	})

	t.Run("RawData_WrongSize", func(t *testing.T) {
		_, err := tensorToGoMLX(&TensorProto{Name: "w", Dims: []int64{2}, DataType: onnxInt32, RawData: []byte{1, 2, 3}}, nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "raw-data")
	})

	t.Run("MismatchedDataType", func(t *testing.T) {
		_, err := tensorToGoMLX(&TensorProto{Dims: []int64{1}, DataType: onnxInt64, FloatData: []float32{1}}, nil)
		require.Error(t, err)
	})

	t.Run("WrongSize", func(t *testing.T) {
		_, err := tensorToGoMLX(&TensorProto{Dims: []int64{3}, DataType: onnxFloat, FloatData: []float32{1, 2}}, nil)
		require.Error(t, err)
	})

	t.Run("NoData", func(t *testing.T) {
		_, err := tensorToGoMLX(&TensorProto{Dims: []int64{3}, DataType: onnxFloat}, nil)
		require.Error(t, err)
	})

	t.Run("ExternalWithoutFile", func(t *testing.T) {
		_, err := tensorToGoMLX(&TensorProto{
			Dims:         []int64{1},
			DataType:     onnxFloat,
			DataLocation: LocationExternal,
			ExternalData: []*StringStringEntryProto{{Key: "location", Value: "weights.bin"}},
		}, nil)
		require.Error(t, err)
	})
}

func TestExternalData(t *testing.T) {
	dir := t.TempDir()
	var raw []byte
	raw = append(raw, 0xFF, 0xFF, 0xFF, 0xFF) // Padding skipped by the offset.
	for _, v := range []int32{3, -4, 5} {
		raw = binary.LittleEndian.AppendUint32(raw, uint32(v))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights.bin"), raw, 0o644))

	reader := NewExternalDataReader(dir)
	defer func() { require.NoError(t, reader.Close()) }()
	proto := &TensorProto{
		Name:         "w",
		Dims:         []int64{3},
		DataType:     onnxInt32,
		DataLocation: LocationExternal,
		ExternalData: []*StringStringEntryProto{
			{Key: "location", Value: "weights.bin"},
			{Key: "offset", Value: "4"},
			{Key: "length", Value: "12"},
		},
	}
	tensor, err := tensorToGoMLX(proto, reader)
	require.NoError(t, err)
	require.Equal(t, []int32{3, -4, 5}, tensors.MustCopyFlatData[int32](tensor))

	// Reading past the end of the file.
	proto.ExternalData[1].Value = "8"
	_, err = tensorToGoMLX(proto, reader)
	require.Error(t, err)

	proto.ExternalData[1].Value = "four"
	_, err = tensorToGoMLX(proto, reader)
	require.Error(t, err)
}
