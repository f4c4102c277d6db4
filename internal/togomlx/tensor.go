// Package togomlx contains conversion utilities from the values used while cutting graphs to GoMLX.
package togomlx

import (
	"reflect"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Shape converts a dtype and dimensions to a GoMLX shapes.Shape. GoMLX shapes are static: negative (dynamic)
// dimensions are rejected.
func Shape(dtype dtypes.DType, dims []int) (shapes.Shape, error) {
	for _, d := range dims {
		if d < 0 {
			return shapes.Shape{}, errors.Errorf("can't create a %s shape with dynamic dimensions %v", dtype, dims)
		}
	}
	return shapes.Make(dtype, dims...), nil
}

// numeric are the Go types a frozen value can be converted to, besides bool.
type numeric interface {
	float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// Tensor converts a frozen value to a tensor of the given dtype and dimensions.
//
// The value can be a bool, a Go number, a flat slice of those, or a (possibly nested) []any list as decoded from
// text files. A single value is broadcast to the whole
// shape, otherwise the number of values must match the shape size. Numbers are cast to dtype, and converted to
// bool as "!= 0". If dtype is dtypes.InvalidDType, it is inferred from the value: Bool for booleans, Float32
// otherwise.
func Tensor(value any, dtype dtypes.DType, dims []int) (*tensors.Tensor, error) {
	size := 1
	for _, d := range dims {
		if d < 0 {
			return nil, errors.Errorf("can't create a tensor for value %v with dynamic dimensions %v", value, dims)
		}
		size *= d
	}
	flat, isBool, err := flatten(value)
	if err != nil {
		return nil, err
	}
	switch {
	case len(flat) == size:
	case len(flat) == 1:
		broadcast := make([]float64, size)
		for ii := range broadcast {
			broadcast[ii] = flat[0]
		}
		flat = broadcast
	default:
		return nil, errors.Errorf("value has %d elements, but shape %v has size %d", len(flat), dims, size)
	}

	if dtype == dtypes.InvalidDType {
		dtype = dtypes.Float32
		if isBool {
			dtype = dtypes.Bool
		}
	}
	switch dtype {
	case dtypes.Bool:
		data := make([]bool, len(flat))
		for ii, x := range flat {
			data[ii] = x != 0
		}
		return tensors.FromFlatDataAndDimensions(data, dims...), nil
	case dtypes.Float32:
		return createTensor[float32](flat, dims), nil
	case dtypes.Float64:
		return createTensor[float64](flat, dims), nil
	case dtypes.Int8:
		return createTensor[int8](flat, dims), nil
	case dtypes.Int16:
		return createTensor[int16](flat, dims), nil
	case dtypes.Int32:
		return createTensor[int32](flat, dims), nil
	case dtypes.Int64:
		return createTensor[int64](flat, dims), nil
	case dtypes.Uint8:
		return createTensor[uint8](flat, dims), nil
	case dtypes.Uint16:
		return createTensor[uint16](flat, dims), nil
	case dtypes.Uint32:
		return createTensor[uint32](flat, dims), nil
	case dtypes.Uint64:
		return createTensor[uint64](flat, dims), nil
	default:
		return nil, errors.Errorf("freezing values of dtype %s is not supported", dtype)
	}
}

func createTensor[T numeric](flat []float64, dims []int) *tensors.Tensor {
	data := make([]T, len(flat))
	for ii, x := range flat {
		data[ii] = T(x)
	}
	return tensors.FromFlatDataAndDimensions(data, dims...)
}

// flatten returns the values as float64, and whether they were all booleans.
func flatten(value any) (flat []float64, isBool bool, err error) {
	switch v := value.(type) {
	case bool:
		return []float64{boolToFloat(v)}, true, nil
	case []bool:
		flat = make([]float64, len(v))
		for ii, b := range v {
			flat[ii] = boolToFloat(b)
		}
		return flat, true, nil
	case []any:
		// Lists decoded from text files, possibly nested: they are flattened in row-major order.
		isBool = len(v) > 0
		for _, elem := range v {
			elemFlat, elemIsBool, err := flatten(elem)
			if err != nil {
				return nil, false, err
			}
			isBool = isBool && elemIsBool
			flat = append(flat, elemFlat...)
		}
		return flat, isBool, nil
	case []int:
		return toFloats(v), false, nil
	case []int32:
		return toFloats(v), false, nil
	case []int64:
		return toFloats(v), false, nil
	case []float32:
		return toFloats(v), false, nil
	case []float64:
		return v, false, nil
	}
	if x, isBool, ok := scalar(value); ok {
		return []float64{x}, isBool, nil
	}
	return nil, false, errors.Errorf("unsupported frozen value %v (%T)", value, value)
}

func scalar(value any) (x float64, isBool bool, ok bool) {
	switch v := value.(type) {
	case bool:
		return boolToFloat(v), true, true
	case int:
		return float64(v), false, true
	case int32:
		return float64(v), false, true
	case int64:
		return float64(v), false, true
	case uint8:
		return float64(v), false, true
	case uint32:
		return float64(v), false, true
	case uint64:
		return float64(v), false, true
	case float32:
		return float64(v), false, true
	case float64:
		return v, false, true
	}
	return 0, false, false
}

func toFloats[T int | int32 | int64 | float32](values []T) []float64 {
	flat := make([]float64, len(values))
	for ii, x := range values {
		flat[ii] = float64(x)
	}
	return flat
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Values returns a copy of the values of the tensor as a flat list, []bool for Bool tensors and []float64
// otherwise. Scalars are returned as a single bool or float64.
func Values(t *tensors.Tensor) (any, error) {
	switch t.DType() {
	case dtypes.Complex64, dtypes.Complex128, dtypes.Float16, dtypes.BFloat16:
		return nil, errors.Errorf("can't list the values of a %s tensor", t.DType())
	}
	floats := make([]float64, t.Size())
	bools := make([]bool, t.Size())
	float64Type := reflect.TypeOf(float64(0))
	err := t.ConstFlatData(func(flat any) {
		valueOf := reflect.ValueOf(flat)
		for ii := range valueOf.Len() {
			elemV := valueOf.Index(ii)
			if elemV.Kind() == reflect.Bool {
				bools[ii] = elemV.Bool()
				continue
			}
			floats[ii] = elemV.Convert(float64Type).Float()
		}
	})
	if err != nil {
		return nil, err
	}
	if t.DType() == dtypes.Bool {
		if t.Shape().Rank() == 0 {
			return bools[0], nil
		}
		return bools, nil
	}
	if t.Shape().Rank() == 0 {
		return floats[0], nil
	}
	return floats, nil
}
