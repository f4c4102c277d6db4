package togomlx

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// ONNX TensorProto.DataType values.
const (
	onnxFloat      = 1
	onnxUint8      = 2
	onnxInt8       = 3
	onnxUint16     = 4
	onnxInt16      = 5
	onnxInt32      = 6
	onnxInt64      = 7
	onnxString     = 8
	onnxBool       = 9
	onnxFloat16    = 10
	onnxDouble     = 11
	onnxUint32     = 12
	onnxUint64     = 13
	onnxComplex64  = 14
	onnxComplex128 = 15
	onnxBFloat16   = 16
)

// DTypeForONNX converts an ONNX data type (TensorProto.DataType) to a GoMLX dtype.
func DTypeForONNX(onnxDType int32) (dtypes.DType, error) {
	switch onnxDType {
	case onnxFloat:
		return dtypes.Float32, nil
	case onnxFloat16:
		return dtypes.Float16, nil
	case onnxBFloat16:
		return dtypes.BFloat16, nil
	case onnxDouble:
		return dtypes.Float64, nil
	case onnxInt32:
		return dtypes.Int32, nil
	case onnxInt64:
		return dtypes.Int64, nil
	case onnxUint8:
		return dtypes.Uint8, nil
	case onnxInt8:
		return dtypes.Int8, nil
	case onnxInt16:
		return dtypes.Int16, nil
	case onnxUint16:
		return dtypes.Uint16, nil
	case onnxUint32:
		return dtypes.Uint32, nil
	case onnxUint64:
		return dtypes.Uint64, nil
	case onnxBool:
		return dtypes.Bool, nil
	case onnxComplex64:
		return dtypes.Complex64, nil
	case onnxComplex128:
		return dtypes.Complex128, nil
	case onnxString:
		return dtypes.InvalidDType, errors.New("ONNX string tensors are not supported")
	default:
		return dtypes.InvalidDType, errors.Errorf("unsupported/unknown ONNX data type %d", onnxDType)
	}
}

// knownDTypes are the dtypes ParseDType accepts by name.
var knownDTypes = []dtypes.DType{
	dtypes.Bool,
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
	dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64,
	dtypes.Complex64, dtypes.Complex128,
}

// dtypeAliases are the ONNX and numpy names accepted besides the GoMLX ones.
var dtypeAliases = map[string]dtypes.DType{
	"float":  dtypes.Float32,
	"double": dtypes.Float64,
	"half":   dtypes.Float16,
	"fp16":   dtypes.Float16,
	"fp32":   dtypes.Float32,
	"fp64":   dtypes.Float64,
}

// ParseDType converts a dtype name ("float32", "Int64", "float", "bool", ...) to a GoMLX dtype.
// The empty string is dtypes.InvalidDType.
func ParseDType(name string) (dtypes.DType, error) {
	if name == "" {
		return dtypes.InvalidDType, nil
	}
	lower := strings.ToLower(name)
	if dtype, found := dtypeAliases[lower]; found {
		return dtype, nil
	}
	for _, dtype := range knownDTypes {
		if strings.ToLower(dtype.String()) == lower {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", name)
}
