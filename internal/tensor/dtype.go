package tensor

import (
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is the element encoding a tensor was stored with. Values are always
// held as float32; the dtype decides the precision results are rounded to.
type DType uint8

const (
	F32 DType = iota
	F16
	BF16
	F64
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
)

var ErrUnsupportedDType = errors.New("unsupported dtype")

var dtypeNames = map[DType]string{
	F32: "F32", F16: "F16", BF16: "BF16", F64: "F64",
	I8: "I8", I16: "I16", I32: "I32", I64: "I64",
	U8: "U8", U16: "U16", U32: "U32", U64: "U64",
}

// ParseDType maps a safetensors dtype string to a DType.
func ParseDType(s string) (DType, error) {
	for dt, name := range dtypeNames {
		if name == s {
			return dt, nil
		}
	}
	return 0, errors.Wrapf(ErrUnsupportedDType, "%q", s)
}

func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return "unknown"
}

// Precision is the short label used in reports (fp16, bf16, fp32, ...).
func (d DType) Precision() string {
	switch d {
	case F16:
		return "fp16"
	case BF16:
		return "bf16"
	case F32:
		return "fp32"
	case F64:
		return "fp64"
	default:
		return strings.ToLower(d.String())
	}
}

// IsHalf reports whether the dtype is a 16-bit float.
func (d DType) IsHalf() bool { return d == F16 || d == BF16 }

// IsFloat reports whether the dtype is a floating point encoding.
func (d DType) IsFloat() bool { return d == F32 || d == F64 || d.IsHalf() }

// round maps v onto the nearest value representable in d.
func (d DType) round(v []float32) {
	switch d {
	case F16:
		for i, x := range v {
			v[i] = float16.Fromfloat32(x).Float32()
		}
	case BF16:
		copy(v, bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(v)))
	case F32, F64:
	default:
		for i, x := range v {
			v[i] = float32(int64(x))
		}
	}
}
