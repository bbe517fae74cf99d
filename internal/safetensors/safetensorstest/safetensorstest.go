// Package safetensorstest builds in-memory safetensors buffers for tests.
package safetensorstest

import (
	"encoding/binary"
	"math"
	"slices"
	"testing"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	json "github.com/goccy/go-json"
	"github.com/x448/float16"
)

// Tensor describes one tensor to encode. DType defaults to F32.
type Tensor struct {
	DType string
	Shape []int
	Data  []float32
}

// F32 is shorthand for an F32 tensor.
func F32(shape []int, data ...float32) Tensor {
	return Tensor{DType: "F32", Shape: shape, Data: data}
}

// Scalar is shorthand for a zero-rank F32 tensor.
func Scalar(v float32) Tensor {
	return Tensor{DType: "F32", Shape: []int{}, Data: []float32{v}}
}

// Seq returns n values starting at start with the given step.
func Seq(n int, start, step float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)*step
	}
	return out
}

type entry struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Encode returns a complete safetensors buffer. A nil metadata map omits
// the __metadata__ entry.
func Encode(tb testing.TB, tensors map[string]Tensor, metadata map[string]string) []byte {
	tb.Helper()

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]any, len(tensors)+1)
	if metadata != nil {
		header["__metadata__"] = metadata
	}
	var data []byte
	for _, name := range names {
		t := tensors[name]
		dtype := t.DType
		if dtype == "" {
			dtype = "F32"
		}
		n := 1
		for _, d := range t.Shape {
			n *= d
		}
		if n != len(t.Data) {
			tb.Fatalf("tensor %s: shape %v needs %d values, got %d", name, t.Shape, n, len(t.Data))
		}
		start := int64(len(data))
		data = appendValues(tb, data, dtype, t.Data)
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		header[name] = entry{DType: dtype, Shape: shape, DataOffsets: []int64{start, int64(len(data))}}
	}

	return Raw(tb, header, data)
}

// Raw lays out header and data verbatim, without checking that they agree.
func Raw(tb testing.TB, header map[string]any, data []byte) []byte {
	tb.Helper()
	headerBytes, err := json.Marshal(header)
	if err != nil {
		tb.Fatalf("marshal header: %v", err)
	}
	buf := make([]byte, 8, 8+len(headerBytes)+len(data))
	binary.LittleEndian.PutUint64(buf, uint64(len(headerBytes)))
	buf = append(buf, headerBytes...)
	return append(buf, data...)
}

func appendValues(tb testing.TB, data []byte, dtype string, values []float32) []byte {
	tb.Helper()
	switch dtype {
	case "F32":
		for _, v := range values {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
	case "F64":
		for _, v := range values {
			data = binary.LittleEndian.AppendUint64(data, math.Float64bits(float64(v)))
		}
	case "F16":
		for _, v := range values {
			data = binary.LittleEndian.AppendUint16(data, float16.Fromfloat32(v).Bits())
		}
	case "BF16":
		data = append(data, bfloat16.EncodeFloat32(values)...)
	case "I64":
		for _, v := range values {
			data = binary.LittleEndian.AppendUint64(data, uint64(int64(v)))
		}
	default:
		tb.Fatalf("safetensorstest: cannot encode dtype %s", dtype)
	}
	return data
}
