package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	json "github.com/goccy/go-json"
	"github.com/x448/float16"
	"golang.org/x/sys/unix"
)

const metadataKey = "__metadata__"

var (
	ErrCorruptFile      = errors.New("safetensors: corrupt file")
	ErrTensorNotFound   = errors.New("safetensors: tensor not found")
	ErrUnsupportedDType = errors.New("safetensors: unsupported dtype")
)

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is a parsed safetensors container. Tensor bytes are sliced from the
// backing buffer, which is either caller-owned (Parse) or memory mapped (Open).
type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo
	Metadata  map[string]string

	data    []byte
	mmapped bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps a safetensors file read-only. If mmap is unavailable it falls
// back to reading the whole file. The returned file must be closed.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: %s: size %d", ErrCorruptFile, path, size64)
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		sf, parseErr := Parse(data)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		sf.Path = path
		sf.mmapped = true
		return sf, nil
	}

	data = make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	sf, err := Parse(data)
	if err != nil {
		return nil, err
	}
	sf.Path = path
	return sf, nil
}

// Parse reads the header of an in-memory safetensors buffer. The buffer is
// retained and must not be modified while the File is in use.
func Parse(buf []byte) (*File, error) {
	headerBytes, dataStart, err := header(buf)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorruptFile, err)
	}

	metadata, err := decodeMetadata(raw[metadataKey])
	if err != nil {
		return nil, err
	}
	delete(raw, metadataKey)

	dataLen := int64(len(buf)) - dataStart
	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("tensor %s: invalid data_offsets", name)
		}
		if th.DataOffsets[0] < 0 || th.DataOffsets[1] < th.DataOffsets[0] || th.DataOffsets[1] > dataLen {
			return nil, fmt.Errorf("%w: tensor %s: offsets %v outside data segment of %d bytes",
				ErrCorruptFile, name, th.DataOffsets, dataLen)
		}
		// Unknown dtypes are reported when the tensor is read.
		if size, err := ElementSize(th.DType); err == nil {
			if err := checkByteLen(th.Shape, size, th.DataOffsets[1]-th.DataOffsets[0]); err != nil {
				return nil, fmt.Errorf("%w: tensor %s: %w", ErrCorruptFile, name, err)
			}
		}
		tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}
	return &File{
		DataStart: dataStart,
		Tensors:   tensors,
		Metadata:  metadata,
		data:      buf,
	}, nil
}

// ReadMetadata decodes only the __metadata__ map of a buffer. A header
// without metadata yields a nil map and no error.
func ReadMetadata(buf []byte) (map[string]string, error) {
	headerBytes, _, err := header(buf)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Metadata json.RawMessage `json:"__metadata__"`
	}
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorruptFile, err)
	}
	return decodeMetadata(raw.Metadata)
}

func header(buf []byte) ([]byte, int64, error) {
	if len(buf) < 8 {
		return nil, 0, fmt.Errorf("%w: buffer of %d bytes", ErrCorruptFile, len(buf))
	}
	headerLen := binary.LittleEndian.Uint64(buf[:8])
	if headerLen > uint64(len(buf)-8) {
		return nil, 0, fmt.Errorf("%w: header length %d exceeds buffer", ErrCorruptFile, headerLen)
	}
	return buf[8 : 8+headerLen], int64(8 + headerLen), nil
}

func decodeMetadata(msg json.RawMessage) (map[string]string, error) {
	if len(msg) == 0 || string(msg) == "null" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", ErrCorruptFile, err)
	}
	return m, nil
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// ReadTensor returns the raw little-endian bytes of a tensor. The slice
// aliases the backing buffer and is only valid until Close.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if f.data == nil {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: file closed", name)
	}
	off := f.DataStart + t.Start
	return f.data[off : off+(t.End-t.Start)], t, nil
}

// ReadTensorF32 decodes a tensor into float32 values. Integer tensors are
// converted, F64 values are narrowed.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	size, err := ElementSize(info.DType)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	if err := checkByteLen(info.Shape, size, int64(len(raw))); err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}

	out := make([]float32, len(raw)/size)
	switch info.DType {
	case "F32":
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "F64":
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	case "BF16":
		copy(out, bfloat16.DecodeFloat32(raw))
	case "F16":
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	default:
		for i := range out {
			out[i] = float32(intAt(info.DType, raw, i))
		}
	}
	return out, info, nil
}

// ReadScalarF64 reads a single-element tensor through the widest float path.
func (f *File) ReadScalarF64(name string) (float64, error) {
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return 0, err
	}
	n, err := numElements(info.Shape)
	if err != nil {
		return 0, fmt.Errorf("tensor %s: %w", name, err)
	}
	if n != 1 {
		return 0, fmt.Errorf("tensor %s: expected scalar, got shape %v", name, info.Shape)
	}
	size, err := ElementSize(info.DType)
	if err != nil {
		return 0, fmt.Errorf("tensor %s: %w", name, err)
	}
	if len(raw) != size {
		return 0, fmt.Errorf("tensor %s: invalid scalar size %d", name, len(raw))
	}
	switch info.DType {
	case "F64":
		return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
	case "F32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))), nil
	case "F16":
		return float64(float16.Frombits(binary.LittleEndian.Uint16(raw)).Float32()), nil
	case "BF16":
		return float64(bfloat16.DecodeFloat32(raw)[0]), nil
	default:
		return intAt(info.DType, raw, 0), nil
	}
}

// Close releases the mapping, if any. Tensor slices returned earlier become invalid.
func (f *File) Close() error {
	if f.data == nil {
		return nil
	}
	data := f.data
	f.data = nil
	if f.mmapped {
		return unix.Munmap(data)
	}
	return nil
}

// ElementSize reports the byte width of a safetensors dtype.
func ElementSize(dtype string) (int, error) {
	switch dtype {
	case "F64", "I64", "U64":
		return 8, nil
	case "F32", "I32", "U32":
		return 4, nil
	case "F16", "BF16", "I16", "U16":
		return 2, nil
	case "I8", "U8", "BOOL":
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}
}

func intAt(dtype string, raw []byte, i int) float64 {
	switch dtype {
	case "I64":
		return float64(int64(binary.LittleEndian.Uint64(raw[i*8:])))
	case "U64":
		return float64(binary.LittleEndian.Uint64(raw[i*8:]))
	case "I32":
		return float64(int32(binary.LittleEndian.Uint32(raw[i*4:])))
	case "U32":
		return float64(binary.LittleEndian.Uint32(raw[i*4:]))
	case "I16":
		return float64(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	case "U16":
		return float64(binary.LittleEndian.Uint16(raw[i*2:]))
	case "I8":
		return float64(int8(raw[i]))
	default:
		return float64(raw[i])
	}
}

// checkByteLen verifies that shape holds exactly nbytes of size-byte
// elements without multiplying the two.
func checkByteLen(shape []int, size int, nbytes int64) error {
	n, err := numElements(shape)
	if err != nil {
		return err
	}
	if nbytes%int64(size) != 0 || int64(n) != nbytes/int64(size) {
		return fmt.Errorf("shape %v needs %d elements, data holds %d bytes", shape, n, nbytes)
	}
	return nil
}

// numElements treats an empty shape as a scalar.
func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d > 0 && n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}
