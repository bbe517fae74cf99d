package tensor

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/samcharles93/loraspect/internal/safetensors"
)

// Load decodes a named tensor from a safetensors file.
func Load(f *safetensors.File, name string) (*Tensor, error) {
	info, ok := f.Tensor(name)
	if !ok {
		return nil, errors.Wrap(safetensors.ErrTensorNotFound, name)
	}
	dtype, err := ParseDType(info.DType)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %s", name)
	}
	data, _, err := f.ReadTensorF32(name)
	if err != nil {
		return nil, err
	}
	return &Tensor{shape: slices.Clone(info.Shape), dtype: dtype, data: data}, nil
}
