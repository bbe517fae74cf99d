package lora

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/samcharles93/loraspect/internal/safetensors"
	"github.com/samcharles93/loraspect/internal/tensor"
)

// Store gives access to the tensors of one file. Implementations differ in
// when tensor bytes are decoded; callers cannot tell them apart.
type Store interface {
	// Keys returns every tensor key in sorted order.
	Keys() []string
	// Metadata is the raw __metadata__ map, nil when absent.
	Metadata() map[string]string
	Info(key string) (safetensors.TensorInfo, bool)
	// Tensor returns a freshly allocated tensor for key.
	Tensor(key string) (*tensor.Tensor, error)
	// Scalar reads a one-element tensor through the widest float path.
	Scalar(key string) (float64, error)
	Close() error
}

// lazyStore decodes tensors from the backing buffer on every access.
type lazyStore struct {
	file *safetensors.File
	keys []string
}

// NewLazyStore parses buf and decodes tensors on demand.
func NewLazyStore(buf []byte) (Store, error) {
	f, err := safetensors.Parse(buf)
	if err != nil {
		return nil, err
	}
	return &lazyStore{file: f, keys: f.Names()}, nil
}

// OpenLazyStore memory maps path and decodes tensors on demand.
func OpenLazyStore(path string) (Store, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	return &lazyStore{file: f, keys: f.Names()}, nil
}

func (s *lazyStore) Keys() []string { return slices.Clone(s.keys) }

func (s *lazyStore) Metadata() map[string]string { return s.file.Metadata }

func (s *lazyStore) Info(key string) (safetensors.TensorInfo, bool) { return s.file.Tensor(key) }

func (s *lazyStore) Tensor(key string) (*tensor.Tensor, error) {
	if _, ok := s.file.Tensor(key); !ok {
		return nil, &KeyNotFoundError{Key: key}
	}
	t, err := tensor.Load(s.file, key)
	if err != nil {
		return nil, backendErr("load "+key, err)
	}
	return t, nil
}

func (s *lazyStore) Scalar(key string) (float64, error) {
	if _, ok := s.file.Tensor(key); !ok {
		return 0, &KeyNotFoundError{Key: key}
	}
	v, err := s.file.ReadScalarF64(key)
	if err != nil {
		return 0, backendErr("load "+key, err)
	}
	return v, nil
}

func (s *lazyStore) Close() error { return s.file.Close() }

// eagerStore decodes every tensor up front. Tensors that fail to decode
// keep their error and report it on access.
type eagerStore struct {
	meta    map[string]string
	infos   map[string]safetensors.TensorInfo
	tensors map[string]*tensor.Tensor
	scalars map[string]float64
	errs    map[string]error
	keys    []string
}

// NewEagerStore parses buf and decodes all tensors immediately. The
// buffer is not retained.
func NewEagerStore(buf []byte) (Store, error) {
	f, err := safetensors.Parse(buf)
	if err != nil {
		return nil, err
	}
	s := &eagerStore{
		meta:    f.Metadata,
		infos:   f.Tensors,
		tensors: make(map[string]*tensor.Tensor, len(f.Tensors)),
		scalars: make(map[string]float64),
		errs:    make(map[string]error),
		keys:    f.Names(),
	}
	for _, key := range s.keys {
		t, err := tensor.Load(f, key)
		if err != nil {
			s.errs[key] = err
			continue
		}
		s.tensors[key] = t
		if t.Len() == 1 {
			if v, err := f.ReadScalarF64(key); err == nil {
				s.scalars[key] = v
			}
		}
	}
	return s, nil
}

func (s *eagerStore) Keys() []string { return slices.Clone(s.keys) }

func (s *eagerStore) Metadata() map[string]string { return s.meta }

func (s *eagerStore) Info(key string) (safetensors.TensorInfo, bool) {
	info, ok := s.infos[key]
	return info, ok
}

func (s *eagerStore) Tensor(key string) (*tensor.Tensor, error) {
	if err, ok := s.errs[key]; ok {
		return nil, backendErr("load "+key, err)
	}
	t, ok := s.tensors[key]
	if !ok {
		return nil, &KeyNotFoundError{Key: key}
	}
	return t.Clone(), nil
}

func (s *eagerStore) Scalar(key string) (float64, error) {
	if v, ok := s.scalars[key]; ok {
		return v, nil
	}
	if _, err := s.Tensor(key); err != nil {
		return 0, err
	}
	return 0, backendErr("load "+key, errors.Wrap(tensor.ErrInvalidShape, "not a scalar"))
}

func (s *eagerStore) Close() error {
	s.tensors = nil
	s.scalars = nil
	return nil
}
