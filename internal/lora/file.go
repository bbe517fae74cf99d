package lora

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/loraspect/internal/logger"
	"github.com/samcharles93/loraspect/internal/stats"
	"github.com/samcharles93/loraspect/internal/tensor"
)

type options struct {
	eager     bool
	cacheSize int
	log       logger.Logger
}

// Option configures a File.
type Option func(*options)

// WithEager decodes every tensor when the file is loaded instead of on
// first use.
func WithEager(eager bool) Option { return func(o *options) { o.eager = eager } }

// WithCacheSize bounds the reconstruction cache. Zero disables it.
func WithCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

func WithLogger(l logger.Logger) Option { return func(o *options) { o.log = l } }

func buildOptions(opts []Option) options {
	o := options{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Default()
	}
	return o
}

// File is one loaded adapter file: its metadata, its tensors and a small
// cache of reconstructed weights. A File whose tensors could not be parsed
// still reports its name and metadata; tensor operations return
// ErrWeightsNotLoaded.
type File struct {
	filename string
	metadata *Metadata
	weights  *Weights
	loadErr  error
	cache    *weightCache
	log      logger.Logger
}

// NewFile loads a file from an in-memory buffer. It never fails: parse
// errors leave the file unloaded and are available from LoadErr.
func NewFile(buf []byte, filename string, opts ...Option) *File {
	o := buildOptions(opts)
	f := &File{
		filename: filename,
		cache:    newWeightCache(o.cacheSize),
		log:      o.log.With("file", filename),
	}

	md, err := ReadMetadata(buf)
	if err != nil {
		f.log.Debug("metadata unavailable", "error", err)
		md = NewMetadata(nil)
	}
	f.metadata = md

	newStore := NewLazyStore
	if o.eager {
		newStore = NewEagerStore
	}
	store, err := newStore(buf)
	if err != nil {
		f.loadErr = err
		f.log.Warn("tensors unavailable", "error", err)
		return f
	}
	f.attach(store, o.eager)
	return f
}

// OpenFile loads a file from disk. Lazy files are memory mapped; eager
// files are read and decoded up front. Only I/O errors are returned.
func OpenFile(path string, opts ...Option) (*File, error) {
	o := buildOptions(opts)
	if o.eager {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return NewFile(buf, filepath.Base(path), opts...), nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	f := &File{
		filename: name,
		metadata: NewMetadata(nil),
		cache:    newWeightCache(o.cacheSize),
		log:      o.log.With("file", name),
	}
	store, err := OpenLazyStore(path)
	if err != nil {
		f.loadErr = err
		f.log.Warn("tensors unavailable", "error", err)
		return f, nil
	}
	f.metadata = NewMetadata(store.Metadata())
	f.attach(store, false)
	return f, nil
}

func (f *File) attach(store Store, eager bool) {
	f.weights = NewWeights(store)
	f.log.Debug("file loaded",
		"tensors", len(f.weights.keys),
		"format", f.weights.Format(),
		"eager", eager,
	)
}

func (f *File) IsLoaded() bool { return f.weights != nil }

// LoadErr is the reason the tensors could not be loaded, if any.
func (f *File) LoadErr() error { return f.loadErr }

func (f *File) Filename() string { return f.filename }

// Metadata is never nil; check Present for an actual metadata section.
func (f *File) Metadata() *Metadata { return f.metadata }

func (f *File) loaded() (*Weights, error) {
	if f.weights == nil {
		return nil, ErrWeightsNotLoaded
	}
	return f.weights, nil
}

// Keys returns all tensor keys, or nil when unloaded.
func (f *File) Keys() []string {
	if f.weights == nil {
		return nil
	}
	return f.weights.Keys()
}

func (f *File) keysContaining(substr string) []string {
	if f.weights == nil {
		return nil
	}
	return f.weights.KeysContaining(substr)
}

func (f *File) WeightKeys() []string {
	if f.weights == nil {
		return nil
	}
	return f.weights.WeightKeys()
}

// UnetKeys returns the keys of the diffusion model adapters.
func (f *File) UnetKeys() []string { return f.keysContaining("lora_unet") }

// TextEncoderKeys returns the keys of the text encoder adapters.
func (f *File) TextEncoderKeys() []string { return f.keysContaining("lora_te") }

func (f *File) AlphaKeys() []string {
	var out []string
	for _, k := range f.keysContaining("alpha") {
		if strings.HasSuffix(k, ".alpha") {
			out = append(out, k)
		}
	}
	return out
}

func (f *File) BaseNames() []string {
	if f.weights == nil {
		return nil
	}
	return f.weights.BaseNames()
}

// Format reports the naming convention. Kohya-style keys from a lycoris
// trainer are reported as FormatLycoris.
func (f *File) Format() (Format, error) {
	w, err := f.loaded()
	if err != nil {
		return 0, err
	}
	if w.Format() == FormatKohya {
		if m, ok := f.metadata.NetworkModule(); ok && m == ModuleLycoris {
			return FormatLycoris, nil
		}
	}
	return w.Format(), nil
}

// Precision is the dtype of the first non-alpha tensor.
func (f *File) Precision() (tensor.DType, bool, error) {
	w, err := f.loaded()
	if err != nil {
		return 0, false, err
	}
	return w.Precision()
}

// NetworkType classifies the file from its metadata.
func (f *File) NetworkType() (NetworkType, bool, error) {
	return f.metadata.NetworkType()
}

// reconstructionType is the network type used to rebuild weights; files
// without a recognisable type are treated as plain LoRA.
func (f *File) reconstructionType() (NetworkType, error) {
	nt, ok, err := f.metadata.NetworkType()
	if err != nil {
		return 0, err
	}
	if !ok {
		return LoRA, nil
	}
	return nt, nil
}

func (f *File) Rank(base string) (int, error) {
	w, err := f.loaded()
	if err != nil {
		return 0, err
	}
	return w.Rank(base)
}

func (f *File) Alpha(base string) (Alpha, error) {
	w, err := f.loaded()
	if err != nil {
		return 0, err
	}
	return w.Alpha(base)
}

// Alphas collects the distinct alpha values of the file.
func (f *File) Alphas() (*AlphaSet, error) {
	w, err := f.loaded()
	if err != nil {
		return nil, err
	}
	set, skipped := w.Alphas()
	for _, e := range skipped {
		f.log.Debug("skipped alpha", "error", e)
	}
	return set, nil
}

// Dims collects the distinct ranks of the file.
func (f *File) Dims() ([]int, error) {
	w, err := f.loaded()
	if err != nil {
		return nil, err
	}
	return w.Dims(), nil
}

func (f *File) DoRAScales() (*DoRAScaleSet, error) {
	w, err := f.loaded()
	if err != nil {
		return nil, err
	}
	return w.DoRAScales()
}

// Shape returns the stored shape of a tensor key.
func (f *File) Shape(key string) ([]int, error) {
	w, err := f.loaded()
	if err != nil {
		return nil, err
	}
	return w.Shape(key)
}

// ScaleWeight reconstructs the scaled weight delta of base. Results are
// cached; each call returns its own copy.
func (f *File) ScaleWeight(base string) (*tensor.Tensor, error) {
	w, err := f.loaded()
	if err != nil {
		return nil, err
	}
	if t, ok := f.cache.get(base); ok {
		f.log.Debug("reconstruction cache hit", "base", base)
		return t, nil
	}
	nt, err := f.reconstructionType()
	if err != nil {
		return nil, err
	}
	t, err := w.Reconstruct(nt, base)
	if err != nil {
		return nil, err
	}
	if n := f.cache.put(base, t); n > 0 {
		f.log.Debug("reconstruction cache evicted", "entries", n)
	}
	return t, nil
}

// WeightResult is the outcome of reconstructing one base name.
type WeightResult struct {
	Name   string
	Weight *tensor.Tensor
	Err    error
}

// ScaleWeights reconstructs every name, keeping going past failures. With
// no names it reconstructs every base name of the file.
func (f *File) ScaleWeights(names ...string) []WeightResult {
	if len(names) == 0 {
		names = f.BaseNames()
	}
	out := make([]WeightResult, len(names))
	for i, name := range names {
		t, err := f.ScaleWeight(name)
		out[i] = WeightResult{Name: name, Weight: t, Err: err}
	}
	return out
}

func (f *File) reduce(base string, fn func(*tensor.Tensor) float64) (float64, error) {
	t, err := f.ScaleWeight(base)
	if err != nil {
		return 0, err
	}
	return fn(t), nil
}

func (f *File) L1Norm(base string) (float64, error) { return f.reduce(base, stats.L1) }

func (f *File) L2Norm(base string) (float64, error) { return f.reduce(base, stats.L2) }

func (f *File) MatrixNorm(base string) (float64, error) { return f.reduce(base, stats.MatrixNorm) }

// Statistics reconstructs base and summarises it.
func (f *File) Statistics(base string) (stats.WeightStatistics, error) {
	t, err := f.ScaleWeight(base)
	if err != nil {
		return stats.WeightStatistics{}, err
	}
	return stats.Summarize(t), nil
}

// CacheLen is the number of cached reconstructions.
func (f *File) CacheLen() int { return f.cache.len() }

// Unload releases the tensors and empties the cache. Metadata and the
// filename stay available.
func (f *File) Unload() error {
	f.cache.clear()
	if f.weights == nil {
		return nil
	}
	err := f.weights.Close()
	f.weights = nil
	f.log.Debug("file unloaded")
	return err
}
