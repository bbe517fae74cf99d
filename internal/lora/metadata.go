package lora

import (
	"maps"
	"slices"
	"strconv"

	"github.com/samcharles93/loraspect/internal/safetensors"
)

const (
	keyNetworkModule = "ss_network_module"
	keyNetworkArgs   = "ss_network_args"
	keyNetworkDim    = "ss_network_dim"
	keyNetworkAlpha  = "ss_network_alpha"
)

// Metadata is the optional string map stored in a file header. A nil
// *Metadata and an empty one both mean "no metadata".
type Metadata struct {
	values map[string]string
}

// NewMetadata copies values. A nil map yields metadata that reports absent.
func NewMetadata(values map[string]string) *Metadata {
	if values == nil {
		return &Metadata{}
	}
	return &Metadata{values: maps.Clone(values)}
}

// ReadMetadata decodes only the metadata section of a safetensors buffer.
func ReadMetadata(buf []byte) (*Metadata, error) {
	values, err := safetensors.ReadMetadata(buf)
	if err != nil {
		return nil, err
	}
	return NewMetadata(values), nil
}

// Present reports whether the file carried a metadata section.
func (m *Metadata) Present() bool { return m != nil && m.values != nil }

func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.values)
}

func (m *Metadata) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the metadata keys in sorted order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.values))
}

// Map returns a copy of the raw values.
func (m *Metadata) Map() map[string]string {
	if m == nil {
		return nil
	}
	return maps.Clone(m.values)
}

// NetworkModule returns the ss_network_module value, if any.
func (m *Metadata) NetworkModule() (NetworkModule, bool) {
	v, ok := m.Get(keyNetworkModule)
	return NetworkModule(v), ok
}

// NetworkArgs parses ss_network_args. It returns nil, nil when the key is
// absent and a *MetadataParseError when the value is malformed.
func (m *Metadata) NetworkArgs() (*NetworkArgs, error) {
	raw, ok := m.Get(keyNetworkArgs)
	if !ok {
		return nil, nil
	}
	args, err := ParseNetworkArgs(raw)
	if err != nil {
		return nil, &MetadataParseError{Field: keyNetworkArgs, Err: err}
	}
	return args, nil
}

// NetworkType classifies the adapter algorithm. ok is false when the
// metadata does not identify one; callers then treat weights as plain LoRA.
func (m *Metadata) NetworkType() (nt NetworkType, ok bool, err error) {
	module, present := m.NetworkModule()
	if !present {
		return 0, false, nil
	}
	args, err := m.NetworkArgs()
	if err != nil {
		return 0, false, err
	}
	return classifyNetwork(module, args)
}

// HasConvDim reports whether a kohya LoRA was trained with conv layers
// (conv_dim set). The network type stays LoRA.
func (m *Metadata) HasConvDim() bool {
	args, err := m.NetworkArgs()
	return err == nil && args != nil && args.ConvDim != nil
}

// WeightDecomposition is the magnitude decomposition applied during training.
type WeightDecomposition uint8

const (
	DecompositionNone WeightDecomposition = iota
	DecompositionDoRA
)

func (w WeightDecomposition) String() string {
	if w == DecompositionDoRA {
		return "DoRA"
	}
	return "none"
}

// WeightDecomposition reads dora_wd. ok is false without network args.
func (m *Metadata) WeightDecomposition() (WeightDecomposition, bool, error) {
	args, err := m.NetworkArgs()
	if err != nil || args == nil {
		return DecompositionNone, false, err
	}
	if args.DoRAWD.Set() {
		return DecompositionDoRA, true, nil
	}
	return DecompositionNone, true, nil
}

// RankStabilized reports rs_lora or rank_stabilized. ok is false without network args.
func (m *Metadata) RankStabilized() (bool, bool, error) {
	args, err := m.NetworkArgs()
	if err != nil || args == nil {
		return false, false, err
	}
	return args.RsLoRA.Set() || args.RankStabilized.Set(), true, nil
}

// NetworkDim returns ss_network_dim when it parses as an integer.
func (m *Metadata) NetworkDim() (int, bool) {
	v, ok := m.Get(keyNetworkDim)
	if !ok {
		return 0, false
	}
	d, err := strconv.Atoi(v)
	return d, err == nil
}

// NetworkAlpha returns ss_network_alpha when it parses as a number.
func (m *Metadata) NetworkAlpha() (Alpha, bool) {
	v, ok := m.Get(keyNetworkAlpha)
	if !ok {
		return 0, false
	}
	a, err := strconv.ParseFloat(v, 32)
	return Alpha(a), err == nil
}

// Change is an entry whose value differs between two metadata maps.
type Change struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Diff describes how metadata b differs from a.
type Diff struct {
	Added   map[string]string `json:"added"`
	Removed map[string]string `json:"removed"`
	Changed map[string]Change `json:"changed"`
}

// Empty reports whether the diff has no entries.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// CompareMetadata diffs two metadata maps. When a has metadata and b has
// none, every entry of a is removed. When a has none, the diff is empty.
func CompareMetadata(a, b *Metadata) Diff {
	d := Diff{
		Added:   map[string]string{},
		Removed: map[string]string{},
		Changed: map[string]Change{},
	}
	if !a.Present() {
		return d
	}
	if !b.Present() {
		maps.Copy(d.Removed, a.values)
		return d
	}
	for k, v := range a.values {
		v2, ok := b.values[k]
		switch {
		case !ok:
			d.Removed[k] = v
		case v != v2:
			d.Changed[k] = Change{Old: v, New: v2}
		}
	}
	for k, v := range b.values {
		if _, ok := a.values[k]; !ok {
			d.Added[k] = v
		}
	}
	return d
}
