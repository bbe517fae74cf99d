package lora

import (
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/samcharles93/loraspect/internal/tensor"
)

// Weights resolves and reconstructs the adapter weights held in a Store.
type Weights struct {
	store    Store
	resolver KeyResolver
	keys     []string
}

// NewWeights detects the naming convention from the store keys.
func NewWeights(store Store) *Weights {
	keys := store.Keys()
	return &Weights{
		store:    store,
		resolver: NewKeyResolver(DetectFormat(keys)),
		keys:     keys,
	}
}

func (w *Weights) Format() Format { return w.resolver.Format() }

func (w *Weights) Resolver() KeyResolver { return w.resolver }

// Keys returns all tensor keys in sorted order.
func (w *Weights) Keys() []string { return slices.Clone(w.keys) }

func (w *Weights) has(key string) bool {
	_, ok := w.store.Info(key)
	return ok
}

// KeysContaining returns the keys containing substr.
func (w *Weights) KeysContaining(substr string) []string {
	var out []string
	for _, k := range w.keys {
		if strings.Contains(k, substr) {
			out = append(out, k)
		}
	}
	return out
}

// WeightKeys returns the weight-bearing keys.
func (w *Weights) WeightKeys() []string {
	var out []string
	for _, k := range w.keys {
		if IsWeightKey(k) {
			out = append(out, k)
		}
	}
	return out
}

func (w *Weights) BaseNames() []string { return BaseNames(w.keys) }

// Shape returns the header shape of key without decoding it.
func (w *Weights) Shape(key string) ([]int, error) {
	info, ok := w.store.Info(key)
	if !ok {
		return nil, &KeyNotFoundError{Key: key}
	}
	return slices.Clone(info.Shape), nil
}

// Tensor loads a single tensor by key.
func (w *Weights) Tensor(key string) (*tensor.Tensor, error) {
	return w.store.Tensor(key)
}

// Precision is the dtype of the first tensor that is not an alpha. ok is
// false when the file holds no such tensor.
func (w *Weights) Precision() (tensor.DType, bool, error) {
	for _, k := range w.keys {
		if strings.HasSuffix(k, ".alpha") || k == "alpha" {
			continue
		}
		info, _ := w.store.Info(k)
		dt, err := tensor.ParseDType(info.DType)
		if err != nil {
			return 0, false, err
		}
		return dt, true, nil
	}
	return 0, false, nil
}

// Rank is the leading dimension of the down projection of base.
func (w *Weights) Rank(base string) (int, error) {
	shape, err := w.Shape(w.resolver.DownKey(base))
	if err != nil {
		return 0, err
	}
	if len(shape) == 0 {
		return 0, backendErr("rank", errors.Wrap(tensor.ErrInvalidShape, "scalar down projection"))
	}
	return shape[0], nil
}

// Alpha returns the scaling numerator of base. PEFT files store none and
// use the rank, which makes the scale 1.
func (w *Weights) Alpha(base string) (Alpha, error) {
	if w.resolver.Format() == FormatPEFT {
		r, err := w.Rank(base)
		if err != nil {
			return 0, err
		}
		return Alpha(r), nil
	}
	v, err := w.store.Scalar(w.resolver.AlphaKey(base))
	if err != nil {
		return 0, err
	}
	return Alpha(v), nil
}

// Alphas collects the distinct alphas in the file. Alphas that fail to
// load are skipped and reported through skipped.
func (w *Weights) Alphas() (set *AlphaSet, skipped []error) {
	set = NewAlphaSet()
	if w.resolver.Format() == FormatPEFT {
		for _, r := range w.Dims() {
			set.Add(Alpha(r))
		}
		return set, nil
	}
	for _, k := range w.keys {
		if !strings.HasSuffix(k, ".alpha") {
			continue
		}
		v, err := w.store.Scalar(k)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		set.Add(Alpha(v))
	}
	return set, skipped
}

// Dims collects the distinct ranks of all down projections, ascending.
func (w *Weights) Dims() []int {
	suffix := "." + w.resolver.DownSuffix()
	seen := map[int]struct{}{}
	var dims []int
	for _, k := range w.keys {
		if !strings.HasSuffix(k, suffix) {
			continue
		}
		info, _ := w.store.Info(k)
		if len(info.Shape) == 0 {
			continue
		}
		if _, ok := seen[info.Shape[0]]; !ok {
			seen[info.Shape[0]] = struct{}{}
			dims = append(dims, info.Shape[0])
		}
	}
	slices.Sort(dims)
	return dims
}

// DoRAScales collects the distinct values of every dora_scale tensor.
func (w *Weights) DoRAScales() (*DoRAScaleSet, error) {
	set := &DoRAScaleSet{}
	for _, k := range w.keys {
		if !strings.HasSuffix(k, ".dora_scale") {
			continue
		}
		t, err := w.store.Tensor(k)
		if err != nil {
			return nil, err
		}
		for _, v := range t.Data() {
			set.Add(DoRAScale(v))
		}
	}
	return set, nil
}

// Reconstruct rebuilds the scaled weight delta of base for network type nt.
func (w *Weights) Reconstruct(nt NetworkType, base string) (*tensor.Tensor, error) {
	switch nt {
	case LoRA, LoRAFA, DyLoRA, LoCon:
		return w.LoRA(base)
	case LoHA:
		return w.Hada(base)
	case LoKr:
		return w.LoKr(base)
	case GLoRA:
		return w.GLoRA(base)
	case DiagOFT:
		return w.DiagOFT(base)
	case BOFT:
		return w.BOFT(base)
	default:
		return nil, &UnsupportedNetworkTypeError{Type: nt}
	}
}

// LoRA rebuilds up·down·alpha/rank.
func (w *Weights) LoRA(base string) (*tensor.Tensor, error) {
	up, err := w.store.Tensor(w.resolver.UpKey(base))
	if err != nil {
		return nil, err
	}
	down, err := w.store.Tensor(w.resolver.DownKey(base))
	if err != nil {
		return nil, err
	}
	alpha, err := w.Alpha(base)
	if err != nil {
		return nil, err
	}
	return reconstructLoRA(up, down, alpha)
}

// Hada rebuilds a LoHA weight, with Tucker cores when both are present.
func (w *Weights) Hada(base string) (*tensor.Tensor, error) {
	keys := w.resolver.Hada(base)
	var f hadaFactors
	for _, c := range []struct {
		dst **tensor.Tensor
		key string
	}{
		{&f.W1A, keys.W1A}, {&f.W1B, keys.W1B}, {&f.W2A, keys.W2A}, {&f.W2B, keys.W2B},
	} {
		t, err := w.store.Tensor(c.key)
		if err != nil {
			return nil, err
		}
		*c.dst = t
	}
	if w.has(keys.T1) && w.has(keys.T2) {
		var err error
		if f.T1, err = w.store.Tensor(keys.T1); err != nil {
			return nil, err
		}
		if f.T2, err = w.store.Tensor(keys.T2); err != nil {
			return nil, err
		}
	}
	alpha, err := w.store.Scalar(w.resolver.AlphaKey(base))
	if err != nil {
		return nil, err
	}
	return reconstructHada(f, Alpha(alpha))
}

// LoKr rebuilds a Kronecker-factored weight. The most specific component
// layout present wins: factored pairs over dense tensors, Tucker over plain
// pairs.
func (w *Weights) LoKr(base string) (*tensor.Tensor, error) {
	keys := w.resolver.LoKr(base)
	var f lokrFactors

	load := func(key string) (*tensor.Tensor, error) { return w.store.Tensor(key) }
	var err error
	switch {
	case w.has(keys.W1A) && w.has(keys.W1B):
		if f.W1A, err = load(keys.W1A); err != nil {
			return nil, err
		}
		if f.W1B, err = load(keys.W1B); err != nil {
			return nil, err
		}
	default:
		if f.W1, err = load(keys.W1); err != nil {
			return nil, err
		}
	}

	switch {
	case w.has(keys.W2A) && w.has(keys.W2B):
		if f.W2A, err = load(keys.W2A); err != nil {
			return nil, err
		}
		if f.W2B, err = load(keys.W2B); err != nil {
			return nil, err
		}
		if w.has(keys.T2) {
			if f.T2, err = load(keys.T2); err != nil {
				return nil, err
			}
		}
	default:
		if f.W2, err = load(keys.W2); err != nil {
			return nil, err
		}
	}

	var alpha Alpha
	if f.factored() {
		v, err := w.store.Scalar(w.resolver.AlphaKey(base))
		if err != nil {
			return nil, err
		}
		alpha = Alpha(v)
	}
	return reconstructLoKr(f, alpha)
}

// GLoRA rebuilds (b2·b1 + a2·a1)·alpha/rank.
func (w *Weights) GLoRA(base string) (*tensor.Tensor, error) {
	keys := w.resolver.GLoRA(base)
	var f gloraFactors
	for _, c := range []struct {
		dst **tensor.Tensor
		key string
	}{
		{&f.A1, keys.A1}, {&f.A2, keys.A2}, {&f.B1, keys.B1}, {&f.B2, keys.B2},
	} {
		t, err := w.store.Tensor(c.key)
		if err != nil {
			return nil, err
		}
		*c.dst = t
	}
	alpha, err := w.store.Scalar(w.resolver.AlphaKey(base))
	if err != nil {
		return nil, err
	}
	return reconstructGLoRA(f, Alpha(alpha))
}

// DiagOFT returns the stored diagonal block tensor unscaled.
func (w *Weights) DiagOFT(base string) (*tensor.Tensor, error) {
	t, err := w.store.Tensor(w.resolver.DiagOFTKey(base))
	if err != nil {
		return nil, err
	}
	return upcast(t), nil
}

// BOFT returns the stored butterfly blocks unscaled.
func (w *Weights) BOFT(base string) (*tensor.Tensor, error) {
	t, err := w.store.Tensor(w.resolver.BOFTKey(base))
	if err != nil {
		return nil, err
	}
	return upcast(t), nil
}

func (w *Weights) Close() error { return w.store.Close() }
