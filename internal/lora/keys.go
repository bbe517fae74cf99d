package lora

import (
	"slices"
	"strings"
)

// componentSegments are key segments that name a tensor's role rather than
// the module it adapts.
var componentSegments = map[string]struct{}{
	"weight": {}, "alpha": {}, "dora_scale": {},
	"lora_up": {}, "lora_down": {}, "lora_mid": {}, "lora_A": {}, "lora_B": {},
	"hada_w1_a": {}, "hada_w1_b": {}, "hada_w2_a": {}, "hada_w2_b": {}, "hada_t1": {}, "hada_t2": {},
	"lokr_w1": {}, "lokr_w1_a": {}, "lokr_w1_b": {},
	"lokr_w2": {}, "lokr_w2_a": {}, "lokr_w2_b": {}, "lokr_t2": {},
	"oft_diag": {}, "oft_blocks": {},
	"a1": {}, "a2": {}, "b1": {}, "b2": {},
}

var weightMarkers = []string{"weight", "hada_w1", "lokr_w1", "oft_diag", "oft_block"}

// IsWeightKey reports whether key holds a weight-bearing component.
func IsWeightKey(key string) bool {
	for _, m := range weightMarkers {
		if strings.Contains(key, m) {
			return true
		}
	}
	return false
}

// BaseName strips component segments from a tensor key, leaving the name of
// the adapted module.
func BaseName(key string) string {
	parts := strings.Split(key, ".")
	kept := parts[:0]
	for _, p := range parts {
		if _, drop := componentSegments[p]; !drop {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

// BaseNames returns the sorted, de-duplicated base names of the
// weight-bearing keys.
func BaseNames(keys []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range keys {
		if !IsWeightKey(k) {
			continue
		}
		b := BaseName(k)
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// KeyResolver maps base names to component keys for one naming convention.
type KeyResolver struct {
	format Format
}

func NewKeyResolver(format Format) KeyResolver {
	return KeyResolver{format: format}
}

func (r KeyResolver) Format() Format { return r.format }

func (r KeyResolver) UpKey(base string) string {
	if r.format == FormatPEFT {
		return base + ".lora_B.weight"
	}
	return base + ".lora_up.weight"
}

func (r KeyResolver) DownKey(base string) string {
	if r.format == FormatPEFT {
		return base + ".lora_A.weight"
	}
	return base + ".lora_down.weight"
}

func (r KeyResolver) AlphaKey(base string) string { return base + ".alpha" }

func (r KeyResolver) DoRAScaleKey(base string) string { return base + ".dora_scale" }

// UpSuffix and DownSuffix identify up and down projection keys.
func (r KeyResolver) UpSuffix() string { return strings.TrimPrefix(r.UpKey(""), ".") }

func (r KeyResolver) DownSuffix() string { return strings.TrimPrefix(r.DownKey(""), ".") }

// HadaKeys are the LoHA component keys.
type HadaKeys struct {
	W1A, W1B, W2A, W2B string
	T1, T2             string
}

func (r KeyResolver) Hada(base string) HadaKeys {
	return HadaKeys{
		W1A: base + ".hada_w1_a",
		W1B: base + ".hada_w1_b",
		W2A: base + ".hada_w2_a",
		W2B: base + ".hada_w2_b",
		T1:  base + ".hada_t1",
		T2:  base + ".hada_t2",
	}
}

// LoKrKeys are the LoKr component keys, dense and factored.
type LoKrKeys struct {
	W1, W1A, W1B string
	W2, W2A, W2B string
	T2           string
}

func (r KeyResolver) LoKr(base string) LoKrKeys {
	return LoKrKeys{
		W1:  base + ".lokr_w1",
		W1A: base + ".lokr_w1_a",
		W1B: base + ".lokr_w1_b",
		W2:  base + ".lokr_w2",
		W2A: base + ".lokr_w2_a",
		W2B: base + ".lokr_w2_b",
		T2:  base + ".lokr_t2",
	}
}

// GLoRAKeys are stored as a1/a2/b1/b2 weights.
type GLoRAKeys struct {
	A1, A2, B1, B2 string
}

func (r KeyResolver) GLoRA(base string) GLoRAKeys {
	return GLoRAKeys{
		A1: base + ".a1.weight",
		A2: base + ".a2.weight",
		B1: base + ".b1.weight",
		B2: base + ".b2.weight",
	}
}

func (r KeyResolver) DiagOFTKey(base string) string { return base + ".oft_diag" }

func (r KeyResolver) BOFTKey(base string) string { return base + ".oft_blocks" }
