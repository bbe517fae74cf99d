package lora

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		keys []string
		want Format
	}{
		{"kohya", []string{"lora_unet_a.alpha", "lora_unet_a.lora_down.weight"}, FormatKohya},
		{"flux transformer", []string{"transformer.single_transformer_blocks.0.attn.to_q.lora_A.weight"}, FormatPEFT},
		{"diffusion model", []string{"diffusion_model.input_blocks.1.proj.lora_B.weight"}, FormatPEFT},
		{"peft suffix only", []string{"text.to_k.lora_A.weight"}, FormatPEFT},
		{"empty", nil, FormatKohya},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DetectFormat(tt.keys))
			assert.Equal(t, DetectFormat(tt.keys), DetectFormat(tt.keys))
		})
	}
}

func TestDetectFormatSamplesLeadingKeys(t *testing.T) {
	t.Parallel()
	keys := make([]string, 0, 12)
	for range 11 {
		keys = append(keys, "lora_unet_x.lora_up.weight")
	}
	keys = append(keys, "transformer.x.lora_A.weight")
	assert.Equal(t, FormatKohya, DetectFormat(keys))
}

func TestBaseName(t *testing.T) {
	t.Parallel()
	base := "lora_unet_down_blocks_0_attentions_0_proj_in"
	for _, suffix := range []string{
		".lora_up.weight", ".lora_down.weight", ".alpha", ".dora_scale",
		".hada_w1_a", ".hada_w1_b", ".hada_w2_a", ".hada_w2_b", ".hada_t1", ".hada_t2",
		".lokr_w1", ".lokr_w1_a", ".lokr_w1_b", ".lokr_w2", ".lokr_w2_a", ".lokr_w2_b", ".lokr_t2",
		".oft_diag", ".oft_blocks", ".a1.weight", ".a2.weight", ".b1.weight", ".b2.weight",
		".lora_mid.weight",
	} {
		assert.Equal(t, base, BaseName(base+suffix), suffix)
	}

	peft := "transformer.transformer_blocks.8.attn.to_q"
	assert.Equal(t, peft, BaseName(peft+".lora_A.weight"))
	assert.Equal(t, peft, BaseName(peft+".lora_B.weight"))
}

func TestBaseNameRoundTrip(t *testing.T) {
	t.Parallel()
	for _, format := range []Format{FormatKohya, FormatPEFT} {
		r := NewKeyResolver(format)
		base := "lora_te_text_model_encoder_layers_0_mlp_fc1"
		assert.Equal(t, base, BaseName(r.UpKey(base)))
		assert.Equal(t, base, BaseName(r.DownKey(base)))
		assert.Equal(t, base, BaseName(r.AlphaKey(base)))
		h := r.Hada(base)
		for _, k := range []string{h.W1A, h.W1B, h.W2A, h.W2B, h.T1, h.T2} {
			assert.Equal(t, base, BaseName(k))
		}
		l := r.LoKr(base)
		for _, k := range []string{l.W1, l.W1A, l.W1B, l.W2, l.W2A, l.W2B, l.T2} {
			assert.Equal(t, base, BaseName(k))
		}
		g := r.GLoRA(base)
		for _, k := range []string{g.A1, g.A2, g.B1, g.B2} {
			assert.Equal(t, base, BaseName(k))
		}
	}
}

func TestBaseNames(t *testing.T) {
	t.Parallel()
	keys := []string{
		"b.lora_up.weight", "b.lora_down.weight", "b.alpha",
		"a.hada_w1_a", "a.hada_w1_b", "a.alpha",
		"c.oft_diag",
		"d.alpha",
	}
	assert.Equal(t, []string{"a", "b", "c"}, BaseNames(keys))
}

func TestIsWeightKey(t *testing.T) {
	t.Parallel()
	assert.True(t, IsWeightKey("x.lora_up.weight"))
	assert.True(t, IsWeightKey("x.hada_w1_a"))
	assert.True(t, IsWeightKey("x.lokr_w1"))
	assert.True(t, IsWeightKey("x.oft_blocks"))
	assert.False(t, IsWeightKey("x.alpha"))
	assert.False(t, IsWeightKey("x.hada_w2_a"))
}

func TestResolverSuffixes(t *testing.T) {
	t.Parallel()
	k := NewKeyResolver(FormatKohya)
	assert.Equal(t, "lora_up.weight", k.UpSuffix())
	assert.Equal(t, "lora_down.weight", k.DownSuffix())
	p := NewKeyResolver(FormatPEFT)
	assert.Equal(t, "lora_B.weight", p.UpSuffix())
	assert.Equal(t, "lora_A.weight", p.DownSuffix())
}

func TestAlphaCanonical(t *testing.T) {
	t.Parallel()
	assert.True(t, Alpha(4).Equal(Alpha(4.0000001)))
	assert.False(t, Alpha(4).Equal(Alpha(4.001)))
	assert.Equal(t, int64(4<<20), Alpha(4).Canonical())

	step := math.Ldexp(1, -20)
	assert.False(t, Alpha(1).Equal(Alpha(1+step)), "a difference of 2^-20 is distinct")
	assert.False(t, Alpha(1.5).Equal(Alpha(1.5-step)))
	assert.False(t, Alpha(1).Equal(Alpha(1+3*step)))
	assert.True(t, Alpha(1).Equal(Alpha(1+step/4)), "a quarter step rounds away")
	assert.True(t, Alpha(2).Equal(Alpha(2-step/8)))
	assert.Equal(t, Alpha(1).Canonical()+1, Alpha(1+step).Canonical())

	set := NewAlphaSet(4, 4.0000001, 8)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(8))
	assert.Equal(t, []Alpha{4, 8}, set.Values())
}
