package lora

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetworkArgsStringEncodedValues(t *testing.T) {
	t.Parallel()
	args, err := ParseNetworkArgs(`{
		"algo": "lokr",
		"dropout": "0.1",
		"rank_dropout": 0.25,
		"conv_dim": "8",
		"conv_alpha": "4",
		"block_dims": "2,4,8",
		"block_alphas": [1, "2"],
		"use_cp": "True",
		"rescale": "False",
		"dora_wd": true,
		"preset": "attn-mlp",
		"custom_flag": "x"
	}`)
	require.NoError(t, err)

	assert.Equal(t, "lokr", args.Algo)
	require.NotNil(t, args.Dropout)
	assert.Equal(t, Float(0.1), *args.Dropout)
	assert.Equal(t, Float(0.25), *args.RankDropout)
	assert.Equal(t, Int(8), *args.ConvDim)
	assert.Equal(t, Float(4), *args.ConvAlpha)
	assert.Equal(t, IntSeq{2, 4, 8}, args.BlockDims)
	assert.Equal(t, IntSeq{1, 2}, args.BlockAlphas)
	assert.True(t, args.UseCP.Set())
	require.NotNil(t, args.Rescale)
	assert.False(t, args.Rescale.Set())
	assert.True(t, args.DoRAWD.Set())
	assert.False(t, args.RsLoRA.Set())
	assert.Nil(t, args.ModuleDropout)
	assert.Contains(t, args.Extra, "custom_flag")
	assert.NotContains(t, args.Extra, "algo")
}

func TestParseNetworkArgsRejectsBadValues(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		`{"use_cp": "yes"}`,
		`{"conv_dim": "eight"}`,
		`{"block_dims": "1,x"}`,
		`{"down_lr_weight": "wobble+.5"}`,
		`not json`,
	} {
		_, err := ParseNetworkArgs(in)
		assert.Error(t, err, in)
	}
}

func TestLrWeight(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want LrWeight
	}{
		{`0.5`, LrWeight{Kind: LrWeightBlock, Value: 0.5}},
		{`"1,0.5,0"`, LrWeight{Kind: LrWeightSequence, Values: []float64{1, 0.5, 0}}},
		{`"1"`, LrWeight{Kind: LrWeightSequence, Values: []float64{1}}},
		{`"cosine+.5"`, LrWeight{Kind: LrWeightCurve, Curve: "cosine", Op: '+', Amount: 0.5}},
		{`"reverse_linear-0.25"`, LrWeight{Kind: LrWeightCurve, Curve: "reverse_linear", Op: '-', Amount: 0.25}},
		{`"sine"`, LrWeight{Kind: LrWeightCurve, Curve: "sine", Op: '+'}},
	}
	for _, tt := range tests {
		var w LrWeight
		require.NoError(t, json.Unmarshal([]byte(tt.in), &w), tt.in)
		assert.Equal(t, tt.want, w, tt.in)
	}

	var curve LrWeight
	require.NoError(t, json.Unmarshal([]byte(`"cosine+.5"`), &curve))
	assert.Equal(t, "cosine+0.5", curve.String())
	out, err := json.Marshal(LrWeight{Kind: LrWeightSequence, Values: []float64{1, 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(out))
}

func TestNetworkTypeClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		md     map[string]string
		want   NetworkType
		wantOK bool
	}{
		{"no metadata", nil, 0, false},
		{"no module", map[string]string{"ss_output_name": "x"}, 0, false},
		{"unknown module", map[string]string{"ss_network_module": "other.net"}, 0, false},
		{"kohya", map[string]string{"ss_network_module": "networks.lora"}, LoRA, true},
		{"kohya conv", map[string]string{
			"ss_network_module": "networks.lora",
			"ss_network_args":   `{"conv_dim": "4", "conv_alpha": "1"}`,
		}, LoRA, true},
		{"flux", map[string]string{"ss_network_module": "networks.lora_flux"}, LoRA, true},
		{"sd3", map[string]string{"ss_network_module": "networks.lora_sd3"}, LoRA, true},
		{"lumina", map[string]string{"ss_network_module": "networks.lora_lumina"}, LoRA, true},
		{"lora fa", map[string]string{"ss_network_module": "networks.lora_fa"}, LoRAFA, true},
		{"dylora", map[string]string{"ss_network_module": "networks.dylora"}, DyLoRA, true},
		{"oft", map[string]string{"ss_network_module": "networks.oft"}, OFT, true},
		{"lycoris no args", map[string]string{"ss_network_module": "lycoris.kohya"}, 0, false},
		{"lycoris no algo", map[string]string{
			"ss_network_module": "lycoris.kohya", "ss_network_args": `{"conv_dim": "4"}`,
		}, LoRA, true},
	}
	for algo, want := range map[string]NetworkType{
		"loha": LoHA, "lokr": LoKr, "locon": LoCon, "lora": LoRA, "glora": GLoRA,
		"glokr": GLoKr, "diag-oft": DiagOFT, "boft": BOFT, "ia3": IA3,
	} {
		tests = append(tests, struct {
			name   string
			md     map[string]string
			want   NetworkType
			wantOK bool
		}{"lycoris " + algo, map[string]string{
			"ss_network_module": "lycoris.kohya",
			"ss_network_args":   `{"algo": "` + algo + `"}`,
		}, want, true})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			nt, ok, err := NewMetadata(tt.md).NetworkType()
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, nt)
			}
		})
	}
}

func TestNetworkTypeErrors(t *testing.T) {
	t.Parallel()
	_, _, err := NewMetadata(map[string]string{
		"ss_network_module": "lycoris.kohya",
		"ss_network_args":   `{"algo": "mystery"}`,
	}).NetworkType()
	var algoErr *UnrecognizedAlgorithmError
	require.True(t, errors.As(err, &algoErr))
	assert.Equal(t, "mystery", algoErr.Algo)
	assert.True(t, errors.Is(err, ErrUnrecognizedAlgorithm))

	_, _, err = NewMetadata(map[string]string{
		"ss_network_module": "lycoris.kohya",
		"ss_network_args":   `{"algo": `,
	}).NetworkType()
	var parseErr *MetadataParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "ss_network_args", parseErr.Field)
	assert.True(t, errors.Is(err, ErrMetadataParse))
}

func TestMetadataFlags(t *testing.T) {
	t.Parallel()
	md := NewMetadata(map[string]string{
		"ss_network_module": "networks.lora",
		"ss_network_args":   `{"conv_dim": "4", "dora_wd": "True", "rs_lora": "False", "rank_stabilized": "True"}`,
		"ss_network_dim":    "16",
		"ss_network_alpha":  "8.0",
	})
	assert.True(t, md.HasConvDim())

	wd, ok, err := md.WeightDecomposition()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, DecompositionDoRA, wd)

	rs, ok, err := md.RankStabilized()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rs)

	dim, ok := md.NetworkDim()
	assert.True(t, ok)
	assert.Equal(t, 16, dim)
	alpha, ok := md.NetworkAlpha()
	assert.True(t, ok)
	assert.Equal(t, Alpha(8), alpha)

	bare := NewMetadata(map[string]string{"ss_network_module": "networks.lora"})
	assert.False(t, bare.HasConvDim())
	_, ok, err = bare.WeightDecomposition()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompareMetadata(t *testing.T) {
	t.Parallel()
	a := NewMetadata(map[string]string{"keep": "1", "change": "old", "drop": "x"})
	b := NewMetadata(map[string]string{"keep": "1", "change": "new", "add": "y"})

	d := CompareMetadata(a, b)
	assert.Equal(t, map[string]string{"add": "y"}, d.Added)
	assert.Equal(t, map[string]string{"drop": "x"}, d.Removed)
	assert.Equal(t, map[string]Change{"change": {Old: "old", New: "new"}}, d.Changed)
	assert.False(t, d.Empty())

	assert.True(t, CompareMetadata(a, a).Empty())

	none := NewMetadata(nil)
	removed := CompareMetadata(a, none)
	assert.Len(t, removed.Removed, 3)
	assert.Empty(t, removed.Added)

	assert.True(t, CompareMetadata(none, b).Empty())
	assert.True(t, CompareMetadata(none, none).Empty())
	assert.True(t, CompareMetadata(NewMetadata(map[string]string{}), NewMetadata(map[string]string{})).Empty())
}
