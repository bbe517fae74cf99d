package lora

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// NetworkModule is the training module recorded in ss_network_module.
type NetworkModule string

const (
	ModuleKohyaLoRA   NetworkModule = "networks.lora"
	ModuleKohyaFlux   NetworkModule = "networks.lora_flux"
	ModuleKohyaSD3    NetworkModule = "networks.lora_sd3"
	ModuleKohyaLumina NetworkModule = "networks.lora_lumina"
	ModuleKohyaLoRAFA NetworkModule = "networks.lora_fa"
	ModuleKohyaDyLoRA NetworkModule = "networks.dylora"
	ModuleKohyaOFT    NetworkModule = "networks.oft"
	ModuleLycoris     NetworkModule = "lycoris.kohya"
)

// NetworkType is the adapter algorithm that produced a file.
type NetworkType uint8

const (
	LoRA NetworkType = iota
	LoRAFA
	LoCon
	LoHA
	LoKr
	IA3
	DyLoRA
	GLoRA
	GLoKr
	DiagOFT
	BOFT
	OFT
)

var networkTypeNames = [...]string{
	LoRA:    "LoRA",
	LoRAFA:  "LoRAFA",
	LoCon:   "LoCon",
	LoHA:    "LoHA",
	LoKr:    "LoKr",
	IA3:     "IA3",
	DyLoRA:  "DyLoRA",
	GLoRA:   "GLoRA",
	GLoKr:   "GLoKr",
	DiagOFT: "DiagOFT",
	BOFT:    "BOFT",
	OFT:     "OFT",
}

func (t NetworkType) String() string {
	if int(t) < len(networkTypeNames) {
		return networkTypeNames[t]
	}
	return "NetworkType(" + strconv.Itoa(int(t)) + ")"
}

func (t NetworkType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// lycorisAlgos maps the lycoris "algo" argument to a network type.
var lycorisAlgos = map[string]NetworkType{
	"lora":     LoRA,
	"locon":    LoCon,
	"loha":     LoHA,
	"lokr":     LoKr,
	"ia3":      IA3,
	"glora":    GLoRA,
	"glokr":    GLoKr,
	"diag-oft": DiagOFT,
	"boft":     BOFT,
}

// NetworkArgs is the decoded ss_network_args object. Trainers serialise most
// values as strings, so every field accepts both the string and the native
// JSON form. Absent fields are nil.
type NetworkArgs struct {
	Algo            string      `json:"algo,omitempty"`
	Preset          string      `json:"preset,omitempty"`
	Dropout         *Float      `json:"dropout,omitempty"`
	RankDropout     *Float      `json:"rank_dropout,omitempty"`
	ModuleDropout   *Float      `json:"module_dropout,omitempty"`
	ConvDim         *Int        `json:"conv_dim,omitempty"`
	ConvAlpha       *Float      `json:"conv_alpha,omitempty"`
	Factor          *Int        `json:"factor,omitempty"`
	BlockDims       IntSeq      `json:"block_dims,omitempty"`
	BlockAlphas     IntSeq      `json:"block_alphas,omitempty"`
	ConvBlockDims   IntSeq      `json:"conv_block_dims,omitempty"`
	ConvBlockAlphas IntSeq      `json:"conv_block_alphas,omitempty"`
	DownLrWeight    *LrWeight   `json:"down_lr_weight,omitempty"`
	MidLrWeight     *Float      `json:"mid_lr_weight,omitempty"`
	UpLrWeight      *LrWeight   `json:"up_lr_weight,omitempty"`
	DropKeys        string      `json:"drop_keys,omitempty"`
	UseCP           *Bool       `json:"use_cp,omitempty"`
	UseTucker       *Bool       `json:"use_tucker,omitempty"`
	UseScalar       *Bool       `json:"use_scalar,omitempty"`
	Rescale         *Bool       `json:"rescale,omitempty"`
	Constrain       *Float      `json:"constrain,omitempty"`
	DoRAWD          *Bool       `json:"dora_wd,omitempty"`
	RsLoRA          *Bool       `json:"rs_lora,omitempty"`
	RankStabilized  *Bool       `json:"rank_stabilized,omitempty"`
	TrainNorm       *Bool       `json:"train_norm,omitempty"`
	DecomposeBoth   *Bool       `json:"decompose_both,omitempty"`
	Extra           ExtraFields `json:"-"`
}

// ExtraFields keeps argument keys that have no typed field, verbatim.
type ExtraFields map[string]json.RawMessage

// ParseNetworkArgs decodes an ss_network_args value.
func ParseNetworkArgs(s string) (*NetworkArgs, error) {
	var args NetworkArgs
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &all); err != nil {
		return nil, err
	}
	for _, k := range knownArgKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		args.Extra = all
	}
	return &args, nil
}

var knownArgKeys = []string{
	"algo", "preset", "dropout", "rank_dropout", "module_dropout", "conv_dim", "conv_alpha", "factor",
	"block_dims", "block_alphas", "conv_block_dims", "conv_block_alphas",
	"down_lr_weight", "mid_lr_weight", "up_lr_weight", "drop_keys",
	"use_cp", "use_tucker", "use_scalar", "rescale", "constrain",
	"dora_wd", "rs_lora", "rank_stabilized", "train_norm", "decompose_both",
}

// Bool accepts JSON booleans and the Python spellings "True" and "False".
type Bool bool

func (b *Bool) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "null":
	case "true", `"True"`, `"true"`:
		*b = true
	case "false", `"False"`, `"false"`:
		*b = false
	default:
		return errors.Errorf("invalid boolean %s", data)
	}
	return nil
}

// Set reports whether b is non-nil and true.
func (b *Bool) Set() bool { return b != nil && bool(*b) }

// Float accepts a JSON number or a numeric string.
type Float float64

func (f *Float) UnmarshalJSON(data []byte) error {
	s, err := unquoteScalar(data)
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid number %s", data)
	}
	*f = Float(v)
	return nil
}

// Int accepts a JSON integer or an integer string.
type Int int

func (i *Int) UnmarshalJSON(data []byte) error {
	s, err := unquoteScalar(data)
	if err != nil {
		return err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return errors.Wrapf(err, "invalid integer %s", data)
	}
	*i = Int(v)
	return nil
}

// IntSeq accepts "4,4,8" or a JSON array of integers.
type IntSeq []int

func (s *IntSeq) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var vals []Int
		if err := json.Unmarshal(data, &vals); err != nil {
			return err
		}
		out := make(IntSeq, len(vals))
		for i, v := range vals {
			out[i] = int(v)
		}
		*s = out
		return nil
	}
	str, err := unquoteScalar(data)
	if err != nil {
		return err
	}
	parts := strings.Split(str, ",")
	out := make(IntSeq, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return errors.Wrapf(err, "invalid block sequence %q", str)
		}
		out = append(out, v)
	}
	*s = out
	return nil
}

func unquoteScalar(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	if len(data) == 0 || data[0] == '{' || data[0] == '[' || string(data) == "null" {
		return "", errors.Errorf("expected scalar, got %s", data)
	}
	return string(data), nil
}

// LrWeightKind distinguishes the forms a block learning-rate weight takes.
type LrWeightKind uint8

const (
	LrWeightBlock LrWeightKind = iota
	LrWeightSequence
	LrWeightCurve
)

// LrWeight is a block learning-rate weight: a single number, a comma
// sequence of per-block weights, or a named curve with an offset such as
// "cosine+.5".
type LrWeight struct {
	Kind   LrWeightKind
	Value  float64
	Values []float64
	Curve  string
	Op     byte
	Amount float64
}

var lrCurves = []string{"reverse_linear", "linear", "cosine", "sine", "zeros"}

func (w *LrWeight) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty lr weight")
	}
	if data[0] != '"' {
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return errors.Wrapf(err, "invalid lr weight %s", data)
		}
		*w = LrWeight{Kind: LrWeightBlock, Value: v}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if strings.Contains(s, "+") || startsWithLetter(s) {
		return w.parseCurve(s)
	}
	parts := strings.Split(s, ",")
	vals := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return errors.Wrapf(err, "invalid lr weight sequence %q", s)
		}
		vals = append(vals, v)
	}
	*w = LrWeight{Kind: LrWeightSequence, Values: vals}
	return nil
}

func (w *LrWeight) parseCurve(s string) error {
	for _, c := range lrCurves {
		rest, ok := strings.CutPrefix(s, c)
		if !ok {
			continue
		}
		if rest == "" {
			*w = LrWeight{Kind: LrWeightCurve, Curve: c, Op: '+'}
			return nil
		}
		if rest[0] != '+' && rest[0] != '-' {
			break
		}
		amount, err := strconv.ParseFloat(rest[1:], 64)
		if err != nil {
			return errors.Wrapf(err, "invalid lr weight amount in %q", s)
		}
		*w = LrWeight{Kind: LrWeightCurve, Curve: c, Op: rest[0], Amount: amount}
		return nil
	}
	return errors.Errorf("invalid lr weight curve %q", s)
}

func startsWithLetter(s string) bool {
	return s != "" && (s[0] >= 'a' && s[0] <= 'z' || s[0] >= 'A' && s[0] <= 'Z')
}

func (w LrWeight) String() string {
	switch w.Kind {
	case LrWeightCurve:
		if w.Op == 0 {
			return w.Curve
		}
		return w.Curve + string(w.Op) + strconv.FormatFloat(w.Amount, 'g', -1, 64)
	case LrWeightSequence:
		parts := make([]string, len(w.Values))
		for i, v := range w.Values {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		return strings.Join(parts, ",")
	default:
		return strconv.FormatFloat(w.Value, 'g', -1, 64)
	}
}

func (w LrWeight) MarshalJSON() ([]byte, error) {
	switch w.Kind {
	case LrWeightBlock:
		return json.Marshal(w.Value)
	case LrWeightSequence:
		return json.Marshal(w.Values)
	default:
		return json.Marshal(w.String())
	}
}

// classifyNetwork maps module and arguments to a network type. ok is false
// when the module is absent or unknown, or when lycoris arguments are absent.
func classifyNetwork(module NetworkModule, args *NetworkArgs) (NetworkType, bool, error) {
	switch module {
	case ModuleKohyaLoRA, ModuleKohyaFlux, ModuleKohyaSD3, ModuleKohyaLumina:
		return LoRA, true, nil
	case ModuleKohyaLoRAFA:
		return LoRAFA, true, nil
	case ModuleKohyaDyLoRA:
		return DyLoRA, true, nil
	case ModuleKohyaOFT:
		return OFT, true, nil
	case ModuleLycoris:
		if args == nil {
			return 0, false, nil
		}
		if args.Algo == "" {
			return LoRA, true, nil
		}
		nt, ok := lycorisAlgos[strings.ToLower(args.Algo)]
		if !ok {
			return 0, false, &UnrecognizedAlgorithmError{Algo: args.Algo}
		}
		return nt, true, nil
	default:
		return 0, false, nil
	}
}
