package lora

import "strings"

// Format is the tensor naming convention a file uses.
type Format uint8

const (
	// FormatKohya uses lora_up/lora_down/alpha keys.
	FormatKohya Format = iota
	// FormatLycoris shares the kohya key layout and adds the decomposition
	// component names (hada_*, lokr_*, oft_*). Key detection alone never
	// returns it; File.Format refines kohya files from their metadata.
	FormatLycoris
	// FormatPEFT uses lora_A/lora_B keys and has no stored alpha.
	FormatPEFT
)

func (f Format) String() string {
	switch f {
	case FormatPEFT:
		return "peft"
	case FormatLycoris:
		return "lycoris"
	default:
		return "kohya"
	}
}

func (f Format) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

const formatSampleSize = 10

var peftMarkers = []string{"transformer.", "diffusion_model.", "base_model.model."}

// DetectFormat inspects the first few keys and reports the naming
// convention. The result depends only on the sampled keys.
func DetectFormat(keys []string) Format {
	sample := keys[:min(len(keys), formatSampleSize)]
	for _, k := range sample {
		for _, m := range peftMarkers {
			if strings.Contains(k, m) {
				return FormatPEFT
			}
		}
		if strings.HasSuffix(k, ".lora_A.weight") || strings.HasSuffix(k, ".lora_B.weight") {
			return FormatPEFT
		}
	}
	return FormatKohya
}
