// Package report groups per-weight statistics of an adapter file by
// transformer block.
package report

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/samcharles93/loraspect/internal/lora"
	"github.com/samcharles93/loraspect/internal/stats"
)

// BlockType distinguishes the two block stacks of DiT-style models.
type BlockType string

const (
	BlockSingle  BlockType = "single"
	BlockDouble  BlockType = "double"
	BlockUnknown BlockType = "unknown"
)

// BlockInfo locates a base name inside a block stack.
type BlockInfo struct {
	Type   BlockType
	Number int
}

// Key is the map key used in reports, e.g. "double_7".
func (b BlockInfo) Key() string { return string(b.Type) + "_" + strconv.Itoa(b.Number) }

// ParseBlockInfo recognises "blocks_N_" (kohya) and "blocks.N." (PEFT)
// segments. The block type comes from "single" or "double" anywhere in the
// name.
func ParseBlockInfo(name string) (BlockInfo, bool) {
	n, ok := blockNumber(name, "blocks_", '_')
	if !ok {
		n, ok = blockNumber(name, "blocks.", '.')
	}
	if !ok {
		return BlockInfo{}, false
	}
	info := BlockInfo{Type: BlockUnknown, Number: n}
	switch {
	case strings.Contains(name, "single"):
		info.Type = BlockSingle
	case strings.Contains(name, "double"):
		info.Type = BlockDouble
	}
	return info, true
}

func blockNumber(name, marker string, sep byte) (int, bool) {
	_, rest, ok := strings.Cut(name, marker)
	if !ok {
		return 0, false
	}
	end := strings.IndexByte(rest, sep)
	if end <= 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Source is the part of a loaded file a report reads.
type Source interface {
	Metadata() *lora.Metadata
	BaseNames() []string
	Statistics(base string) (stats.WeightStatistics, error)
}

// Progress receives one tick per processed weight. *progressbar.ProgressBar
// satisfies it.
type Progress interface {
	Describe(description string)
	Add(n int) error
}

// Block is the statistics of every weight in one block.
type Block struct {
	Type          BlockType                         `json:"type"`
	Number        int                               `json:"number"`
	Weights       map[string]stats.WeightStatistics `json:"weights"`
	AverageL2Norm float64                           `json:"average_l2_norm"`
}

// Failure records a weight that could not be reconstructed.
type Failure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Report is the block-weights result for one file.
type Report struct {
	Metadata        map[string]string                 `json:"metadata"`
	BaseNames       []string                          `json:"base_names"`
	Norms           map[string]stats.WeightStatistics `json:"norms"`
	Blocks          map[string]*Block                 `json:"blocks"`
	NonBlockWeights map[string]stats.WeightStatistics `json:"non_block_weights"`
	Failures        []Failure                         `json:"failures,omitempty"`
}

// Build computes statistics for every base name of src. Weights that fail
// are recorded in Failures; only cancellation of ctx aborts the build.
func Build(ctx context.Context, src Source, progress Progress) (*Report, error) {
	names := src.BaseNames()
	r := &Report{
		Metadata:        src.Metadata().Map(),
		BaseNames:       names,
		Norms:           make(map[string]stats.WeightStatistics, len(names)),
		Blocks:          map[string]*Block{},
		NonBlockWeights: map[string]stats.WeightStatistics{},
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if progress != nil {
			progress.Describe(name)
		}
		s, err := src.Statistics(name)
		if progress != nil {
			_ = progress.Add(1)
		}
		if err != nil {
			r.Failures = append(r.Failures, Failure{Name: name, Error: err.Error()})
			continue
		}
		r.Norms[name] = s

		info, ok := ParseBlockInfo(name)
		if !ok {
			r.NonBlockWeights[name] = s
			continue
		}
		b := r.Blocks[info.Key()]
		if b == nil {
			b = &Block{Type: info.Type, Number: info.Number, Weights: map[string]stats.WeightStatistics{}}
			r.Blocks[info.Key()] = b
		}
		b.Weights[name] = s
	}

	for _, b := range r.Blocks {
		b.AverageL2Norm = averageL2(b.Weights)
	}
	return r, nil
}

func averageL2(weights map[string]stats.WeightStatistics) float64 {
	if len(weights) == 0 {
		return 0
	}
	l2 := make([]float64, 0, len(weights))
	for _, s := range weights {
		l2 = append(l2, s.L2)
	}
	return floats.Sum(l2) / float64(len(l2))
}

// SortedBlockKeys orders blocks by type, then by number.
func (r *Report) SortedBlockKeys() []string {
	return slices.SortedFunc(maps.Keys(r.Blocks), func(a, b string) int {
		ba, bb := r.Blocks[a], r.Blocks[b]
		return cmp.Or(
			cmp.Compare(ba.Type, bb.Type),
			cmp.Compare(ba.Number, bb.Number),
		)
	})
}

// MaxAverageL2 is the largest block average, or 0 without blocks.
func (r *Report) MaxAverageL2() float64 {
	var m float64
	for _, b := range r.Blocks {
		m = max(m, b.AverageL2Norm)
	}
	return m
}

// Bar draws value relative to maxValue as "[███   ] 0.123456".
func Bar(value, maxValue float64, width int) string {
	filled := 0
	if maxValue > 0 && width > 0 {
		filled = int(value/maxValue*float64(width) + 0.5)
		filled = min(max(filled, 0), width)
	}
	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(strings.Repeat("█", filled))
	sb.WriteString(strings.Repeat(" ", max(width-filled, 0)))
	sb.WriteString("] ")
	sb.WriteString(strconv.FormatFloat(value, 'f', 6, 64))
	return sb.String()
}
