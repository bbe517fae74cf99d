package lora

import (
	"math"
	"slices"
	"strconv"
)

// canonicalScale quantises floats so that values differing only by float
// noise compare equal.
const canonicalScale = 1 << 20

// Alpha is a LoRA scaling numerator.
type Alpha float32

// Canonical is the integer identity used for equality and set membership.
func (a Alpha) Canonical() int64 { return canonical(float32(a)) }

func (a Alpha) Equal(o Alpha) bool { return a.Canonical() == o.Canonical() }

func (a Alpha) String() string { return strconv.FormatFloat(float64(a), 'g', -1, 32) }

// DoRAScale is a per-weight magnitude vector entry from a DoRA adapter.
type DoRAScale float32

func (d DoRAScale) Canonical() int64 { return canonical(float32(d)) }

func (d DoRAScale) String() string { return strconv.FormatFloat(float64(d), 'g', -1, 32) }

func canonical(v float32) int64 {
	return int64(math.Round(float64(v) * canonicalScale))
}

// canonicalSet is a set of float-like values keyed by their canonical integer.
type canonicalSet[T interface {
	~float32
	Canonical() int64
}] struct {
	m map[int64]T
}

func (s *canonicalSet[T]) Add(v T) {
	if s.m == nil {
		s.m = make(map[int64]T)
	}
	if _, ok := s.m[v.Canonical()]; !ok {
		s.m[v.Canonical()] = v
	}
}

func (s *canonicalSet[T]) Contains(v T) bool {
	_, ok := s.m[v.Canonical()]
	return ok
}

func (s *canonicalSet[T]) Len() int { return len(s.m) }

// Values returns the members in ascending order.
func (s *canonicalSet[T]) Values() []T {
	out := make([]T, 0, len(s.m))
	for _, v := range s.m {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

type (
	AlphaSet     = canonicalSet[Alpha]
	DoRAScaleSet = canonicalSet[DoRAScale]
)

// NewAlphaSet builds a set from the given alphas.
func NewAlphaSet(alphas ...Alpha) *AlphaSet {
	s := &AlphaSet{}
	for _, a := range alphas {
		s.Add(a)
	}
	return s
}
