package policy

import (
	"gonum.org/v1/gonum/stat"
)

// Standardizer fits a per-dimension mean/std over a rolling buffer of raw
// context vectors and standardizes new ones. Before minSamples vectors have
// been seen it passes contexts through unchanged.
type Standardizer struct {
	buffer     [][]float64
	size       int
	minSamples int
	mean       []float64
	std        []float64
	fitted     bool
}

// NewStandardizer builds a standardizer over the last size raw contexts.
func NewStandardizer(size int) *Standardizer {
	if size <= 0 {
		size = 100
	}
	return &Standardizer{size: size, minSamples: 10}
}

// Add appends a raw context to the buffer and refits once enough samples
// accumulated.
func (s *Standardizer) Add(raw []float64) {
	s.buffer = append(s.buffer, append([]float64(nil), raw...))
	if len(s.buffer) > s.size {
		s.buffer = s.buffer[len(s.buffer)-s.size:]
	}
	if len(s.buffer) < s.minSamples {
		return
	}
	dim := len(s.buffer[0])
	mean := make([]float64, dim)
	std := make([]float64, dim)
	col := make([]float64, 0, len(s.buffer))
	for d := 0; d < dim; d++ {
		col = col[:0]
		for _, v := range s.buffer {
			if d < len(v) {
				col = append(col, v[d])
			}
		}
		mean[d] = stat.Mean(col, nil)
		std[d] = stat.StdDev(col, nil)
	}
	s.mean, s.std, s.fitted = mean, std, true
}

// Transform returns a standardized copy of raw.
func (s *Standardizer) Transform(raw []float64) []float64 {
	out := append([]float64(nil), raw...)
	if !s.fitted {
		return out
	}
	for i := range out {
		if i >= len(s.mean) {
			break
		}
		sd := s.std[i]
		if sd < 1e-9 {
			sd = 1
		}
		out[i] = (out[i] - s.mean[i]) / sd
	}
	return out
}

// Fitted reports whether mean/std estimates are available.
func (s *Standardizer) Fitted() bool { return s.fitted }

// Reset discards the buffer and the fitted estimates.
func (s *Standardizer) Reset() {
	s.buffer = nil
	s.mean, s.std = nil, nil
	s.fitted = false
}
