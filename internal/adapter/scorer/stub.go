// Package scorer implements the C5 opaque scoring capability: a
// wide-and-deep-style linear/logistic model over the concatenated
// viewer/item/context feature vector, with atomic hot-swap of the active
// model.
package scorer

import (
	"fmt"
	"math"

	"github.com/fairyhunter13/recrank/internal/domain"
)

// WideDeepScorer is a deterministic stand-in for a trained wide-and-deep
// model: a wide linear term over the raw feature vector plus a deep term
// that feeds a single hidden layer through a sigmoid, matching the
// wide-component/deep-component split of the model this tier calls out to.
type WideDeepScorer struct {
	name       string
	dim        int
	wideWeight []float32
	hidden     [][]float32
	hiddenBias []float32
	outWeight  []float32
	bias       float32
}

// NewWideDeepScorer builds a scorer sized for dim input features. Weights are
// derived deterministically by hashing the model name with each weight's
// position, so the same model name and sizes always yield
// the same scorer, useful for tests and for a from-scratch bootstrap model
// before any trained weights are loaded.
func NewWideDeepScorer(name string, dim int, hiddenSize int) *WideDeepScorer {
	if dim <= 0 {
		dim = 1
	}
	if hiddenSize <= 0 {
		hiddenSize = 16
	}
	s := &WideDeepScorer{
		name:       name,
		dim:        dim,
		wideWeight: make([]float32, dim),
		hidden:     make([][]float32, hiddenSize),
		hiddenBias: make([]float32, hiddenSize),
		outWeight:  make([]float32, hiddenSize),
	}
	for i := range s.wideWeight {
		s.wideWeight[i] = pseudoWeight(name, "wide", i, dim)
	}
	for h := 0; h < hiddenSize; h++ {
		row := make([]float32, dim)
		for i := range row {
			row[i] = pseudoWeight(name, "deep", h*dim+i, dim*hiddenSize)
		}
		s.hidden[h] = row
		s.hiddenBias[h] = 0
		s.outWeight[h] = pseudoWeight(name, "out", h, hiddenSize)
	}
	return s
}

// pseudoWeight derives a small, stable, signed weight from indices so the
// model is reproducible without shipping trained parameters.
func pseudoWeight(name, salt string, idx, mod int) float32 {
	if mod <= 0 {
		mod = 1
	}
	h := fnvHash(name + salt + fmt.Sprint(idx))
	v := float32(h%1000) / 1000.0
	if h%2 == 0 {
		v = -v
	}
	return v * 0.5
}

func fnvHash(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// BatchScore returns a score in [0,1] per feature row.
func (s *WideDeepScorer) BatchScore(ctx domain.Context, features [][]float32) ([]float32, error) {
	out := make([]float32, len(features))
	for i, row := range features {
		out[i] = s.scoreOne(row)
	}
	return out, nil
}

func (s *WideDeepScorer) scoreOne(row []float32) float32 {
	var wide float64
	n := len(row)
	if n > s.dim {
		n = s.dim
	}
	for i := 0; i < n; i++ {
		wide += float64(row[i]) * float64(s.wideWeight[i])
	}

	var deep float64
	for h, weights := range s.hidden {
		var acc float64
		for i := 0; i < n; i++ {
			acc += float64(row[i]) * float64(weights[i])
		}
		acc += float64(s.hiddenBias[h])
		deep += sigmoid(acc) * float64(s.outWeight[h])
	}

	logit := wide + deep + float64(s.bias)
	return float32(sigmoid(logit))
}

// Loaded always reports true for a constructed WideDeepScorer; unloaded
// state is represented by ScorerLoader holding no scorer at all.
func (s *WideDeepScorer) Loaded() bool { return s != nil }
