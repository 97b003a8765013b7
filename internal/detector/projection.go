package detector

import (
	"math"

	"github.com/promptsentinel/promptsentinel/internal/models"
)

// projection is a fitted 2-component PCA used to flatten high-dimensional
// embeddings into plot coordinates for the external cluster visualization.
// It is fitted once per model and serialized with it, so coordinates stay
// comparable for the lifetime of a model version.
type projection struct {
	Mean       []float64   `json:"mean"`
	Components [][]float64 `json:"components"` // 2 rows of length dim
}

const powerIterations = 50

// fitProjection computes the top two principal components of the corpus with
// deterministic power iteration (fixed start vector, fixed iteration count),
// keeping fits bit-reproducible without a randomness source.
func fitProjection(corpus []models.Embedding) *projection {
	dim := len(corpus[0])
	mean := make([]float64, dim)
	for _, e := range corpus {
		for j, v := range e {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(len(corpus))
	}

	centered := make([][]float64, len(corpus))
	for i, e := range corpus {
		row := make([]float64, dim)
		for j, v := range e {
			row[j] = v - mean[j]
		}
		centered[i] = row
	}

	first := principalComponent(centered, nil)
	second := principalComponent(centered, first)

	return &projection{Mean: mean, Components: [][]float64{first, second}}
}

// principalComponent runs power iteration on the (implicit) covariance
// matrix. When deflate is non-nil the iterate is re-orthogonalized against it
// every step, yielding the next component.
func principalComponent(centered [][]float64, deflate []float64) []float64 {
	dim := len(centered[0])
	v := make([]float64, dim)
	for j := range v {
		v[j] = 1 / math.Sqrt(float64(dim))
	}

	next := make([]float64, dim)
	for iter := 0; iter < powerIterations; iter++ {
		for j := range next {
			next[j] = 0
		}
		// next = Σ_i (x_i · v) x_i, the covariance product without
		// materializing the dim×dim matrix.
		for _, row := range centered {
			dot := 0.0
			for j, x := range row {
				dot += x * v[j]
			}
			for j, x := range row {
				next[j] += dot * x
			}
		}
		if deflate != nil {
			dot := 0.0
			for j := range next {
				dot += next[j] * deflate[j]
			}
			for j := range next {
				next[j] -= dot * deflate[j]
			}
		}
		norm := 0.0
		for _, x := range next {
			norm += x * x
		}
		norm = math.Sqrt(norm)
		if norm < 1e-12 {
			// Degenerate corpus (rank < 2); keep the start vector.
			break
		}
		for j := range next {
			v[j] = next[j] / norm
		}
	}
	out := make([]float64, dim)
	copy(out, v)
	return out
}

// project maps an embedding to its 2-D plot coordinates.
func (p *projection) project(e models.Embedding) []float64 {
	coords := make([]float64, len(p.Components))
	for c, comp := range p.Components {
		dot := 0.0
		for j, v := range e {
			dot += (v - p.Mean[j]) * comp[j]
		}
		coords[c] = dot
	}
	return coords
}
