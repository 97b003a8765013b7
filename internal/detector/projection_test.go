package detector

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsentinel/promptsentinel/internal/models"
)

// anisotropicCorpus spreads variance almost entirely along features 0 and 1.
func anisotropicCorpus(seed int64, n, dim int) []models.Embedding {
	rng := rand.New(rand.NewSource(seed))
	corpus := make([]models.Embedding, n)
	for i := range corpus {
		e := make(models.Embedding, dim)
		e[0] = rng.NormFloat64() * 10
		e[1] = rng.NormFloat64() * 5
		for j := 2; j < dim; j++ {
			e[j] = rng.NormFloat64() * 0.01
		}
		corpus[i] = e
	}
	return corpus
}

func TestFitProjectionDeterminism(t *testing.T) {
	corpus := anisotropicCorpus(1, 200, 8)
	p1 := fitProjection(corpus)
	p2 := fitProjection(corpus)
	assert.Equal(t, p1, p2)
}

func TestProjectionCapturesDominantAxes(t *testing.T) {
	corpus := anisotropicCorpus(1, 500, 8)
	p := fitProjection(corpus)
	require.Len(t, p.Components, 2)

	// The first component should align with feature 0, the second with
	// feature 1 (up to sign).
	assert.Greater(t, math.Abs(p.Components[0][0]), 0.9)
	assert.Greater(t, math.Abs(p.Components[1][1]), 0.9)
}

func TestProjectionComponentsOrthonormal(t *testing.T) {
	corpus := anisotropicCorpus(2, 300, 6)
	p := fitProjection(corpus)

	dot := func(a, b []float64) float64 {
		s := 0.0
		for i := range a {
			s += a[i] * b[i]
		}
		return s
	}
	assert.InDelta(t, 1.0, dot(p.Components[0], p.Components[0]), 1e-6)
	assert.InDelta(t, 1.0, dot(p.Components[1], p.Components[1]), 1e-6)
	assert.InDelta(t, 0.0, dot(p.Components[0], p.Components[1]), 1e-6)
}

func TestProjectCentersOnMean(t *testing.T) {
	corpus := anisotropicCorpus(3, 200, 6)
	p := fitProjection(corpus)

	// Projecting the mean itself lands at the origin.
	coords := p.project(models.Embedding(p.Mean))
	assert.InDelta(t, 0.0, coords[0], 1e-9)
	assert.InDelta(t, 0.0, coords[1], 1e-9)
}
