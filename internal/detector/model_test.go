package detector

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsentinel/promptsentinel/internal/models"
)

// syntheticCorpus generates n embeddings of the given dim clustered around
// the origin, deterministically.
func syntheticCorpus(seed int64, n, dim int) []models.Embedding {
	rng := rand.New(rand.NewSource(seed))
	corpus := make([]models.Embedding, n)
	for i := range corpus {
		e := make(models.Embedding, dim)
		for j := range e {
			e[j] = rng.NormFloat64()
		}
		corpus[i] = e
	}
	return corpus
}

// outlierEmbedding is far outside the synthetic cluster.
func outlierEmbedding(dim int) models.Embedding {
	e := make(models.Embedding, dim)
	for j := range e {
		e[j] = 50.0
	}
	return e
}

func testParams() FitParams {
	return FitParams{Contamination: 0.01, NumTrees: 50, SampleSize: 64, Seed: 7}
}

func TestFitModelValidation(t *testing.T) {
	corpus := syntheticCorpus(1, 50, 8)

	tests := []struct {
		name     string
		corpus   []models.Embedding
		modifyFn func(*FitParams)
	}{
		{
			name:     "empty corpus",
			corpus:   nil,
			modifyFn: func(p *FitParams) {},
		},
		{
			name:     "contamination zero",
			corpus:   corpus,
			modifyFn: func(p *FitParams) { p.Contamination = 0 },
		},
		{
			name:     "contamination one",
			corpus:   corpus,
			modifyFn: func(p *FitParams) { p.Contamination = 1 },
		},
		{
			name:     "no trees",
			corpus:   corpus,
			modifyFn: func(p *FitParams) { p.NumTrees = 0 },
		},
		{
			name:     "single embedding corpus",
			corpus:   corpus[:1],
			modifyFn: func(p *FitParams) {},
		},
		{
			name:     "sample size one",
			corpus:   corpus,
			modifyFn: func(p *FitParams) { p.SampleSize = 1 },
		},
		{
			name:     "sample size zero",
			corpus:   corpus,
			modifyFn: func(p *FitParams) { p.SampleSize = 0 },
		},
		{
			name:   "mixed dimensions",
			corpus: append(append([]models.Embedding{}, corpus...), models.Embedding{1, 2}),
			modifyFn: func(p *FitParams) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.modifyFn(&p)
			_, err := FitModel(tt.corpus, p)
			assert.Error(t, err)
		})
	}
}

func TestFitModelMinimalCorpusScoresFinite(t *testing.T) {
	corpus := syntheticCorpus(1, 2, 4)
	p := testParams()
	p.SampleSize = 2

	m, err := FitModel(corpus, p)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(m.Threshold), "threshold must stay comparable")

	s, err := m.Score(outlierEmbedding(4))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(s))
}

func TestFitModelDeterminism(t *testing.T) {
	corpus := syntheticCorpus(1, 300, 16)
	heldOut := syntheticCorpus(2, 20, 16)
	p := testParams()

	m1, err := FitModel(corpus, p)
	require.NoError(t, err)
	m2, err := FitModel(corpus, p)
	require.NoError(t, err)

	assert.Equal(t, m1.Threshold, m2.Threshold)
	for _, e := range heldOut {
		s1, err := m1.Score(e)
		require.NoError(t, err)
		s2, err := m2.Score(e)
		require.NoError(t, err)
		assert.Equal(t, s1, s2)
	}
}

func TestFitModelSeedChangesEnsemble(t *testing.T) {
	corpus := syntheticCorpus(1, 300, 16)
	p1 := testParams()
	p2 := testParams()
	p2.Seed = p1.Seed + 1

	m1, err := FitModel(corpus, p1)
	require.NoError(t, err)
	m2, err := FitModel(corpus, p2)
	require.NoError(t, err)

	e := syntheticCorpus(3, 1, 16)[0]
	s1, _ := m1.Score(e)
	s2, _ := m2.Score(e)
	assert.NotEqual(t, s1, s2)
}

func TestScoreSeparatesOutliers(t *testing.T) {
	corpus := syntheticCorpus(1, 500, 8)
	m, err := FitModel(corpus, testParams())
	require.NoError(t, err)

	inlier := syntheticCorpus(4, 1, 8)[0]
	inlierScore, err := m.Score(inlier)
	require.NoError(t, err)
	outlierScore, err := m.Score(outlierEmbedding(8))
	require.NoError(t, err)

	assert.Less(t, outlierScore, inlierScore, "outliers must score lower")
	assert.Less(t, outlierScore, m.Threshold, "a far outlier lands below the threshold")
}

func TestThresholdIsContaminationQuantile(t *testing.T) {
	corpus := syntheticCorpus(1, 1000, 8)
	p := testParams()
	p.Contamination = 0.01
	m, err := FitModel(corpus, p)
	require.NoError(t, err)

	below := 0
	for _, e := range corpus {
		s, err := m.Score(e)
		require.NoError(t, err)
		if s < m.Threshold {
			below++
		}
	}
	// Roughly 1% of the fitting corpus sits strictly below the threshold.
	assert.LessOrEqual(t, below, 10)
	assert.GreaterOrEqual(t, below, 1)
}

func TestScoreDimensionMismatch(t *testing.T) {
	m, err := FitModel(syntheticCorpus(1, 50, 8), testParams())
	require.NoError(t, err)

	_, err = m.Score(models.Embedding{1, 2, 3})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	_, err = m.Project(models.Embedding{1, 2, 3})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	corpus := syntheticCorpus(1, 200, 12)
	m, err := FitModel(corpus, testParams())
	require.NoError(t, err)

	data, err := m.Encode()
	require.NoError(t, err)

	decoded, err := DecodeModel(data)
	require.NoError(t, err)
	assert.Equal(t, m.Version, decoded.Version)
	assert.Equal(t, m.Threshold, decoded.Threshold)

	for _, e := range syntheticCorpus(5, 25, 12) {
		want, err := m.Score(e)
		require.NoError(t, err)
		got, err := decoded.Score(e)
		require.NoError(t, err)
		assert.Equal(t, want, got, "same model bytes must yield identical scores")

		wantCoords, err := m.Project(e)
		require.NoError(t, err)
		gotCoords, err := decoded.Project(e)
		require.NoError(t, err)
		assert.Equal(t, wantCoords, gotCoords)
	}
}

func TestDecodeModelCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "not json", data: []byte("not a model")},
		{name: "empty object", data: []byte("{}")},
		{name: "truncated", data: []byte(`{"dim": 8, "forest"`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeModel(tt.data)
			assert.ErrorIs(t, err, models.ErrModelCorrupt)
		})
	}
}
