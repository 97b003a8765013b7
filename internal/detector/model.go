package detector

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/promptsentinel/promptsentinel/internal/models"
)

// FitParams control a single fit operation. The same corpus, params, and
// seed always produce a bit-identical model.
type FitParams struct {
	// Contamination is the expected fraction of outliers in (0,1); the
	// decision threshold is this quantile of the fitting corpus scores.
	Contamination float64

	// NumTrees is the ensemble size.
	NumTrees int

	// SampleSize is the per-tree subsample size, capped at the corpus size.
	SampleSize int

	// Seed seeds the fit's randomness source.
	Seed int64
}

// DefaultFitParams is a low-sensitivity tuning: a large ensemble with a very
// small expected outlier fraction, so only the most structurally unusual
// prompts are flagged.
func DefaultFitParams() FitParams {
	return FitParams{
		Contamination: 0.005,
		NumTrees:      200,
		SampleSize:    256,
		Seed:          42,
	}
}

// Model is an immutable fitted anomaly model: the isolation forest, the
// threshold derived from the contamination parameter at fit time, and the
// 2-D projection for visualization. Scoring is a pure read; concurrent use
// requires no locking. Models are published and replaced only as whole
// snapshots by the Lifecycle.
type Model struct {
	Version       string      `json:"version"`
	Dim           int         `json:"dim"`
	Contamination float64     `json:"contamination"`
	Seed          int64       `json:"seed"`
	Threshold     float64     `json:"threshold"`
	CorpusSize    int         `json:"corpus_size"`
	FittedAt      time.Time   `json:"fitted_at"`
	Forest        *forest     `json:"forest"`
	Projection    *projection `json:"projection"`
}

// FitModel fits a new model over a corpus of reference embeddings. The
// threshold is fixed here as the contamination-quantile of the corpus's own
// scores and never recomputed per query.
func FitModel(corpus []models.Embedding, p FitParams) (*Model, error) {
	// A one-point sample has an expected path length of zero, which turns
	// every score into NaN and NaN comparisons disable the threshold.
	if len(corpus) < 2 {
		return nil, fmt.Errorf("fit: corpus needs at least 2 embeddings, got %d", len(corpus))
	}
	if p.Contamination <= 0 || p.Contamination >= 1 {
		return nil, fmt.Errorf("fit: contamination %v outside (0,1)", p.Contamination)
	}
	if p.NumTrees <= 0 {
		return nil, fmt.Errorf("fit: num_trees must be positive")
	}
	if p.SampleSize < 2 {
		return nil, fmt.Errorf("fit: sample_size must be at least 2")
	}
	dim := len(corpus[0])
	if dim == 0 {
		return nil, fmt.Errorf("fit: zero-dimension embeddings")
	}
	for i, e := range corpus {
		if len(e) != dim {
			return nil, fmt.Errorf("fit: corpus embedding %d has dim %d, want %d: %w",
				i, len(e), dim, models.ErrDimensionMismatch)
		}
	}

	rng := rand.New(rand.NewSource(p.Seed))
	f := buildForest(rng, corpus, p.NumTrees, p.SampleSize)

	scores := make([]float64, len(corpus))
	for i, e := range corpus {
		scores[i] = f.score(e)
	}
	sort.Float64s(scores)
	idx := int(p.Contamination * float64(len(scores)))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	threshold := scores[idx]

	return &Model{
		Version:       uuid.NewString(),
		Dim:           dim,
		Contamination: p.Contamination,
		Seed:          p.Seed,
		Threshold:     threshold,
		CorpusSize:    len(corpus),
		FittedAt:      time.Now().UTC(),
		Forest:        f,
		Projection:    fitProjection(corpus),
	}, nil
}

// Score returns the anomaly score for an embedding of the model's dimension.
// Lower scores are more anomalous.
func (m *Model) Score(e models.Embedding) (float64, error) {
	if len(e) != m.Dim {
		return 0, fmt.Errorf("score: got dim %d, model fitted at %d: %w",
			len(e), m.Dim, models.ErrDimensionMismatch)
	}
	return m.Forest.score(e), nil
}

// Project returns the embedding's 2-D plot coordinates under the model's
// fitted projection.
func (m *Model) Project(e models.Embedding) ([]float64, error) {
	if len(e) != m.Dim {
		return nil, fmt.Errorf("project: got dim %d, model fitted at %d: %w",
			len(e), m.Dim, models.ErrDimensionMismatch)
	}
	return m.Projection.project(e), nil
}

// Info summarizes the model for the lifecycle/status API.
func (m *Model) Info() models.ModelInfo {
	return models.ModelInfo{
		State:         models.ModelStateReady,
		Version:       m.Version,
		Dim:           m.Dim,
		Contamination: m.Contamination,
		Threshold:     m.Threshold,
		CorpusSize:    m.CorpusSize,
		Seed:          m.Seed,
		FittedAt:      m.FittedAt,
	}
}

// Encode serializes the model for persistence. Identical model bytes decode
// to a model producing identical scores for identical embeddings.
func (m *Model) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeModel reconstructs a persisted model. Undecodable or structurally
// incomplete bytes are reported as ErrModelCorrupt.
func DecodeModel(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %v: %w", err, models.ErrModelCorrupt)
	}
	if m.Dim <= 0 || m.Forest == nil || len(m.Forest.Trees) == 0 || m.Projection == nil {
		return nil, fmt.Errorf("decode model: incomplete artifact: %w", models.ErrModelCorrupt)
	}
	return &m, nil
}
