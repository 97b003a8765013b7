package detector

import (
	"github.com/promptsentinel/promptsentinel/internal/metrics"
	"github.com/promptsentinel/promptsentinel/internal/models"
)

// Scorer is the read-only scoring facade over the lifecycle's published
// model. Score is a pure read against an immutable snapshot; any number of
// requests may score concurrently.
type Scorer struct {
	lifecycle *Lifecycle
}

// NewScorer creates a scorer bound to a lifecycle.
func NewScorer(lifecycle *Lifecycle) *Scorer {
	return &Scorer{lifecycle: lifecycle}
}

// Score produces the anomaly verdict for one embedding against the current
// model snapshot. Fails with ErrModelNotReady when no model is published and
// ErrDimensionMismatch when the embedding length differs from the fitted
// dimension; neither is retried.
func (s *Scorer) Score(e models.Embedding) (models.AnomalyVerdict, *Model, error) {
	model := s.lifecycle.Current()
	if model == nil {
		return models.AnomalyVerdict{}, nil, models.ErrModelNotReady
	}
	score, err := model.Score(e)
	if err != nil {
		return models.AnomalyVerdict{}, nil, err
	}
	metrics.AnomalyScore.Observe(score)
	return models.AnomalyVerdict{
		Score:       score,
		IsAnomalous: score < model.Threshold,
		Threshold:   model.Threshold,
	}, model, nil
}
