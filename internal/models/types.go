// Package models defines the core data types shared across promptsentinel.
//
// These types are used by the detector, the judge, the decision fuser, the
// persistence layer and the REST API. All verdict types are immutable once
// produced: components construct them and hand them off, never mutate them.
package models

import "time"

// Embedding is a fixed-length numeric vector representation of a prompt,
// produced by an external embedding model. Embeddings from different model
// versions are not comparable; the fitted detector model pins the dimension.
type Embedding []float64

// ReasonCode is the closed enumeration of final decision explanations.
type ReasonCode string

const (
	// ReasonClean: not anomalous; fast path, judge never invoked.
	ReasonClean ReasonCode = "CLEAN"

	// ReasonOverriddenSafe: anomalous, but the judge deemed the prompt
	// benign and converted the block into an allow.
	ReasonOverriddenSafe ReasonCode = "OVERRIDDEN_SAFE"

	// ReasonBlockedConfirmed: anomalous and the judge confirmed intent.
	ReasonBlockedConfirmed ReasonCode = "BLOCKED_CONFIRMED"

	// ReasonBlockedJudgeUnavailable: anomalous, judge unreachable or timed
	// out, and fail mode is "closed".
	ReasonBlockedJudgeUnavailable ReasonCode = "BLOCKED_JUDGE_UNAVAILABLE"

	// ReasonAllowedJudgeUnavailable: anomalous, judge unreachable, and the
	// operator configured fail mode "open".
	ReasonAllowedJudgeUnavailable ReasonCode = "ALLOWED_JUDGE_UNAVAILABLE"

	// ReasonBlockedRule: the banned-phrase prefilter matched; the
	// statistical layer and the judge never ran.
	ReasonBlockedRule ReasonCode = "BLOCKED_RULE"
)

// AnomalyVerdict is the statistical layer's output for one embedding.
// Score is unbounded with lower values meaning more anomalous; Threshold is
// the value the fitted model derived from its contamination parameter, fixed
// at fit time.
type AnomalyVerdict struct {
	Score       float64 `json:"score"`
	IsAnomalous bool    `json:"is_anomalous"`
	Threshold   float64 `json:"threshold"`
}

// JudgeVerdict is the semantic layer's output for one judged prompt.
type JudgeVerdict struct {
	Allowed   bool   `json:"allowed"`
	Rationale string `json:"rationale"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// Decision is the final output record for one evaluated prompt.
//
// Invariants:
//   - Overridden == true implies AnomalyVerdict.IsAnomalous == true and
//     JudgeVerdict != nil with JudgeVerdict.Allowed == true.
//   - JudgeVerdict is present only when the judge was invoked.
//   - AnomalyVerdict is present unless the rule prefilter blocked the prompt
//     before the statistical layer ran (ReasonBlockedRule).
type Decision struct {
	ID             string          `json:"id"`
	Prompt         string          `json:"prompt"`
	FinalAllowed   bool            `json:"final_allowed"`
	Overridden     bool            `json:"overridden"`
	Reason         ReasonCode      `json:"reason"`
	AnomalyVerdict *AnomalyVerdict `json:"anomaly_verdict,omitempty"`
	JudgeVerdict   *JudgeVerdict   `json:"judge_verdict,omitempty"`

	// PlotCoords are the prompt embedding's 2-D projection through the
	// fitted model's projection, for the external cluster visualization.
	PlotCoords []float64 `json:"plot_coords,omitempty"`

	ModelVersion string    `json:"model_version,omitempty"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// PlotRecord is the read-only record exposed per decision to the
// visualization consumer. The core performs no projection rendering itself.
type PlotRecord struct {
	DecisionID   string    `json:"decision_id"`
	Coords       []float64 `json:"coords"`
	Score        float64   `json:"score"`
	IsAnomalous  bool      `json:"is_anomalous"`
	FinalAllowed bool      `json:"final_allowed"`
	Overridden   bool      `json:"overridden"`
}

// ModelState is the lifecycle state of the detector's statistical model.
type ModelState string

const (
	ModelStateUnfitted ModelState = "UNFITTED"
	ModelStateReady    ModelState = "READY"
)

// ModelInfo describes the currently published detector model, if any.
type ModelInfo struct {
	State         ModelState `json:"state"`
	Version       string     `json:"version,omitempty"`
	Dim           int        `json:"dim,omitempty"`
	Contamination float64    `json:"contamination,omitempty"`
	Threshold     float64    `json:"threshold,omitempty"`
	CorpusSize    int        `json:"corpus_size,omitempty"`
	Seed          int64      `json:"seed,omitempty"`
	FittedAt      time.Time  `json:"fitted_at,omitempty"`
}

// PlotRecordFromDecision derives the visualization record for a decision.
// Returns nil for decisions that never reached the statistical layer.
func PlotRecordFromDecision(d *Decision) *PlotRecord {
	if d == nil || d.AnomalyVerdict == nil {
		return nil
	}
	return &PlotRecord{
		DecisionID:   d.ID,
		Coords:       d.PlotCoords,
		Score:        d.AnomalyVerdict.Score,
		IsAnomalous:  d.AnomalyVerdict.IsAnomalous,
		FinalAllowed: d.FinalAllowed,
		Overridden:   d.Overridden,
	}
}
