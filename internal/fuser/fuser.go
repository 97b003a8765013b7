// Package fuser combines the rule prefilter, the statistical detector and
// the semantic judge into one final allow/block decision per prompt.
//
// Responsibilities:
//   - Run the layers in fixed order: rules, then embedding plus anomaly
//     scoring, then (only for anomalous prompts) the judge
//   - Short-circuit clean prompts without ever invoking the judge
//   - Let a judge "safe" verdict override a statistical block
//   - Resolve judge failures through the configured fail mode
//   - Stamp every decision with the model version that scored it
//
// Evaluation is stateless with respect to other prompts: concurrent calls
// share nothing but the immutable model snapshot and the judge cache.
package fuser

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promptsentinel/promptsentinel/internal/detector"
	"github.com/promptsentinel/promptsentinel/internal/embedder"
	"github.com/promptsentinel/promptsentinel/internal/judge"
	"github.com/promptsentinel/promptsentinel/internal/metrics"
	"github.com/promptsentinel/promptsentinel/internal/models"
)

// FailMode selects the outcome for an anomalous prompt when the judge
// cannot be reached.
type FailMode string

const (
	// FailClosed blocks when the judge is unavailable. This is the default:
	// an unreviewed anomaly never passes.
	FailClosed FailMode = "closed"

	// FailOpen allows when the judge is unavailable. Operators choose this
	// only when availability outweighs the risk of letting a statistical
	// false positive's true sibling through.
	FailOpen FailMode = "open"
)

// ParseFailMode validates an operator-supplied fail mode string.
func ParseFailMode(s string) (FailMode, error) {
	switch FailMode(s) {
	case FailClosed, FailOpen:
		return FailMode(s), nil
	default:
		return "", fmt.Errorf("invalid fail mode %q (want %q or %q)", s, FailClosed, FailOpen)
	}
}

// Fuser renders final decisions.
type Fuser struct {
	rules        *RuleFilter
	embedder     embedder.Embedder
	scorer       *detector.Scorer
	judge        judge.Judge
	judgeTimeout time.Duration
	log          *zap.Logger

	// failMode is reloadable at runtime without pausing evaluation.
	failMode atomic.Value // FailMode
}

// New wires a fuser. judgeTimeout bounds each judge consultation
// independently of the request context.
func New(rules *RuleFilter, emb embedder.Embedder, scorer *detector.Scorer, j judge.Judge, failMode FailMode, judgeTimeout time.Duration, log *zap.Logger) *Fuser {
	f := &Fuser{
		rules:        rules,
		embedder:     emb,
		scorer:       scorer,
		judge:        j,
		judgeTimeout: judgeTimeout,
		log:          log,
	}
	f.failMode.Store(failMode)
	return f
}

// FailMode returns the current fail mode.
func (f *Fuser) FailMode() FailMode {
	return f.failMode.Load().(FailMode)
}

// SetFailMode swaps the fail mode. In-flight evaluations that already
// resolved a judge failure keep the mode they observed.
func (f *Fuser) SetFailMode(mode FailMode) {
	f.failMode.Store(mode)
}

// Evaluate runs one prompt through the full pipeline and returns its
// decision.
//
// Errors (no decision is produced):
//   - models.ErrModelNotReady when no detector model is published
//   - models.ErrDimensionMismatch when the embedding length differs from
//     the fitted dimension
//   - models.ErrEmbeddingService when the embedding provider failed
//   - ctx.Err() when the caller's context ends before a decision is final
//
// Judge failures are not errors: they resolve through the fail mode into a
// BLOCKED_JUDGE_UNAVAILABLE or ALLOWED_JUDGE_UNAVAILABLE decision.
func (f *Fuser) Evaluate(ctx context.Context, promptText string) (*models.Decision, error) {
	start := time.Now()
	d, err := f.evaluate(ctx, promptText)
	if err != nil {
		return nil, err
	}
	metrics.EvaluateDuration.Observe(time.Since(start).Seconds())
	metrics.DecisionsTotal.WithLabelValues(string(d.Reason)).Inc()
	f.log.Info("decision rendered",
		zap.String("decision_id", d.ID),
		zap.String("reason", string(d.Reason)),
		zap.Bool("allowed", d.FinalAllowed),
		zap.Bool("overridden", d.Overridden),
		zap.Duration("elapsed", time.Since(start)),
	)
	return d, nil
}

func (f *Fuser) evaluate(ctx context.Context, promptText string) (*models.Decision, error) {
	d := &models.Decision{
		ID:          uuid.New().String(),
		Prompt:      promptText,
		EvaluatedAt: time.Now().UTC(),
	}

	if rule, blocked := f.rules.Match(promptText); blocked {
		f.log.Warn("prompt blocked by rule prefilter",
			zap.String("decision_id", d.ID),
			zap.String("rule", rule),
		)
		d.FinalAllowed = false
		d.Reason = models.ReasonBlockedRule
		return d, nil
	}

	e, err := f.embedder.Embed(ctx, promptText)
	if err != nil {
		return nil, err
	}

	verdict, model, err := f.scorer.Score(e)
	if err != nil {
		return nil, err
	}
	d.AnomalyVerdict = &verdict
	d.ModelVersion = model.Version
	// The scorer already validated the dimension against this snapshot.
	if coords, perr := model.Project(e); perr == nil {
		d.PlotCoords = coords
	}

	if !verdict.IsAnomalous {
		d.FinalAllowed = true
		d.Reason = models.ReasonClean
		return d, nil
	}

	jv, err := f.consultJudge(ctx, promptText, verdict.Score)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return f.resolveFailMode(d, err), nil
	}
	d.JudgeVerdict = &jv

	if jv.Allowed {
		d.FinalAllowed = true
		d.Overridden = true
		d.Reason = models.ReasonOverriddenSafe
	} else {
		d.FinalAllowed = false
		d.Reason = models.ReasonBlockedConfirmed
	}
	return d, nil
}

func (f *Fuser) consultJudge(ctx context.Context, promptText string, score float64) (models.JudgeVerdict, error) {
	jctx := ctx
	if f.judgeTimeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, f.judgeTimeout)
		defer cancel()
	}
	return f.judge.Judge(jctx, promptText, score)
}

// resolveFailMode converts a judge failure into a final decision per the
// configured fail mode. Any judge error resolves here, not only
// ErrJudgeUnavailable, so a misbehaving judge implementation cannot wedge
// evaluation.
func (f *Fuser) resolveFailMode(d *models.Decision, judgeErr error) *models.Decision {
	if !errors.Is(judgeErr, models.ErrJudgeUnavailable) {
		f.log.Error("judge returned unexpected error", zap.String("decision_id", d.ID), zap.Error(judgeErr))
	}
	switch f.FailMode() {
	case FailOpen:
		f.log.Warn("judge unavailable, failing open",
			zap.String("decision_id", d.ID),
			zap.Error(judgeErr),
		)
		d.FinalAllowed = true
		d.Reason = models.ReasonAllowedJudgeUnavailable
	default:
		f.log.Warn("judge unavailable, failing closed",
			zap.String("decision_id", d.ID),
			zap.Error(judgeErr),
		)
		d.FinalAllowed = false
		d.Reason = models.ReasonBlockedJudgeUnavailable
	}
	return d
}
