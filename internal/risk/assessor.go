// Package risk defines how flag submissions are scored and how scores map to
// risk levels. Scoring itself is delegated to an Assessor; the level
// thresholds and the failure policy live here.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/observability"
)

var ErrAssessmentUnavailable = errors.New("risk assessment unavailable")

const (
	SourceHeuristic = "heuristic"
	SourceHTTP      = "http"
	SourceFailSafe  = "fail_safe"
)

// Input is the flag content an assessor sees.
type Input struct {
	Name              string
	Description       string
	CodeChanges       string
	Scope             string
	RolloutPercentage int
}

type Assessment struct {
	Score          float64
	Reasoning      string
	DetectedIssues []string
	Recommendation string
	Source         string
}

type Assessor interface {
	Assess(ctx context.Context, in Input) (Assessment, error)
}

// LevelForScore maps a 0-100 score onto a risk level.
func LevelForScore(score float64) domain.RiskLevel {
	switch {
	case score < 25:
		return domain.RiskLevelLow
	case score < 50:
		return domain.RiskLevelMedium
	case score < 75:
		return domain.RiskLevelHigh
	default:
		return domain.RiskLevelCritical
	}
}

func Recommendation(level domain.RiskLevel) string {
	switch level {
	case domain.RiskLevelLow:
		return "Routine change; a peer review is sufficient"
	case domain.RiskLevelMedium:
		return "Requires team lead approval"
	case domain.RiskLevelHigh:
		return "Requires senior engineer approval before rollout"
	default:
		return "Requires security lead approval and a full security review"
	}
}

// Result is the outcome of a guarded assessment. Level is always set.
type Result struct {
	Assessment
	Level    domain.RiskLevel
	FailSafe bool
	Cause    error
}

// Guarded runs an Assessor under a hard timeout and converts every failure
// into a critical fail-safe result, so callers never see an error.
type Guarded struct {
	assessor Assessor
	timeout  time.Duration
	logger   *slog.Logger
}

func NewGuarded(assessor Assessor, timeout time.Duration, logger *slog.Logger) *Guarded {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{assessor: assessor, timeout: timeout, logger: logger}
}

type outcome struct {
	assessment Assessment
	err        error
}

func (g *Guarded) Assess(ctx context.Context, in Input) Result {
	if g.assessor == nil {
		return g.failSafe(ctx, in, fmt.Errorf("%w: no assessor configured", ErrAssessmentUnavailable))
	}
	// The assessor gets its own deadline; the caller's cancellation does not
	// abort a submission half way.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: assessor panic: %v", ErrAssessmentUnavailable, r)}
			}
		}()
		a, err := g.assessor.Assess(actx, in)
		done <- outcome{assessment: a, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return g.failSafe(ctx, in, fmt.Errorf("%w: %w", ErrAssessmentUnavailable, out.err))
		}
		a := out.assessment
		if math.IsNaN(a.Score) || math.IsInf(a.Score, 0) {
			return g.failSafe(ctx, in, fmt.Errorf("%w: score is not a number", ErrAssessmentUnavailable))
		}
		a.Score = math.Max(0, math.Min(100, a.Score))
		level := LevelForScore(a.Score)
		if a.Recommendation == "" {
			a.Recommendation = Recommendation(level)
		}
		if len(a.DetectedIssues) == 0 {
			a.DetectedIssues = []string{"routine_change"}
		}
		observability.RecordRiskAssessment(ctx, a.Source, string(level))
		return Result{Assessment: a, Level: level}
	case <-actx.Done():
		return g.failSafe(ctx, in, fmt.Errorf("%w: %w", ErrAssessmentUnavailable, actx.Err()))
	}
}

func (g *Guarded) failSafe(ctx context.Context, in Input, cause error) Result {
	g.logger.WarnContext(ctx, "risk assessment failed, escalating to critical",
		"flag_name", in.Name,
		"error", cause,
	)
	observability.RecordRiskAssessment(ctx, SourceFailSafe, string(domain.RiskLevelCritical))
	return Result{
		Assessment: FailSafeAssessment(cause),
		Level:      domain.RiskLevelCritical,
		FailSafe:   true,
		Cause:      cause,
	}
}

// FailSafeAssessment is recorded when no real assessment could be obtained.
func FailSafeAssessment(cause error) Assessment {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	return Assessment{
		Score:          100,
		Reasoning:      "Automatic risk assessment failed (" + reason + "); treated as critical so the change still gets the most senior review.",
		DetectedIssues: []string{"assessment_unavailable"},
		Recommendation: Recommendation(domain.RiskLevelCritical),
		Source:         SourceFailSafe,
	}
}
