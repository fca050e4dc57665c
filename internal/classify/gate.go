package classify

import (
	"context"
	"log/slog"
)

// Decision is the outcome of running a message through the classifier
type Decision struct {
	IsPriceChange bool
	Confidence    float64
	Reasoning     string
	// Degraded is set when the semantic stage failed and the gate fell
	// back to a negative verdict instead of surfacing the error.
	Degraded bool
	// Advisory carries the Stage A heuristic result for observability.
	Advisory HeuristicResult
}

// Gate combines the heuristic pre-pass with the authoritative semantic
// stage and applies the acceptance threshold
type Gate struct {
	semantic  Semantic
	heuristic *Heuristic
	threshold float64
	logger    *slog.Logger
}

// NewGate creates a classification gate. threshold is the minimum
// confidence for a positive verdict to stand.
func NewGate(semantic Semantic, threshold float64, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		semantic:  semantic,
		heuristic: NewHeuristic(),
		threshold: threshold,
		logger:    logger,
	}
}

// Decide classifies the content. The semantic verdict is authoritative;
// the heuristic result is advisory only and never overrides it. Failures
// of the semantic stage degrade to a negative verdict rather than
// propagating, so one flaky call cannot wedge the pipeline.
func (g *Gate) Decide(ctx context.Context, content Content) Decision {
	advisory := g.heuristic.Scan(content.Subject, content.Body)

	result, err := g.semantic.Classify(ctx, content)
	if err != nil {
		g.logger.Warn("semantic classification failed, treating as not a price change",
			slog.String("sender", content.SenderEmail),
			slog.Any("error", err))
		return Decision{
			IsPriceChange: false,
			Confidence:    0,
			Reasoning:     "classification unavailable: " + err.Error(),
			Degraded:      true,
			Advisory:      advisory,
		}
	}

	confidence := clamp01(result.Confidence)
	accepted := result.IsPriceChange && confidence >= g.threshold

	if result.IsPriceChange && !accepted {
		g.logger.Debug("positive verdict below threshold",
			slog.Float64("confidence", confidence),
			slog.Float64("threshold", g.threshold))
	}
	if advisory.Hit != result.IsPriceChange {
		g.logger.Debug("heuristic and semantic stages disagree",
			slog.Bool("heuristic_hit", advisory.Hit),
			slog.Float64("heuristic_score", advisory.Score),
			slog.Bool("semantic_verdict", result.IsPriceChange))
	}

	return Decision{
		IsPriceChange: accepted,
		Confidence:    confidence,
		Reasoning:     result.Reasoning,
		Advisory:      advisory,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
