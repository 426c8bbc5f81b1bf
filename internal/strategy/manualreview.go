package strategy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

// ManualReview is the terminal fallback. It handles everything, produces no
// patch, and flags the APV for human attention so the selector never leaves
// an APV unhandled.
type ManualReview struct {
	logger *zap.Logger
}

// NewManualReview creates the fallback strategy.
func NewManualReview(logger *zap.Logger) *ManualReview {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManualReview{logger: logger}
}

// Name implements Strategy.
func (m *ManualReview) Name() string { return NameManualReview }

// EstimateComplexity implements Strategy.
func (m *ManualReview) EstimateComplexity(a *apv.APV) apv.Complexity {
	if a.Complexity != "" {
		return a.Complexity
	}
	return apv.ComplexityComplex
}

// CanHandle always accepts.
func (m *ManualReview) CanHandle(*apv.APV, *apv.ConfirmationResult) bool { return true }

// Apply flags the APV for human review.
func (m *ManualReview) Apply(_ context.Context, a *apv.APV, _ *apv.ConfirmationResult) (*Outcome, error) {
	m.logger.Info("escalating to manual review",
		zap.String("apv_id", a.ID),
		zap.String("cve_id", a.CVEID),
		zap.Float64("cvss", a.CVSSScore),
	)
	return &Outcome{
		Escalated: true,
		Summary:   fmt.Sprintf("%s escalated for manual review", a.CVEID),
	}, nil
}
