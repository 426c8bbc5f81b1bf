package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

// Selector holds the ordered strategy registry.
type Selector struct {
	ordered []Strategy
	logger  *zap.Logger
}

// NewSelector builds a selector from registered strategies and an explicit
// priority order of strategy names. Names missing from the registry are an
// error; registered strategies missing from the order are ignored.
func NewSelector(registry []Strategy, order []string, logger *zap.Logger) (*Selector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	byName := make(map[string]Strategy, len(registry))
	for _, s := range registry {
		byName[s.Name()] = s
	}

	ordered := make([]Strategy, 0, len(order))
	for _, name := range order {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("strategy: order names unregistered strategy %q", name)
		}
		ordered = append(ordered, s)
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("strategy: empty strategy order")
	}

	return &Selector{ordered: ordered, logger: logger}, nil
}

// Select returns the first strategy in priority order whose CanHandle
// accepts the pair, or ErrNoStrategy.
func (s *Selector) Select(a *apv.APV, conf *apv.ConfirmationResult) (Strategy, error) {
	for _, strat := range s.ordered {
		if strat.CanHandle(a, conf) {
			s.logger.Debug("strategy selected",
				zap.String("apv_id", a.ID),
				zap.String("strategy", strat.Name()),
			)
			return strat, nil
		}
	}
	return nil, ErrNoStrategy
}

// After returns the strategies ranked below the given one, preserving
// priority order. Used for fallback when an earlier strategy fails.
func (s *Selector) After(name string, a *apv.APV, conf *apv.ConfirmationResult) []Strategy {
	var rest []Strategy
	found := false
	for _, strat := range s.ordered {
		if found && strat.CanHandle(a, conf) {
			rest = append(rest, strat)
		}
		if strat.Name() == name {
			found = true
		}
	}
	return rest
}

// Ordered exposes the priority order for metrics and diagnostics.
func (s *Selector) Ordered() []string {
	names := make([]string, len(s.ordered))
	for i, strat := range s.ordered {
		names[i] = strat.Name()
	}
	return names
}
