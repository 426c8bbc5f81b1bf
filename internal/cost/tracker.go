// Package cost tracks language-model spend and enforces the monthly budget.
//
// The tracker is the one piece of mutable state shared by concurrently
// executing strategies, so the budget check and the charge happen under a
// single lock: a strategy calls Reserve before issuing the model call and
// either commits the reservation with the real token counts or cancels it.
package cost

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

// BudgetExceededError is returned when a reservation would push spend past
// the monthly budget.
type BudgetExceededError struct {
	Budget    float64
	Committed float64
	Requested float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("cost: monthly budget exceeded: budget=%.2f committed=%.2f requested=%.2f",
		e.Budget, e.Committed, e.Requested)
}

// ModelPricing holds per-token prices for one model.
type ModelPricing struct {
	// InputPerToken and OutputPerToken are USD per token.
	InputPerToken  float64
	OutputPerToken float64
}

// Tracker records per-call cost and enforces a hard monthly budget.
type Tracker struct {
	mu sync.Mutex

	budget  float64
	pricing map[string]ModelPricing

	// committed is spend recorded this month; reserved is spend admitted
	// but not yet committed. Both reset on month rollover.
	committed float64
	reserved  float64
	month     time.Time

	records []apv.CostRecord

	logger *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewTracker creates a tracker with the given monthly budget in USD.
func NewTracker(budget float64, pricing map[string]ModelPricing, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		budget:  budget,
		pricing: pricing,
		logger:  logger,
		now:     time.Now,
	}
	t.month = monthOf(t.now())
	return t
}

// Estimate computes the cost of a call with the given token counts.
// Unknown models are priced at zero and logged once committed.
func (t *Tracker) Estimate(model string, inputTokens, outputTokens int) float64 {
	p := t.pricing[model]
	return float64(inputTokens)*p.InputPerToken + float64(outputTokens)*p.OutputPerToken
}

// Reservation is an admitted slice of the monthly budget. Exactly one of
// Commit or Cancel must be called.
type Reservation struct {
	tracker  *Tracker
	estimate float64
	settled  bool
}

// Reserve admits estimate against the budget, or fails with
// *BudgetExceededError. The check and the hold are a single atomic step.
func (t *Tracker) Reserve(estimate float64) (*Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	if t.committed+t.reserved+estimate > t.budget {
		return nil, &BudgetExceededError{
			Budget:    t.budget,
			Committed: t.committed + t.reserved,
			Requested: estimate,
		}
	}
	t.reserved += estimate
	return &Reservation{tracker: t, estimate: estimate}, nil
}

// Commit replaces the reservation's estimate with the actual spend computed
// from the record's token counts and appends the record.
func (r *Reservation) Commit(rec apv.CostRecord) {
	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	t.reserved -= r.estimate

	if rec.Cost == 0 {
		rec.Cost = t.Estimate(rec.Model, rec.InputTokens, rec.OutputTokens)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now()
	}
	t.committed += rec.Cost
	t.records = append(t.records, rec)

	t.logger.Debug("cost committed",
		zap.String("model", rec.Model),
		zap.String("strategy", rec.Strategy),
		zap.Int("input_tokens", rec.InputTokens),
		zap.Int("output_tokens", rec.OutputTokens),
		zap.Float64("cost", rec.Cost),
		zap.Float64("month_to_date", t.committed),
	)
}

// Cancel releases the reservation without recording spend.
func (r *Reservation) Cancel() {
	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	t.reserved -= r.estimate
}

// Summary aggregates recorded spend.
type Summary struct {
	MonthToDate float64            `json:"month_to_date"`
	Budget      float64            `json:"budget"`
	ByDay       map[string]float64 `json:"by_day"`
	ByStrategy  map[string]float64 `json:"by_strategy"`
	ByModel     map[string]float64 `json:"by_model"`
	Calls       int                `json:"calls"`
}

// Summarize aggregates the append-only record log on read.
func (t *Tracker) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	s := Summary{
		MonthToDate: t.committed,
		Budget:      t.budget,
		ByDay:       make(map[string]float64),
		ByStrategy:  make(map[string]float64),
		ByModel:     make(map[string]float64),
		Calls:       len(t.records),
	}
	for _, rec := range t.records {
		s.ByDay[rec.Timestamp.UTC().Format("2006-01-02")] += rec.Cost
		s.ByStrategy[rec.Strategy] += rec.Cost
		s.ByModel[rec.Model] += rec.Cost
	}
	return s
}

// rolloverLocked resets the running totals when a UTC calendar month
// boundary has passed. Caller holds t.mu.
func (t *Tracker) rolloverLocked() {
	current := monthOf(t.now())
	if current.After(t.month) {
		t.month = current
		t.committed = 0
		t.records = nil
	}
}

func monthOf(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
}
