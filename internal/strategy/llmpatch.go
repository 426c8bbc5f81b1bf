package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/eureka/internal/apv"
	"github.com/fyrsmithlabs/eureka/internal/cost"
	"github.com/fyrsmithlabs/eureka/internal/diff"
	"github.com/fyrsmithlabs/eureka/internal/fixstore"
	"github.com/fyrsmithlabs/eureka/internal/metrics"
)

// ExampleSource retrieves historical fix examples for prompt grounding.
type ExampleSource interface {
	Similar(ctx context.Context, query string, k int) ([]fixstore.FixExample, error)
}

// LLMPatchConfig configures the generative patch strategy.
type LLMPatchConfig struct {
	// Model is the model name passed to the provider and the cost tracker.
	Model string
	// Temperature for generation. Default 0.1 for determinism.
	Temperature float64
	// MaxTokens for the completion. Default 2048.
	MaxTokens int
	// ContextLines read around each vulnerable location. Default 20.
	ContextLines int
	// MaxLocations bounds how many locations go into one prompt. Default 3.
	MaxLocations int
	// MaxExamples bounds retrieved fix examples. Default 2.
	MaxExamples int
	// RequestsPerMinute smooths calls to the provider. Default 10.
	RequestsPerMinute int
}

func (c *LLMPatchConfig) applyDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.ContextLines == 0 {
		c.ContextLines = 20
	}
	if c.MaxLocations == 0 {
		c.MaxLocations = 3
	}
	if c.MaxExamples == 0 {
		c.MaxExamples = 2
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 10
	}
}

// LLMPatch generates a unified diff with a language model.
//
// Every call is budget-gated through the cost tracker: the reservation is
// taken before the request is issued and committed with the provider's
// reported token usage afterwards. Generative output is validated to be a
// syntactically well-formed diff before it leaves the strategy.
type LLMPatch struct {
	model    llms.Model
	cfg      LLMPatchConfig
	tracker  *cost.Tracker
	examples ExampleSource
	limiter  *rate.Limiter
	repoRoot string
	logger   *zap.Logger
}

// NewLLMPatch creates the strategy. examples may be nil when no fix-example
// store is configured.
func NewLLMPatch(model llms.Model, cfg LLMPatchConfig, tracker *cost.Tracker, examples ExampleSource, repoRoot string, logger *zap.Logger) *LLMPatch {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMPatch{
		model:    model,
		cfg:      cfg,
		tracker:  tracker,
		examples: examples,
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1),
		repoRoot: repoRoot,
		logger:   logger,
	}
}

// Name implements Strategy.
func (l *LLMPatch) Name() string { return NameLLMCodePatch }

// EstimateComplexity implements Strategy.
func (l *LLMPatch) EstimateComplexity(a *apv.APV) apv.Complexity {
	if a.Complexity != "" {
		return a.Complexity
	}
	return apv.ComplexityModerate
}

// CanHandle requires positively confirmed vulnerable locations.
func (l *LLMPatch) CanHandle(_ *apv.APV, conf *apv.ConfirmationResult) bool {
	return conf != nil && conf.Confirmed()
}

// Apply assembles the prompt, issues the budget-gated model call, and
// validates the returned diff.
func (l *LLMPatch) Apply(ctx context.Context, a *apv.APV, conf *apv.ConfirmationResult) (*Outcome, error) {
	windows, err := l.readContextWindows(conf)
	if err != nil {
		return nil, &FailedError{Strategy: l.Name(), Err: err}
	}

	var examples []fixstore.FixExample
	if l.examples != nil {
		examples, err = l.examples.Similar(ctx, a.Description, l.cfg.MaxExamples)
		if err != nil {
			// Example retrieval is best-effort; the prompt works without it.
			l.logger.Warn("fix example retrieval failed", zap.Error(err))
		}
	}

	system, user := buildPatchPrompt(a, windows, examples)

	// Budget gate: reserve before the call is issued. A rough 4 bytes per
	// token keeps the estimate conservative.
	estInput := (len(system) + len(user)) / 4
	estimate := l.tracker.Estimate(l.cfg.Model, estInput, l.cfg.MaxTokens)
	reservation, err := l.tracker.Reserve(estimate)
	if err != nil {
		var budget *cost.BudgetExceededError
		if errors.As(err, &budget) {
			return nil, &FailedError{Strategy: l.Name(), Err: budget}
		}
		return nil, &FailedError{Strategy: l.Name(), Err: err}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		reservation.Cancel()
		return nil, &FailedError{Strategy: l.Name(), Err: err}
	}

	resp, err := l.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(schema.ChatMessageTypeSystem, system),
			llms.TextParts(schema.ChatMessageTypeHuman, user),
		},
		llms.WithModel(l.cfg.Model),
		llms.WithTemperature(l.cfg.Temperature),
		llms.WithMaxTokens(l.cfg.MaxTokens),
	)
	if err != nil {
		reservation.Cancel()
		return nil, &FailedError{Strategy: l.Name(), Err: fmt.Errorf("model call: %w", err)}
	}
	if len(resp.Choices) == 0 {
		reservation.Cancel()
		return nil, &FailedError{Strategy: l.Name(), Err: fmt.Errorf("model returned no choices")}
	}

	choice := resp.Choices[0]
	inTokens, outTokens := tokenUsage(choice.GenerationInfo, estInput, l.cfg.MaxTokens)
	reservation.Commit(apv.CostRecord{
		Model:        l.cfg.Model,
		Strategy:     l.Name(),
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Metadata:     map[string]string{"apv_id": a.ID, "cve_id": a.CVEID},
	})
	metrics.AddLLMSpend(l.tracker.Estimate(l.cfg.Model, inTokens, outTokens))

	diffText, err := extractDiff(choice.Content)
	if err != nil {
		return nil, &FailedError{Strategy: l.Name(), Err: err}
	}
	parsed, err := diff.Parse(diffText)
	if err != nil {
		return nil, &FailedError{Strategy: l.Name(), Err: fmt.Errorf("model output is not a valid diff: %w", err)}
	}

	patch := &apv.Patch{
		ID:          newPatchID(a.CVEID),
		Strategy:    l.Name(),
		Diff:        diffText,
		Confidence:  l.confidence(parsed, conf),
		TargetFiles: diff.TargetFiles(parsed),
		CreatedAt:   time.Now(),
	}

	l.logger.Info("llm patch generated",
		zap.String("apv_id", a.ID),
		zap.String("model", l.cfg.Model),
		zap.Int("input_tokens", inTokens),
		zap.Int("output_tokens", outTokens),
		zap.Strings("target_files", patch.TargetFiles),
	)

	return &Outcome{
		Patch:   patch,
		Summary: fmt.Sprintf("Generated patch for %s touching %s", a.CVEID, strings.Join(patch.TargetFiles, ", ")),
	}, nil
}

// contextWindow is source context around one vulnerable location.
type contextWindow struct {
	location apv.VulnerableLocation
	snippet  string
	fromLine int
}

// readContextWindows reads a bounded window of source around each confirmed
// location.
func (l *LLMPatch) readContextWindows(conf *apv.ConfirmationResult) ([]contextWindow, error) {
	locations := conf.Locations
	if len(locations) > l.cfg.MaxLocations {
		locations = locations[:l.cfg.MaxLocations]
	}

	windows := make([]contextWindow, 0, len(locations))
	for _, loc := range locations {
		content, err := os.ReadFile(filepath.Join(l.repoRoot, filepath.FromSlash(loc.FilePath)))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", loc.FilePath, err)
		}
		lines := strings.Split(string(content), "\n")

		from := loc.StartLine - 1 - l.cfg.ContextLines
		if from < 0 {
			from = 0
		}
		to := loc.EndLine + l.cfg.ContextLines
		if to > len(lines) {
			to = len(lines)
		}

		windows = append(windows, contextWindow{
			location: loc,
			snippet:  strings.Join(lines[from:to], "\n"),
			fromLine: from + 1,
		})
	}
	return windows, nil
}

// confidence keeps generative patches in the 0.6 - 0.8 band: baseline 0.7,
// nudged up when every touched file was a confirmed location and down when
// the model wandered into unconfirmed files.
func (l *LLMPatch) confidence(parsed []diff.FileDiff, conf *apv.ConfirmationResult) float64 {
	confirmed := make(map[string]bool, len(conf.Locations))
	for _, loc := range conf.Locations {
		confirmed[loc.FilePath] = true
	}

	allConfirmed := true
	for _, d := range parsed {
		if !confirmed[d.Path] {
			allConfirmed = false
			break
		}
	}
	if allConfirmed {
		return 0.8
	}
	return 0.6
}

// tokenUsage pulls provider-reported token counts out of GenerationInfo,
// falling back to the estimates when the provider omits them.
func tokenUsage(info map[string]any, fallbackIn, fallbackOut int) (int, int) {
	in, out := fallbackIn, fallbackOut
	if v, ok := asInt(info["PromptTokens"]); ok {
		in = v
	}
	if v, ok := asInt(info["CompletionTokens"]); ok {
		out = v
	}
	return in, out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
