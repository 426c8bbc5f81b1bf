// Package confirm implements two-phase syntactic confirmation of APVs:
// heuristic file discovery followed by precise structural matching through
// the ast-grep subprocess.
package confirm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ErrSearchFailed wraps structural-search subprocess failures. Callers must
// never treat it as a false positive.
var ErrSearchFailed = errors.New("confirm: structural search failed")

// Match is one structural match reported by the searcher.
type Match struct {
	File      string
	StartLine int
	EndLine   int
	Text      string
	Pattern   string
}

// StructuralSearcher is the narrow capability the confirmation engine needs
// from the external pattern-matching tool. Implementations are expected to
// be safe for concurrent use.
type StructuralSearcher interface {
	Search(ctx context.Context, pattern, path, language string) ([]Match, error)
}

// ASTGrepEngine runs the ast-grep binary and parses its JSON output.
type ASTGrepEngine struct {
	binary     string
	timeout    time.Duration
	maxMatches int
	logger     *zap.Logger
}

// ASTGrepConfig configures the engine.
type ASTGrepConfig struct {
	// Binary is the ast-grep executable. Default "ast-grep".
	Binary string
	// Timeout bounds one invocation. Default 30s.
	Timeout time.Duration
	// MaxMatches caps matches parsed per invocation. Default 100.
	MaxMatches int
}

// NewASTGrepEngine creates an engine with defaults applied.
func NewASTGrepEngine(cfg ASTGrepConfig, logger *zap.Logger) *ASTGrepEngine {
	if cfg.Binary == "" {
		cfg.Binary = "ast-grep"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxMatches == 0 {
		cfg.MaxMatches = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ASTGrepEngine{
		binary:     cfg.Binary,
		timeout:    cfg.Timeout,
		maxMatches: cfg.MaxMatches,
		logger:     logger,
	}
}

// astGrepMatch mirrors one element of ast-grep's --json output.
type astGrepMatch struct {
	File  string `json:"file"`
	Text  string `json:"text"`
	Range struct {
		Start struct {
			Line int `json:"line"`
		} `json:"start"`
		End struct {
			Line int `json:"line"`
		} `json:"end"`
	} `json:"range"`
}

// Search invokes ast-grep with a single pattern against path.
//
// Non-zero exit and timeout both surface as ErrSearchFailed; an empty match
// list with exit 0 is a genuine "no match".
func (e *ASTGrepEngine) Search(ctx context.Context, pattern, path, language string) ([]Match, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{"run", "--pattern", pattern, "--json"}
	if language != "" {
		args = append(args, "--lang", language)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: timed out after %s", ErrSearchFailed, e.timeout)
	}
	if err != nil {
		e.logger.Warn("ast-grep invocation failed",
			zap.String("pattern", pattern),
			zap.String("path", path),
			zap.Duration("elapsed", elapsed),
			zap.String("stderr", stderr.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v: %s", ErrSearchFailed, err, stderr.String())
	}

	var raw []astGrepMatch
	if len(bytes.TrimSpace(stdout.Bytes())) > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
			return nil, fmt.Errorf("%w: parsing output: %v", ErrSearchFailed, err)
		}
	}
	if len(raw) > e.maxMatches {
		raw = raw[:e.maxMatches]
	}

	matches := make([]Match, 0, len(raw))
	for _, m := range raw {
		matches = append(matches, Match{
			File: m.File,
			// ast-grep emits 0-based lines.
			StartLine: m.Range.Start.Line + 1,
			EndLine:   m.Range.End.Line + 1,
			Text:      m.Text,
			Pattern:   pattern,
		})
	}

	e.logger.Debug("ast-grep completed",
		zap.String("path", path),
		zap.Int("matches", len(matches)),
		zap.Duration("elapsed", elapsed),
	)
	return matches, nil
}
