package gitops

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
	"github.com/fyrsmithlabs/eureka/internal/diff"
)

// ValidationResult reports safety check outcomes. Failures block the
// pipeline; warnings are logged and carried along.
type ValidationResult struct {
	Failures []string
	Warnings []string
}

// OK reports whether no failure was recorded.
func (r *ValidationResult) OK() bool { return len(r.Failures) == 0 }

func (r *ValidationResult) failf(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// SafetyChecks validates a patch before and after it is applied to the
// working tree. A failing post-apply check must end in a rollback, never a
// commit.
type SafetyChecks struct {
	repoRoot string
	logger   *zap.Logger
}

// NewSafetyChecks creates checks bound to the repository at root.
func NewSafetyChecks(root string, logger *zap.Logger) *SafetyChecks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SafetyChecks{repoRoot: root, logger: logger}
}

// PreApply validates the patch before it touches the working tree: the diff
// must parse, every target must be an existing file inside the repository,
// and no path may escape the repository root.
func (s *SafetyChecks) PreApply(patch *apv.Patch) *ValidationResult {
	result := &ValidationResult{}

	if patch == nil || patch.Diff == "" {
		result.failf("patch is empty")
		return result
	}

	parsed, err := diff.Parse(patch.Diff)
	if err != nil {
		result.failf("diff does not parse: %v", err)
		return result
	}

	declared := make(map[string]bool, len(patch.TargetFiles))
	for _, f := range patch.TargetFiles {
		declared[f] = true
	}

	for _, fd := range parsed {
		if !declared[fd.Path] {
			result.warnf("diff touches %s which is not in the declared target files", fd.Path)
		}
		if err := s.checkPath(fd.Path); err != nil {
			result.failf("%v", err)
			continue
		}
		abs := filepath.Join(s.repoRoot, filepath.FromSlash(fd.Path))
		info, err := os.Stat(abs)
		if err != nil {
			result.failf("target %s does not exist in the repository", fd.Path)
			continue
		}
		if info.IsDir() {
			result.failf("target %s is a directory", fd.Path)
		}
	}

	s.logResult("pre-apply", patch.ID, result)
	return result
}

// PostApply validates the working tree after the patch landed: touched files
// must be free of merge markers and syntactically valid where a parser is
// available.
func (s *SafetyChecks) PostApply(patch *apv.Patch) *ValidationResult {
	result := &ValidationResult{}

	for _, target := range patch.TargetFiles {
		if err := s.checkPath(target); err != nil {
			result.failf("%v", err)
			continue
		}
		abs := filepath.Join(s.repoRoot, filepath.FromSlash(target))
		content, err := os.ReadFile(abs)
		if err != nil {
			result.failf("reading %s after apply: %v", target, err)
			continue
		}

		if line, ok := findMergeMarker(string(content)); ok {
			result.failf("%s:%d contains a merge conflict marker", target, line)
		}

		if strings.HasSuffix(target, ".go") {
			fset := token.NewFileSet()
			if _, err := parser.ParseFile(fset, abs, content, parser.AllErrors); err != nil {
				result.failf("%s does not parse as Go: %v", target, err)
			}
		}
	}

	s.logResult("post-apply", patch.ID, result)
	return result
}

// checkPath rejects absolute paths and traversal outside the repo root.
func (s *SafetyChecks) checkPath(path string) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("target %s is an absolute path", path)
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("target %s escapes the repository root", path)
	}
	return nil
}

func (s *SafetyChecks) logResult(stage, patchID string, result *ValidationResult) {
	if !result.OK() {
		s.logger.Warn("safety checks failed",
			zap.String("stage", stage),
			zap.String("patch_id", patchID),
			zap.Strings("failures", result.Failures),
		)
		return
	}
	if len(result.Warnings) > 0 {
		s.logger.Info("safety checks passed with warnings",
			zap.String("stage", stage),
			zap.String("patch_id", patchID),
			zap.Strings("warnings", result.Warnings),
		)
	}
}

// findMergeMarker locates the first conflict marker line, if any.
func findMergeMarker(content string) (int, bool) {
	for i, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "<<<<<<<") || strings.HasPrefix(line, ">>>>>>>") {
			return i + 1, true
		}
	}
	return 0, false
}
