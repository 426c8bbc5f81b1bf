package strategy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
	"github.com/fyrsmithlabs/eureka/internal/diff"
)

// manifestFiles maps ecosystems to the manifest this strategy can edit.
var manifestFiles = map[apv.Ecosystem]string{
	apv.EcosystemPyPI: "requirements.txt",
	apv.EcosystemNPM:  "package.json",
	apv.EcosystemGo:   "go.mod",
}

// DependencyUpgrade bumps an affected package to the minimal fixed version
// in the ecosystem manifest. Deterministic, so it carries the highest
// confidence of all strategies and runs first in DefaultOrder.
type DependencyUpgrade struct {
	repoRoot string
	logger   *zap.Logger
}

// NewDependencyUpgrade creates the strategy for the repository at root.
func NewDependencyUpgrade(root string, logger *zap.Logger) *DependencyUpgrade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DependencyUpgrade{repoRoot: root, logger: logger}
}

// Name implements Strategy.
func (d *DependencyUpgrade) Name() string { return NameDependencyUpgrade }

// EstimateComplexity implements Strategy. Manifest bumps are trivial.
func (d *DependencyUpgrade) EstimateComplexity(*apv.APV) apv.Complexity {
	return apv.ComplexityTrivial
}

// CanHandle accepts APVs with a released fix and a recognizable manifest
// declaring the affected package.
func (d *DependencyUpgrade) CanHandle(a *apv.APV, _ *apv.ConfirmationResult) bool {
	if !a.HasFixedVersion() {
		return false
	}
	for _, pkg := range a.AffectedPackages {
		if len(pkg.FixedVersions) == 0 {
			continue
		}
		if _, _, err := d.findDeclaration(pkg); err == nil {
			return true
		}
	}
	return false
}

// Apply emits a Patch whose diff touches only the manifest file.
func (d *DependencyUpgrade) Apply(_ context.Context, a *apv.APV, _ *apv.ConfirmationResult) (*Outcome, error) {
	for _, pkg := range a.AffectedPackages {
		if len(pkg.FixedVersions) == 0 {
			continue
		}

		decl, manifest, err := d.findDeclaration(pkg)
		if err != nil {
			d.logger.Debug("no manifest declaration",
				zap.String("package", pkg.Name),
				zap.String("ecosystem", string(pkg.Ecosystem)),
				zap.Error(err),
			)
			continue
		}

		target, err := minimalFixedVersion(pkg.Ecosystem, decl.version, pkg.FixedVersions)
		if err != nil {
			return nil, &NotApplicableError{
				Strategy: d.Name(),
				Reason:   fmt.Sprintf("package %s: %v", pkg.Name, err),
			}
		}

		fileDiff, err := diff.BuildReplacements(manifest, decl.lines, []diff.Replacement{{
			LineNumber: decl.lineNumber,
			Old:        decl.line,
			New:        decl.rewrite(target),
		}}, 3)
		if err != nil {
			return nil, &FailedError{Strategy: d.Name(), Err: err}
		}

		patch := &apv.Patch{
			ID:          newPatchID(a.CVEID),
			Strategy:    d.Name(),
			Diff:        diff.Format([]diff.FileDiff{fileDiff}),
			Confidence:  0.95,
			TargetFiles: []string{manifest},
			CreatedAt:   time.Now(),
		}

		d.logger.Info("dependency upgrade prepared",
			zap.String("apv_id", a.ID),
			zap.String("package", pkg.Name),
			zap.String("from", decl.version),
			zap.String("to", target),
			zap.String("manifest", manifest),
		)

		return &Outcome{
			Patch:   patch,
			Summary: fmt.Sprintf("Upgrade %s from %s to %s in %s", pkg.Name, decl.version, target, manifest),
		}, nil
	}

	return nil, &NotApplicableError{
		Strategy: d.Name(),
		Reason:   "no manifest found or no fixed version exists",
	}
}

// declaration is one located package entry in a manifest.
type declaration struct {
	lines      []string
	lineNumber int // 1-based
	line       string
	version    string
	rewrite    func(newVersion string) string
}

// findDeclaration locates pkg in its ecosystem manifest under the repo root.
func (d *DependencyUpgrade) findDeclaration(pkg apv.AffectedPackage) (*declaration, string, error) {
	manifest, ok := manifestFiles[pkg.Ecosystem]
	if !ok {
		return nil, "", fmt.Errorf("unsupported ecosystem %q", pkg.Ecosystem)
	}

	path := filepath.Join(d.repoRoot, manifest)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("manifest %s: %w", manifest, err)
	}

	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	for i, line := range lines {
		decl := matchDeclaration(pkg, line)
		if decl == nil {
			continue
		}
		decl.lines = lines
		decl.lineNumber = i + 1
		decl.line = line
		return decl, manifest, nil
	}
	return nil, "", fmt.Errorf("package %s not declared in %s", pkg.Name, manifest)
}

// matchDeclaration parses one manifest line for the package, returning the
// current version and a rewriter preserving the line's formatting.
func matchDeclaration(pkg apv.AffectedPackage, line string) *declaration {
	switch pkg.Ecosystem {
	case apv.EcosystemPyPI:
		re := regexp.MustCompile(`^(\s*` + regexp.QuoteMeta(pkg.Name) + `\s*(?:==|>=|~=)\s*)([A-Za-z0-9_.\-+]+)(.*)$`)
		m := re.FindStringSubmatch(line)
		if m == nil {
			return nil
		}
		return &declaration{
			version: m[2],
			rewrite: func(v string) string { return m[1] + v + m[3] },
		}

	case apv.EcosystemNPM:
		re := regexp.MustCompile(`^(\s*"` + regexp.QuoteMeta(pkg.Name) + `"\s*:\s*"([~^]?))([0-9][A-Za-z0-9_.\-+]*)(".*)$`)
		m := re.FindStringSubmatch(line)
		if m == nil {
			return nil
		}
		return &declaration{
			version: m[3],
			rewrite: func(v string) string { return m[1] + v + m[4] },
		}

	case apv.EcosystemGo:
		re := regexp.MustCompile(`^(\s*(?:require\s+)?` + regexp.QuoteMeta(pkg.Name) + `\s+v)([0-9][A-Za-z0-9_.\-+]*)(.*)$`)
		m := re.FindStringSubmatch(line)
		if m == nil {
			return nil
		}
		return &declaration{
			version: m[2],
			rewrite: func(v string) string { return m[1] + strings.TrimPrefix(v, "v") + m[3] },
		}
	}
	return nil
}

// newPatchID derives a patch identifier from the CVE plus a timestamp.
func newPatchID(cveID string) string {
	return fmt.Sprintf("patch-%s-%s", cveID, time.Now().UTC().Format("20060102T150405"))
}
