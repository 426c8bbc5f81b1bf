package gitops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
	"github.com/fyrsmithlabs/eureka/internal/config"
	"github.com/fyrsmithlabs/eureka/internal/diff"
)

// BranchPrefix is the deterministic prefix for remediation branches.
const BranchPrefix = "remediation/"

// OperationsConfig configures local repository automation.
type OperationsConfig struct {
	RemoteName  string
	AuthorName  string
	AuthorEmail string

	// Token authenticates pushes over HTTPS. Unset means the remote needs
	// no auth (local or ssh-agent remotes).
	Token config.Secret

	// PushTimeout bounds one push. Default 2 minutes.
	PushTimeout time.Duration
}

func (c *OperationsConfig) applyDefaults() {
	if c.RemoteName == "" {
		c.RemoteName = "origin"
	}
	if c.AuthorName == "" {
		c.AuthorName = "eureka"
	}
	if c.AuthorEmail == "" {
		c.AuthorEmail = "eureka@localhost"
	}
	if c.PushTimeout == 0 {
		c.PushTimeout = 2 * time.Minute
	}
}

// Operations drives the branch/apply/commit/push sequence on a local clone.
//
// Every pre-push failure rolls the working tree and HEAD back to their
// pre-change state and discards the remediation branch, so no partial
// commits survive a failure.
type Operations struct {
	repoRoot string
	cfg      OperationsConfig
	safety   *SafetyChecks
	logger   *zap.Logger
}

// NewOperations creates git automation for the clone at root.
func NewOperations(root string, cfg OperationsConfig, logger *zap.Logger) *Operations {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Operations{
		repoRoot: root,
		cfg:      cfg,
		safety:   NewSafetyChecks(root, logger),
		logger:   logger,
	}
}

// BranchName derives the deterministic remediation branch for a CVE.
func BranchName(cveID string) string {
	return BranchPrefix + cveID
}

// ApplyAndPush validates the patch, applies it on an isolated branch,
// commits, and pushes. It returns the pushed branch name. On any failure
// before the push completes the branch is rolled back and discarded.
func (o *Operations) ApplyAndPush(ctx context.Context, a *apv.APV, patch *apv.Patch) (string, error) {
	if pre := o.safety.PreApply(patch); !pre.OK() {
		return "", fmt.Errorf("pre-apply safety checks failed: %s", strings.Join(pre.Failures, "; "))
	}

	repo, err := git.PlainOpen(o.repoRoot)
	if err != nil {
		return "", fmt.Errorf("opening repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}

	branch := BranchName(a.CVEID)
	branchRef := plumbing.NewBranchReferenceName(branch)

	// A leftover branch from an earlier delivery of the same APV is stale.
	if _, err := repo.Reference(branchRef, false); err == nil {
		if err := repo.Storer.RemoveReference(branchRef); err != nil {
			return "", fmt.Errorf("removing stale branch %s: %w", branch, err)
		}
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
		return "", fmt.Errorf("creating branch %s: %w", branch, err)
	}

	rollback := func(stage string, cause error) error {
		if rbErr := o.rollback(repo, wt, head, branchRef); rbErr != nil {
			o.logger.Error("rollback failed",
				zap.String("branch", branch),
				zap.Error(rbErr),
			)
			return fmt.Errorf("%s: %w (rollback also failed: %v)", stage, cause, rbErr)
		}
		o.logger.Info("branch rolled back",
			zap.String("branch", branch),
			zap.String("stage", stage),
		)
		return fmt.Errorf("%s: %w", stage, cause)
	}

	parsed, err := diff.Parse(patch.Diff)
	if err != nil {
		return "", rollback("parsing diff", err)
	}
	if err := diff.Apply(o.repoRoot, parsed); err != nil {
		return "", rollback("applying patch", err)
	}

	if post := o.safety.PostApply(patch); !post.OK() {
		return "", rollback("post-apply safety checks", fmt.Errorf("%s", strings.Join(post.Failures, "; ")))
	}

	for _, target := range patch.TargetFiles {
		if _, err := wt.Add(target); err != nil {
			return "", rollback("staging "+target, err)
		}
	}

	commitHash, err := wt.Commit(commitMessage(a, patch), &git.CommitOptions{
		Author: &object.Signature{
			Name:  o.cfg.AuthorName,
			Email: o.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", rollback("committing", err)
	}

	pushCtx, cancel := context.WithTimeout(ctx, o.cfg.PushTimeout)
	defer cancel()
	if err := repo.PushContext(pushCtx, &git.PushOptions{
		RemoteName: o.cfg.RemoteName,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("%s:%s", branchRef, branchRef)),
		},
		Auth: o.auth(),
	}); err != nil {
		return "", rollback("pushing "+branch, err)
	}

	// Leave the clone on its original branch for the next APV.
	if err := wt.Checkout(&git.CheckoutOptions{Branch: head.Name()}); err != nil {
		return "", fmt.Errorf("returning to %s after push: %w", head.Name().Short(), err)
	}

	o.logger.Info("remediation branch pushed",
		zap.String("apv_id", a.ID),
		zap.String("branch", branch),
		zap.String("commit", commitHash.String()),
		zap.Strings("files", patch.TargetFiles),
	)
	return branch, nil
}

// Rollback discards an unmerged remediation branch and restores HEAD. It is
// exposed for callers that need to abandon a branch after a push succeeded.
func (o *Operations) Rollback(cveID string) error {
	repo, err := git.PlainOpen(o.repoRoot)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolving HEAD: %w", err)
	}
	return o.rollback(repo, wt, head, plumbing.NewBranchReferenceName(BranchName(cveID)))
}

// rollback discards uncommitted changes, returns HEAD to its pre-change
// position, and deletes the remediation branch.
func (o *Operations) rollback(repo *git.Repository, wt *git.Worktree, original *plumbing.Reference, branchRef plumbing.ReferenceName) error {
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: original.Hash()}); err != nil {
		return fmt.Errorf("hard reset: %w", err)
	}
	if original.Name().IsBranch() {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: original.Name()}); err != nil {
			return fmt.Errorf("checkout %s: %w", original.Name().Short(), err)
		}
	}
	if _, err := repo.Reference(branchRef, false); err == nil {
		if err := repo.Storer.RemoveReference(branchRef); err != nil {
			return fmt.Errorf("removing branch ref: %w", err)
		}
	}
	return nil
}

// auth returns nil for remotes needing no credentials; a typed nil would
// make go-git attempt empty-credential auth.
func (o *Operations) auth() transport.AuthMethod {
	if !o.cfg.Token.IsSet() {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: o.cfg.Token.Value()}
}

// commitMessage renders the structured commit for a remediation.
func commitMessage(a *apv.APV, patch *apv.Patch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "fix(security): remediate %s\n\n", a.CVEID)
	if a.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", a.Description)
	}
	fmt.Fprintf(&b, "Strategy: %s\n", patch.Strategy)
	fmt.Fprintf(&b, "Confidence: %.2f\n", patch.Confidence)
	fmt.Fprintf(&b, "Severity: %s (CVSS %.1f)\n", a.EffectiveSeverity(), a.CVSSScore)
	fmt.Fprintf(&b, "Patch-Id: %s\n", patch.ID)
	return b.String()
}
