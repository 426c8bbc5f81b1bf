package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/eureka/internal/apv"
	"github.com/fyrsmithlabs/eureka/internal/config"
)

// PRCreator opens pull requests for pushed remediation branches.
type PRCreator struct {
	client *github.Client
	cfg    config.GitHubConfig
	retry  *RetryConfig
	logger *zap.Logger
}

// NewPRCreator creates a PR creator with token authentication.
func NewPRCreator(ctx context.Context, cfg config.GitHubConfig, logger *zap.Logger) (*PRCreator, error) {
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	return NewPRCreatorWithClient(github.NewClient(tc), cfg, logger), nil
}

// NewPRCreatorWithClient wires an existing client. Used by tests and by
// callers with custom transports.
func NewPRCreatorWithClient(client *github.Client, cfg config.GitHubConfig, logger *zap.Logger) *PRCreator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	return &PRCreator{client: client, cfg: cfg, retry: DefaultRetryConfig(), logger: logger}
}

// Create opens a pull request for the pushed branch and applies labels
// derived from severity and strategy. It returns the PR's HTML URL.
//
// Failures here do not roll back the branch; a pushed branch with no PR is
// still recoverable by a human.
func (p *PRCreator) Create(ctx context.Context, a *apv.APV, patch *apv.Patch, branch string) (string, error) {
	title := prTitle(a)
	body := prBody(a, patch)

	var pr *github.PullRequest
	_, err := retryGitHubOperation(ctx, p.retry, p.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = p.client.PullRequests.Create(ctx, p.cfg.Owner, p.cfg.Repo, &github.NewPullRequest{
			Title:               github.String(title),
			Head:                github.String(branch),
			Base:                github.String(p.cfg.BaseBranch),
			Body:                github.String(body),
			MaintainerCanModify: github.Bool(true),
		})
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request for %s: %w", branch, err)
	}

	labels := prLabels(a, patch)
	_, err = retryGitHubOperation(ctx, p.retry, p.logger, func() (*github.Response, error) {
		_, resp, err := p.client.Issues.AddLabelsToIssue(ctx, p.cfg.Owner, p.cfg.Repo, pr.GetNumber(), labels)
		return resp, err
	})
	if err != nil {
		// The PR exists; missing labels are not worth failing over.
		p.logger.Warn("labeling pull request failed",
			zap.Int("pr_number", pr.GetNumber()),
			zap.Error(err),
		)
	}

	if len(p.cfg.Reviewers) > 0 {
		_, err = retryGitHubOperation(ctx, p.retry, p.logger, func() (*github.Response, error) {
			_, resp, err := p.client.PullRequests.RequestReviewers(ctx, p.cfg.Owner, p.cfg.Repo, pr.GetNumber(),
				github.ReviewersRequest{Reviewers: p.cfg.Reviewers})
			return resp, err
		})
		if err != nil {
			p.logger.Warn("requesting reviewers failed",
				zap.Int("pr_number", pr.GetNumber()),
				zap.Error(err),
			)
		}
	}

	p.logger.Info("pull request opened",
		zap.String("apv_id", a.ID),
		zap.Int("pr_number", pr.GetNumber()),
		zap.String("url", pr.GetHTMLURL()),
		zap.Strings("labels", labels),
	)
	return pr.GetHTMLURL(), nil
}

func prTitle(a *apv.APV) string {
	return fmt.Sprintf("fix(security): remediate %s (%s)", a.CVEID, a.EffectiveSeverity())
}

// prBody renders the templated pull request description.
func prBody(a *apv.APV, patch *apv.Patch) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Automated remediation for %s\n\n", a.CVEID)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Severity | %s (CVSS %.1f) |\n", a.EffectiveSeverity(), a.CVSSScore)
	if a.CWEID != "" {
		fmt.Fprintf(&b, "| Weakness | %s |\n", a.CWEID)
	}
	fmt.Fprintf(&b, "| Advisory | https://nvd.nist.gov/vuln/detail/%s |\n", a.CVEID)
	fmt.Fprintf(&b, "| Strategy | %s |\n", patch.Strategy)
	fmt.Fprintf(&b, "| Confidence | %.0f%% |\n", patch.Confidence*100)

	if a.Description != "" {
		fmt.Fprintf(&b, "\n### Description\n\n%s\n", a.Description)
	}

	if len(a.AffectedPackages) > 0 {
		b.WriteString("\n### Affected packages\n\n")
		for _, pkg := range a.AffectedPackages {
			fmt.Fprintf(&b, "- `%s` (%s)", pkg.Name, pkg.Ecosystem)
			if len(pkg.FixedVersions) > 0 {
				fmt.Fprintf(&b, " fixed in %s", strings.Join(pkg.FixedVersions, ", "))
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\n### Files changed\n\n")
	for _, f := range patch.TargetFiles {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}

	b.WriteString("\nThis pull request was opened by the eureka remediation pipeline. Review before merging.\n")
	return b.String()
}

// prLabels derives labels from severity and strategy.
func prLabels(a *apv.APV, patch *apv.Patch) []string {
	return []string{
		"security",
		a.SeverityLabel(),
		"strategy:" + patch.Strategy,
	}
}
