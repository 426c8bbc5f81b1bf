package strategy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/eureka/internal/apv"
	"github.com/fyrsmithlabs/eureka/internal/fixstore"
)

const patchSystemPrompt = `You are a security engineer producing minimal, correct fixes for confirmed vulnerabilities.

Rules:
- Respond with exactly one unified diff inside a fenced code block marked diff.
- Touch only the files shown to you.
- Preserve the existing code style and behavior apart from the fix.
- Do not add commentary outside the fenced block.`

// buildPatchPrompt assembles the system and user messages for the patch
// generation call.
func buildPatchPrompt(a *apv.APV, windows []contextWindow, examples []fixstore.FixExample) (system, user string) {
	var b strings.Builder

	fmt.Fprintf(&b, "Vulnerability: %s", a.CVEID)
	if a.CWEID != "" {
		fmt.Fprintf(&b, " (%s)", a.CWEID)
	}
	fmt.Fprintf(&b, ", CVSS %.1f\n", a.CVSSScore)
	if a.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", a.Description)
	}

	for _, w := range windows {
		fmt.Fprintf(&b, "\nFile: %s (vulnerable lines %d-%d, matched pattern %q)\n",
			w.location.FilePath, w.location.StartLine, w.location.EndLine, w.location.Pattern)
		fmt.Fprintf(&b, "Context starting at line %d:\n```\n%s\n```\n", w.fromLine, w.snippet)
	}

	if len(examples) > 0 {
		b.WriteString("\nSimilar fixes applied in the past:\n")
		for _, ex := range examples {
			fmt.Fprintf(&b, "- %s: %s\n", ex.CVEID, ex.Solution)
			if ex.Diff != "" {
				fmt.Fprintf(&b, "```diff\n%s\n```\n", strings.TrimSpace(ex.Diff))
			}
		}
	}

	b.WriteString("\nProduce the unified diff that fixes the vulnerability.")
	return patchSystemPrompt, b.String()
}

var diffFence = regexp.MustCompile("(?s)```(?:diff|patch)?\\s*\n(.*?)```")

// extractDiff pulls the unified diff out of a model response, accepting
// either a fenced block or bare diff text.
func extractDiff(response string) (string, error) {
	if m := diffFence.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]) + "\n", nil
	}

	// Bare diff: find the first file header.
	if idx := strings.Index(response, "--- "); idx >= 0 {
		return strings.TrimSpace(response[idx:]) + "\n", nil
	}
	return "", fmt.Errorf("no unified diff found in model response")
}
