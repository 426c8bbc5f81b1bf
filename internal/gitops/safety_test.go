package gitops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

const manifestDiff = `--- a/requirements.txt
+++ b/requirements.txt
@@ -1,3 +1,3 @@
 requests==2.28.0
-libfoo==1.0
+libfoo==1.2
 flask>=2.0
`

func manifestPatch() *apv.Patch {
	return &apv.Patch{
		ID:          "patch-CVE-2024-12345-20240801T120000",
		Strategy:    "dependency_upgrade",
		Diff:        manifestDiff,
		Confidence:  0.95,
		TargetFiles: []string{"requirements.txt"},
		CreatedAt:   time.Now(),
	}
}

func safetyRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "requirements.txt"),
		[]byte("requests==2.28.0\nlibfoo==1.0\nflask>=2.0\n"), 0o644))
	return root
}

func TestSafetyChecks_PreApplyPasses(t *testing.T) {
	checks := NewSafetyChecks(safetyRepo(t), nil)
	result := checks.PreApply(manifestPatch())
	assert.True(t, result.OK())
	assert.Empty(t, result.Warnings)
}

func TestSafetyChecks_PreApplyFailures(t *testing.T) {
	root := safetyRepo(t)
	checks := NewSafetyChecks(root, nil)

	t.Run("empty patch", func(t *testing.T) {
		result := checks.PreApply(&apv.Patch{})
		assert.False(t, result.OK())
	})

	t.Run("malformed diff", func(t *testing.T) {
		p := manifestPatch()
		p.Diff = "not a diff at all"
		result := checks.PreApply(p)
		assert.False(t, result.OK())
	})

	t.Run("missing target file", func(t *testing.T) {
		p := manifestPatch()
		p.Diff = `--- a/missing.txt
+++ b/missing.txt
@@ -1,1 +1,1 @@
-old
+new
`
		p.TargetFiles = []string{"missing.txt"}
		result := checks.PreApply(p)
		assert.False(t, result.OK())
		assert.Contains(t, result.Failures[0], "does not exist")
	})

	t.Run("path traversal", func(t *testing.T) {
		p := manifestPatch()
		p.Diff = `--- a/../outside.txt
+++ b/../outside.txt
@@ -1,1 +1,1 @@
-old
+new
`
		p.TargetFiles = []string{"../outside.txt"}
		result := checks.PreApply(p)
		assert.False(t, result.OK())
		assert.Contains(t, result.Failures[0], "escapes the repository root")
	})
}

func TestSafetyChecks_PreApplyWarnsOnUndeclaredFile(t *testing.T) {
	root := safetyRepo(t)
	checks := NewSafetyChecks(root, nil)

	p := manifestPatch()
	p.TargetFiles = []string{"somethingelse.txt"}
	result := checks.PreApply(p)
	assert.True(t, result.OK())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "requirements.txt")
}

func TestSafetyChecks_PostApplyMergeMarker(t *testing.T) {
	root := safetyRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "requirements.txt"),
		[]byte("requests==2.28.0\n<<<<<<< HEAD\nlibfoo==1.2\n"), 0o644))

	checks := NewSafetyChecks(root, nil)
	result := checks.PostApply(manifestPatch())
	assert.False(t, result.OK())
	assert.Contains(t, result.Failures[0], "merge conflict marker")
}

func TestSafetyChecks_PostApplyGoSyntax(t *testing.T) {
	root := t.TempDir()
	checks := NewSafetyChecks(root, nil)
	patch := &apv.Patch{ID: "patch-x", TargetFiles: []string{"handler.go"}}

	require.NoError(t, os.WriteFile(filepath.Join(root, "handler.go"),
		[]byte("package web\n\nfunc Handle() {\n"), 0o644))
	result := checks.PostApply(patch)
	assert.False(t, result.OK())
	assert.Contains(t, result.Failures[0], "does not parse as Go")

	require.NoError(t, os.WriteFile(filepath.Join(root, "handler.go"),
		[]byte("package web\n\nfunc Handle() {}\n"), 0o644))
	result = checks.PostApply(patch)
	assert.True(t, result.OK())
}

func TestSafetyChecks_PostApplyMissingFile(t *testing.T) {
	checks := NewSafetyChecks(t.TempDir(), nil)
	result := checks.PostApply(&apv.Patch{ID: "patch-x", TargetFiles: []string{"gone.txt"}})
	assert.False(t, result.OK())
}
