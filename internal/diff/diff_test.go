package diff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `--- a/requirements.txt
+++ b/requirements.txt
@@ -1,3 +1,3 @@
 certifi==2023.7.22
-libfoo==1.0
+libfoo==1.2
 requests==2.31.0
`

func TestParse(t *testing.T) {
	diffs, err := Parse(sampleDiff)
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	d := diffs[0]
	assert.Equal(t, "requirements.txt", d.Path)
	require.Len(t, d.Hunks, 1)

	h := d.Hunks[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, 3, h.OldLines)
	require.Len(t, h.Lines, 4)
	assert.Equal(t, OpDelete, h.Lines[1].Op)
	assert.Equal(t, "libfoo==1.0", h.Lines[1].Text)
	assert.Equal(t, OpAdd, h.Lines[2].Op)
	assert.Equal(t, "libfoo==1.2", h.Lines[2].Text)
}

func TestParse_GitDecorations(t *testing.T) {
	text := "diff --git a/x.py b/x.py\nindex abc..def 100644\n" + strings.ReplaceAll(sampleDiff, "requirements.txt", "x.py")
	diffs, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "x.py", diffs[0].Path)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", ErrEmpty},
		{"no headers", "hello world", ErrMalformed},
		{"missing plus header", "--- a/x\n@@ -1 +1 @@\n-x\n+y\n", ErrMalformed},
		{"line count mismatch", "--- a/x\n+++ b/x\n@@ -1,2 +1,2 @@\n-only\n+one\n", ErrMalformed},
		{"bad hunk header", "--- a/x\n+++ b/x\n@@ nonsense @@\n", ErrMalformed},
		{"hunk before file", "@@ -1 +1 @@\n-x\n+y\n", ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	diffs, err := Parse(sampleDiff)
	require.NoError(t, err)
	assert.Equal(t, sampleDiff, Format(diffs))
}

func TestTargetFiles(t *testing.T) {
	diffs := []FileDiff{{Path: "a.py"}, {Path: "b.py"}, {Path: "a.py"}}
	assert.Equal(t, []string{"a.py", "b.py"}, TargetFiles(diffs))
}

func TestApply(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "requirements.txt")
	original := "certifi==2023.7.22\nlibfoo==1.0\nrequests==2.31.0\n"
	require.NoError(t, os.WriteFile(target, []byte(original), 0o644))

	diffs, err := Parse(sampleDiff)
	require.NoError(t, err)
	require.NoError(t, Apply(dir, diffs))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "certifi==2023.7.22\nlibfoo==1.2\nrequests==2.31.0\n", string(got))
}

func TestApply_ContextMismatch(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "requirements.txt")
	// File drifted since the diff was produced.
	require.NoError(t, os.WriteFile(target, []byte("something==9.9\nelse==1.1\nentirely==0.1\n"), 0o644))

	diffs, err := Parse(sampleDiff)
	require.NoError(t, err)

	err = Apply(dir, diffs)
	assert.ErrorIs(t, err, ErrContextMismatch)

	// File untouched on failure.
	got, _ := os.ReadFile(target)
	assert.Equal(t, "something==9.9\nelse==1.1\nentirely==0.1\n", string(got))
}

func TestApply_MissingFile(t *testing.T) {
	diffs, err := Parse(sampleDiff)
	require.NoError(t, err)
	assert.Error(t, Apply(t.TempDir(), diffs))
}

func TestBuildReplacements(t *testing.T) {
	lines := []string{"certifi==2023.7.22", "libfoo==1.0", "requests==2.31.0"}

	d, err := BuildReplacements("requirements.txt", lines,
		[]Replacement{{LineNumber: 2, Old: "libfoo==1.0", New: "libfoo==1.2"}}, 3)
	require.NoError(t, err)

	assert.Equal(t, sampleDiff, Format([]FileDiff{d}))

	// The built diff round-trips through Parse.
	parsed, err := Parse(Format([]FileDiff{d}))
	require.NoError(t, err)
	assert.Equal(t, []string{"requirements.txt"}, TargetFiles(parsed))
}

func TestBuildReplacements_WrongOldLine(t *testing.T) {
	lines := []string{"libfoo==1.1"}
	_, err := BuildReplacements("requirements.txt", lines,
		[]Replacement{{LineNumber: 1, Old: "libfoo==1.0", New: "libfoo==1.2"}}, 3)
	assert.ErrorIs(t, err, ErrContextMismatch)
}
