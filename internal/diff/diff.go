// Package diff parses, renders, and applies unified diffs.
//
// Strategies emit patches as unified-diff text; safety checks validate the
// format before anything touches the working tree, and git integration
// applies hunks to files on the remediation branch. Parsing is strict:
// malformed hunks are an error, never silently skipped.
package diff

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrEmpty indicates there was nothing to parse.
	ErrEmpty = errors.New("diff: empty input")

	// ErrMalformed indicates structurally invalid diff text.
	ErrMalformed = errors.New("diff: malformed")

	// ErrContextMismatch indicates a hunk does not match the target file.
	ErrContextMismatch = errors.New("diff: context mismatch")
)

// Op is a hunk line operation.
type Op byte

const (
	OpContext Op = ' '
	OpAdd     Op = '+'
	OpDelete  Op = '-'
)

// Line is one line of a hunk.
type Line struct {
	Op   Op
	Text string
}

// Hunk is one contiguous change region.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// FileDiff is the set of hunks touching one file.
type FileDiff struct {
	// Path is relative to the repository root, without a/ b/ prefixes.
	Path  string
	Hunks []Hunk
}

// Parse decodes unified-diff text into per-file hunks.
func Parse(text string) ([]FileDiff, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmpty
	}

	var diffs []FileDiff
	var current *FileDiff
	var hunk *Hunk

	closeHunk := func() error {
		if hunk == nil {
			return nil
		}
		removed, added := 0, 0
		for _, l := range hunk.Lines {
			switch l.Op {
			case OpContext:
				removed++
				added++
			case OpDelete:
				removed++
			case OpAdd:
				added++
			}
		}
		if removed != hunk.OldLines || added != hunk.NewLines {
			return fmt.Errorf("%w: hunk at -%d,+%d has %d/%d lines, header says %d/%d",
				ErrMalformed, hunk.OldStart, hunk.NewStart, removed, added, hunk.OldLines, hunk.NewLines)
		}
		current.Hunks = append(current.Hunks, *hunk)
		hunk = nil
		return nil
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "--- "):
			if err := closeHunk(); err != nil {
				return nil, err
			}
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, fmt.Errorf("%w: missing +++ after --- at line %d", ErrMalformed, i+1)
			}
			path := stripPrefix(strings.TrimPrefix(lines[i+1], "+++ "))
			if path == "" {
				return nil, fmt.Errorf("%w: empty target path at line %d", ErrMalformed, i+2)
			}
			if current != nil {
				diffs = append(diffs, *current)
			}
			current = &FileDiff{Path: path}
			i++ // consume the +++ line

		case strings.HasPrefix(line, "@@ "):
			if current == nil {
				return nil, fmt.Errorf("%w: hunk header before file header at line %d", ErrMalformed, i+1)
			}
			if err := closeHunk(); err != nil {
				return nil, err
			}
			h, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			hunk = h

		case hunk != nil && len(line) > 0 && (line[0] == ' ' || line[0] == '+' || line[0] == '-'):
			hunk.Lines = append(hunk.Lines, Line{Op: Op(line[0]), Text: line[1:]})

		case hunk != nil && line == "":
			// A bare empty line inside a hunk is an empty context line.
			hunk.Lines = append(hunk.Lines, Line{Op: OpContext, Text: ""})

		case strings.HasPrefix(line, "diff ") || strings.HasPrefix(line, "index ") ||
			strings.HasPrefix(line, "new file") || strings.HasPrefix(line, "deleted file") ||
			strings.HasPrefix(line, "\\ No newline"):
			// Git decorations, tolerated.

		case hunk == nil:
			// Prose between files (commit text etc.) is tolerated.

		default:
			return nil, fmt.Errorf("%w: unexpected line %d: %q", ErrMalformed, i+1, line)
		}
	}
	if err := closeHunk(); err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: no file headers found", ErrMalformed)
	}
	diffs = append(diffs, *current)

	for _, d := range diffs {
		if len(d.Hunks) == 0 {
			return nil, fmt.Errorf("%w: file %s has no hunks", ErrMalformed, d.Path)
		}
	}
	return diffs, nil
}

// parseHunkHeader decodes "@@ -oldStart,oldLines +newStart,newLines @@".
func parseHunkHeader(line string) (*Hunk, error) {
	rest := strings.TrimPrefix(line, "@@ ")
	end := strings.Index(rest, " @@")
	if end < 0 {
		return nil, fmt.Errorf("%w: hunk header %q", ErrMalformed, line)
	}
	parts := strings.Fields(rest[:end])
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "-") || !strings.HasPrefix(parts[1], "+") {
		return nil, fmt.Errorf("%w: hunk header %q", ErrMalformed, line)
	}

	oldStart, oldLines, err := parseRange(parts[0][1:])
	if err != nil {
		return nil, fmt.Errorf("%w: hunk header %q: %v", ErrMalformed, line, err)
	}
	newStart, newLines, err := parseRange(parts[1][1:])
	if err != nil {
		return nil, fmt.Errorf("%w: hunk header %q: %v", ErrMalformed, line, err)
	}
	return &Hunk{OldStart: oldStart, OldLines: oldLines, NewStart: newStart, NewLines: newLines}, nil
}

func parseRange(s string) (start, count int, err error) {
	count = 1
	if comma := strings.Index(s, ","); comma >= 0 {
		count, err = strconv.Atoi(s[comma+1:])
		if err != nil {
			return 0, 0, err
		}
		s = s[:comma]
	}
	start, err = strconv.Atoi(s)
	return start, count, err
}

// stripPrefix removes the conventional a/ or b/ prefix and any timestamp.
func stripPrefix(path string) string {
	if tab := strings.IndexByte(path, '\t'); tab >= 0 {
		path = path[:tab]
	}
	path = strings.TrimSpace(path)
	for _, p := range []string{"a/", "b/"} {
		if strings.HasPrefix(path, p) {
			return path[len(p):]
		}
	}
	return path
}

// TargetFiles returns the distinct files a diff touches, in order.
func TargetFiles(diffs []FileDiff) []string {
	seen := make(map[string]bool, len(diffs))
	var files []string
	for _, d := range diffs {
		if !seen[d.Path] {
			seen[d.Path] = true
			files = append(files, d.Path)
		}
	}
	return files
}

// Format renders file diffs back to unified-diff text.
func Format(diffs []FileDiff) string {
	var b strings.Builder
	for _, d := range diffs {
		fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", d.Path, d.Path)
		for _, h := range d.Hunks {
			fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
			for _, l := range h.Lines {
				b.WriteByte(byte(l.Op))
				b.WriteString(l.Text)
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

// Apply patches the files under root in place. Hunk context must match
// exactly; on mismatch nothing is written for the failing file and
// ErrContextMismatch is returned.
func Apply(root string, diffs []FileDiff) error {
	for _, d := range diffs {
		target := filepath.Join(root, filepath.FromSlash(d.Path))
		content, err := os.ReadFile(target)
		if err != nil {
			return fmt.Errorf("diff: reading %s: %w", d.Path, err)
		}

		patched, err := applyToContent(string(content), d)
		if err != nil {
			return fmt.Errorf("%s: %w", d.Path, err)
		}

		info, err := os.Stat(target)
		if err != nil {
			return fmt.Errorf("diff: stat %s: %w", d.Path, err)
		}
		if err := os.WriteFile(target, []byte(patched), info.Mode().Perm()); err != nil {
			return fmt.Errorf("diff: writing %s: %w", d.Path, err)
		}
	}
	return nil
}

// applyToContent applies one file's hunks to its current content.
func applyToContent(content string, d FileDiff) (string, error) {
	trailingNewline := strings.HasSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	if trailingNewline {
		lines = lines[:len(lines)-1]
	}

	var out []string
	cursor := 0 // index into lines, 0-based

	for _, h := range d.Hunks {
		start := h.OldStart - 1
		if start < cursor || start > len(lines) {
			return "", fmt.Errorf("%w: hunk -%d out of range", ErrContextMismatch, h.OldStart)
		}
		out = append(out, lines[cursor:start]...)
		cursor = start

		for _, l := range h.Lines {
			switch l.Op {
			case OpContext:
				if cursor >= len(lines) || lines[cursor] != l.Text {
					return "", fmt.Errorf("%w: expected context %q at line %d", ErrContextMismatch, l.Text, cursor+1)
				}
				out = append(out, lines[cursor])
				cursor++
			case OpDelete:
				if cursor >= len(lines) || lines[cursor] != l.Text {
					return "", fmt.Errorf("%w: expected removal of %q at line %d", ErrContextMismatch, l.Text, cursor+1)
				}
				cursor++
			case OpAdd:
				out = append(out, l.Text)
			}
		}
	}
	out = append(out, lines[cursor:]...)

	result := strings.Join(out, "\n")
	if trailingNewline {
		result += "\n"
	}
	return result, nil
}

// Replacement substitutes one line of a file.
type Replacement struct {
	// LineNumber is 1-based.
	LineNumber int
	Old        string
	New        string
}

// BuildReplacements constructs a FileDiff that swaps exact lines of a file,
// with up to contextLines of surrounding context per hunk. fileLines are the
// file's current lines without trailing newlines.
func BuildReplacements(path string, fileLines []string, repls []Replacement, contextLines int) (FileDiff, error) {
	d := FileDiff{Path: path}
	for _, r := range repls {
		idx := r.LineNumber - 1
		if idx < 0 || idx >= len(fileLines) {
			return FileDiff{}, fmt.Errorf("diff: replacement line %d out of range for %s", r.LineNumber, path)
		}
		if fileLines[idx] != r.Old {
			return FileDiff{}, fmt.Errorf("%w: line %d of %s is %q, expected %q",
				ErrContextMismatch, r.LineNumber, path, fileLines[idx], r.Old)
		}

		before := idx - contextLines
		if before < 0 {
			before = 0
		}
		after := idx + contextLines
		if after > len(fileLines)-1 {
			after = len(fileLines) - 1
		}

		h := Hunk{
			OldStart: before + 1,
			NewStart: before + 1,
		}
		for i := before; i <= after; i++ {
			if i == idx {
				h.Lines = append(h.Lines,
					Line{Op: OpDelete, Text: r.Old},
					Line{Op: OpAdd, Text: r.New})
				continue
			}
			h.Lines = append(h.Lines, Line{Op: OpContext, Text: fileLines[i]})
		}
		h.OldLines = after - before + 1
		h.NewLines = h.OldLines
		d.Hunks = append(d.Hunks, h)
	}
	return d, nil
}
