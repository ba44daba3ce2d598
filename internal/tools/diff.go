package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type diffLine struct {
	op   byte // ' ', '-', '+'
	text string
}

// UnifiedDiff renders a unified diff between two versions of a file with
// three lines of context per hunk. Labels are emitted verbatim, so callers
// pass "a/<path>"/"b/<path>" pairs, or "/dev/null" for a creation. Equal
// inputs produce an empty string.
func UnifiedDiff(oldLabel, newLabel, oldContent, newContent string) string {
	oldNorm := normalizeLineEndings(oldContent)
	newNorm := normalizeLineEndings(newContent)
	if oldNorm == newNorm {
		return ""
	}

	dmp := diffmatchpatch.New()
	oldRunes, newRunes, lineTable := dmp.DiffLinesToChars(oldNorm, newNorm)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldRunes, newRunes, false), lineTable)

	var lines []diffLine
	for _, d := range diffs {
		op := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = '-'
		case diffmatchpatch.DiffInsert:
			op = '+'
		}
		for _, text := range splitDiffLines(d.Text) {
			lines = append(lines, diffLine{op: op, text: text})
		}
	}

	var changed []int
	for i, ln := range lines {
		if ln.op != ' ' {
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return ""
	}

	// Running old/new line counts before each index, for hunk headers.
	oldBefore := make([]int, len(lines)+1)
	newBefore := make([]int, len(lines)+1)
	for i, ln := range lines {
		oldBefore[i+1] = oldBefore[i]
		newBefore[i+1] = newBefore[i]
		if ln.op != '+' {
			oldBefore[i+1]++
		}
		if ln.op != '-' {
			newBefore[i+1]++
		}
	}

	const context = 3
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", oldLabel)
	fmt.Fprintf(&b, "+++ %s\n", newLabel)

	for g := 0; g < len(changed); {
		end := g
		for end+1 < len(changed) && changed[end+1]-changed[end] <= 2*context {
			end++
		}
		start := changed[g] - context
		if start < 0 {
			start = 0
		}
		stop := changed[end] + context + 1
		if stop > len(lines) {
			stop = len(lines)
		}

		oldCount := oldBefore[stop] - oldBefore[start]
		newCount := newBefore[stop] - newBefore[start]
		oldStart := oldBefore[start] + 1
		newStart := newBefore[start] + 1
		if oldCount == 0 {
			oldStart = oldBefore[start]
		}
		if newCount == 0 {
			newStart = newBefore[start]
		}
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
		for _, ln := range lines[start:stop] {
			b.WriteByte(ln.op)
			b.WriteString(ln.text)
			b.WriteByte('\n')
		}
		g = end + 1
	}

	return strings.TrimRight(b.String(), "\n")
}

// TruncateDiff bounds diff output for context and terminal readability.
func TruncateDiff(diff string, maxLines, maxBytes int) (string, bool) {
	diff = strings.TrimSpace(strings.ReplaceAll(diff, "\r\n", "\n"))
	if diff == "" {
		return "", false
	}
	lines := strings.Split(diff, "\n")
	truncated := false
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
		truncated = true
	}
	out := strings.Join(lines, "\n")
	if maxBytes > 0 && len(out) > maxBytes {
		out = strings.TrimRight(out[:maxBytes], "\n")
		truncated = true
	}
	if truncated {
		out += "\n... (diff truncated)"
	}
	return out, truncated
}

// DiffStats counts added and removed lines, skipping file headers.
func DiffStats(diff string) (additions, deletions int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			additions++
		case strings.HasPrefix(line, "-"):
			deletions++
		}
	}
	return additions, deletions
}

func normalizeDiffPath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "file"
	}
	p = filepath.ToSlash(filepath.Clean(p))
	p = strings.TrimPrefix(p, "./")
	if p == "" || p == "." {
		return "file"
	}
	return p
}

func normalizeLineEndings(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}

func splitDiffLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
