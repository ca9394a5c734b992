// Package patch applies ordered search/replace edits to file content.
//
// Edits apply strictly in order: each edit's search string is matched
// against the output of the previous edit, never the original content.
// Overlapping search windows between edits are not detected; later edits
// simply see the mutated text.
package patch

import (
	"fmt"
	"strings"

	"github.com/forgeline/forgeline/internal/domain/change"
)

// MatchError reports a search string that could not be located. It is fatal
// to the entire FileChange batch: the caller must roll back every file
// already touched.
type MatchError struct {
	Path   string
	Search string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("patch %s: search text not found: %q", e.Path, preview(e.Search))
}

// ApplyEdits applies the edits sequentially to content and returns the
// mutated result. The first edit that fails to match aborts with a
// *MatchError; partial output is never returned.
func ApplyEdits(path, content string, edits []change.FileEdit) (string, error) {
	current := content
	for _, e := range edits {
		next, ok := applyOne(current, e)
		if !ok {
			return "", &MatchError{Path: path, Search: e.Search}
		}
		current = next
	}
	return current, nil
}

// applyOne tries the match strategies in order: exact substring, multi-line
// trimmed window, then single-line trimmed match.
func applyOne(content string, e change.FileEdit) (string, bool) {
	if idx := strings.Index(content, e.Search); idx >= 0 {
		return content[:idx] + e.Replace + content[idx+len(e.Search):], true
	}

	searchLines := trimmedNonEmpty(e.Search)
	if len(searchLines) == 0 {
		return content, false
	}
	if len(searchLines) > 1 {
		return replaceWindow(content, searchLines, e.Replace)
	}
	return replaceSingleLine(content, searchLines[0], e.Replace)
}

// replaceWindow scans for the first contiguous run of lines whose trimmed
// forms equal the trimmed search lines. Leading/trailing whitespace differs
// per line only; line count and order must match exactly.
func replaceWindow(content string, searchLines []string, replace string) (string, bool) {
	lines := strings.Split(content, "\n")
	for start := 0; start+len(searchLines) <= len(lines); start++ {
		if !windowMatches(lines[start:start+len(searchLines)], searchLines) {
			continue
		}
		out := make([]string, 0, len(lines)-len(searchLines)+1)
		out = append(out, lines[:start]...)
		out = append(out, replace)
		out = append(out, lines[start+len(searchLines):]...)
		return strings.Join(out, "\n"), true
	}
	return "", false
}

func windowMatches(window, searchLines []string) bool {
	for i := range searchLines {
		if strings.TrimSpace(window[i]) != searchLines[i] {
			return false
		}
	}
	return true
}

// replaceSingleLine matches one trimmed line exactly, falling back to a
// substring match within a trimmed line.
func replaceSingleLine(content, search, replace string) (string, bool) {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == search {
			lines[i] = replace
			return strings.Join(lines, "\n"), true
		}
	}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if idx := strings.Index(trimmed, search); idx >= 0 {
			lines[i] = strings.Replace(line, search, replace, 1)
			return strings.Join(lines, "\n"), true
		}
	}
	return "", false
}

// trimmedNonEmpty splits s into lines, trims each, and drops empty lines.
func trimmedNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return out
}

const previewLen = 80

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > previewLen {
		return s[:previewLen] + "..."
	}
	return s
}
