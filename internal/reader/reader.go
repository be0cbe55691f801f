// Package reader serves file content surfaces: exact line ranges, whole
// files or symbol summaries, grep search, and directory listings.
package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/chunker"
	"github.com/codescope-dev/codescope/internal/scanner"
)

// Reader resolves repo-relative paths and renders summaries through the
// chunker's symbol extraction.
type Reader struct {
	summaryLineThreshold int
}

// NewReader creates a reader with the configured summary threshold.
func NewReader(summaryLineThreshold int) *Reader {
	if summaryLineThreshold < 1 {
		summaryLineThreshold = 400
	}
	return &Reader{summaryLineThreshold: summaryLineThreshold}
}

// RangeResult is the response of an exact line-range read.
type RangeResult struct {
	Content    string `json:"content"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	TotalLines int    `json:"total_lines"`
	EOFReached bool   `json:"eof_reached"`
}

// ReadLines returns lines start..end, 1-based inclusive, preserving
// newlines exactly. EOFReached is true iff end >= total lines. end past
// the file is clamped; start past the file yields empty content.
func (r *Reader) ReadLines(repoPath, relPath string, start, end int) (RangeResult, error) {
	if start < 1 || end < start {
		return RangeResult{}, apperror.BadRequest(fmt.Sprintf("invalid line range %d-%d", start, end))
	}
	content, err := readRepoFile(repoPath, relPath)
	if err != nil {
		return RangeResult{}, err
	}

	lines := splitKeepEnds(content)
	total := len(lines)
	res := RangeResult{StartLine: start, EndLine: end, TotalLines: total, EOFReached: end >= total}
	if start > total {
		return res, nil
	}
	if end > total {
		end = total
	}
	res.Content = strings.Join(lines[start-1:end], "")
	return res, nil
}

// FileResult is the response of a read-or-summary request. Type is "full"
// or "summary".
type FileResult struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	TotalLines int    `json:"total_lines"`
}

// ReadFileOrSummary returns the whole file when it fits under the line
// threshold, otherwise a symbol outline. threshold <= 0 uses the
// configured default.
func (r *Reader) ReadFileOrSummary(repoPath, relPath string, threshold int) (FileResult, error) {
	if threshold <= 0 {
		threshold = r.summaryLineThreshold
	}
	content, err := readRepoFile(repoPath, relPath)
	if err != nil {
		return FileResult{}, err
	}

	total := countLines(content)
	if total <= threshold {
		return FileResult{Type: "full", Content: content, TotalLines: total}, nil
	}
	return FileResult{
		Type:       "summary",
		Content:    summarize(relPath, content),
		TotalLines: total,
	}, nil
}

// summarize renders a symbol outline: one line per function or class with
// its line span, falling back to a head excerpt for unparsed languages.
func summarize(relPath, content string) string {
	lang := scanner.Language(relPath)
	outline := chunker.SymbolOutline(lang, content)
	if len(outline) == 0 {
		lines := splitKeepEnds(content)
		head := lines
		if len(head) > 40 {
			head = head[:40]
		}
		return strings.Join(head, "") + "\n... (truncated)\n"
	}

	var b strings.Builder
	for _, sym := range outline {
		fmt.Fprintf(&b, "%s %s (lines %d-%d)\n", sym.Kind, sym.Name, sym.StartLine, sym.EndLine)
	}
	return b.String()
}

// readRepoFile reads a repo-relative file, rejecting escapes from the
// repo root.
func readRepoFile(repoPath, relPath string) (string, error) {
	abs, err := resolve(repoPath, relPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", relPath, apperror.ErrNotFound)
		}
		return "", fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	return string(data), nil
}

// resolve joins and validates a repo-relative path.
func resolve(repoPath, relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		// Absolute paths are accepted when they stay inside the repo.
		rel, err := filepath.Rel(repoPath, relPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", apperror.BadRequest("path escapes repository: " + relPath)
		}
		relPath = rel
	}
	clean := filepath.Clean(relPath)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", apperror.BadRequest("path escapes repository: " + relPath)
	}
	return filepath.Join(repoPath, clean), nil
}

// splitKeepEnds splits content into lines preserving their terminators.
// The final element has no trailing newline when the file doesn't either.
func splitKeepEnds(content string) []string {
	if content == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines = append(lines, content[start:i+1])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}

// countLines counts logical lines the way editors do: a trailing newline
// does not open an extra line.
func countLines(content string) int {
	return len(splitKeepEnds(content))
}
