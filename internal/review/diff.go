package review

import (
	"fmt"
	"strings"
)

// diffContextLines surround each hunk, matching git's default.
const diffContextLines = 3

// unifiedDiff renders a git-style unified diff between two versions of
// one file. Identical inputs yield "".
func unifiedDiff(path, oldText, newText string) string {
	if oldText == newText {
		return ""
	}
	a := splitDiffLines(oldText)
	b := splitDiffLines(newText)
	ops := diffOps(a, b)

	var out strings.Builder
	fmt.Fprintf(&out, "--- a/%s\n+++ b/%s\n", path, path)

	for _, h := range hunks(ops) {
		aStart, aCount, bStart, bCount := hunkRanges(ops, h)
		fmt.Fprintf(&out, "@@ -%d,%d +%d,%d @@\n", aStart, aCount, bStart, bCount)
		for _, op := range ops[h[0]:h[1]] {
			switch op.kind {
			case opEqual:
				out.WriteString(" " + a[op.aIndex] + "\n")
			case opDelete:
				out.WriteString("-" + a[op.aIndex] + "\n")
			case opInsert:
				out.WriteString("+" + b[op.bIndex] + "\n")
			}
		}
	}
	return out.String()
}

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type diffOp struct {
	kind   opKind
	aIndex int
	bIndex int
}

// diffOps computes an edit script via longest-common-subsequence over
// lines. Quadratic space is fine at review-file sizes; the scanner caps
// file size well below where this would matter.
func diffOps(a, b []string) []diffOp {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []diffOp
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, diffOp{opEqual, i, j})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, diffOp{opDelete, i, -1})
			i++
		default:
			ops = append(ops, diffOp{opInsert, -1, j})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, diffOp{opDelete, i, -1})
	}
	for ; j < m; j++ {
		ops = append(ops, diffOp{opInsert, -1, j})
	}
	return ops
}

// hunks groups the edit script into [start, end) op ranges, each change
// run padded with context lines and merged when contexts touch.
func hunks(ops []diffOp) [][2]int {
	var out [][2]int
	i := 0
	for i < len(ops) {
		if ops[i].kind == opEqual {
			i++
			continue
		}
		start := i - diffContextLines
		if start < 0 {
			start = 0
		}
		end := i
		run := 0
		for end < len(ops) {
			if ops[end].kind == opEqual {
				run++
				if run > diffContextLines*2 {
					break
				}
			} else {
				run = 0
			}
			end++
		}
		// Trim trailing context beyond the window.
		trailing := 0
		for end > i && ops[end-1].kind == opEqual {
			trailing++
			end--
		}
		if trailing > diffContextLines {
			trailing = diffContextLines
		}
		end += trailing

		if len(out) > 0 && start <= out[len(out)-1][1] {
			out[len(out)-1][1] = end
		} else {
			out = append(out, [2]int{start, end})
		}
		i = end
	}
	return out
}

// hunkRanges derives the @@ header numbers for one hunk.
func hunkRanges(ops []diffOp, h [2]int) (aStart, aCount, bStart, bCount int) {
	aStart, bStart = 1, 1
	for _, op := range ops[:h[0]] {
		if op.kind != opInsert {
			aStart++
		}
		if op.kind != opDelete {
			bStart++
		}
	}
	for _, op := range ops[h[0]:h[1]] {
		if op.kind != opInsert {
			aCount++
		}
		if op.kind != opDelete {
			bCount++
		}
	}
	return aStart, aCount, bStart, bCount
}

// splitDiffLines splits content into lines without terminators; an empty
// file yields no lines.
func splitDiffLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
