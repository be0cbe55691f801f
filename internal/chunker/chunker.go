package chunker

import (
	"sort"
	"strings"

	"github.com/codescope-dev/codescope/internal/scanner"
)

// Chunker splits file content into chunks bounded by a character budget.
// AST-aware segmentation applies where a grammar exists for the language;
// other files use sliding-window segmentation over whole lines.
type Chunker struct {
	charBudget int
}

// New creates a Chunker with the given character budget per chunk.
func New(charBudget int) *Chunker {
	return &Chunker{charBudget: charBudget}
}

// ChunkFile produces the ordered chunk sequence for one file. The returned
// chunks tile the file: concatenated line spans cover it without overlap.
// Empty content yields no chunks.
func (c *Chunker) ChunkFile(relPath, fileHash, language, content string) []Chunk {
	if content == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	// A trailing newline produces a final empty element; it belongs to the
	// last real line, not to a chunk of its own.
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	syms, imports := parseSymbols(language, []byte(content))

	var segments [][2]int // inclusive 1-based [start, end] line spans
	if len(syms) == 0 {
		segments = [][2]int{{1, len(lines)}}
	} else {
		segments = segmentBySymbols(syms, len(lines))
	}

	var chunks []Chunk
	for _, seg := range segments {
		chunks = append(chunks, c.splitSegment(lines, seg[0], seg[1])...)
	}

	for i := range chunks {
		ch := &chunks[i]
		ch.FilePath = relPath
		ch.FileHash = fileHash
		ch.Hash = scanner.HashText(ch.Content)
		ch.Metadata = buildMetadata(syms, language, ch.StartLine, ch.EndLine)
	}
	// File-level imports ride on the first chunk.
	if len(chunks) > 0 && len(imports) > 0 {
		chunks[0].Metadata.Imports = imports
	}

	return chunks
}

// segmentBySymbols tiles lines 1..total using top-level symbol spans as
// segment boundaries. Gaps between symbols become their own segments.
func segmentBySymbols(syms []symbol, total int) [][2]int {
	// Keep only top-level spans: drop symbols nested inside an earlier span.
	sorted := make([]symbol, len(syms))
	copy(sorted, syms)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].startLine != sorted[j].startLine {
			return sorted[i].startLine < sorted[j].startLine
		}
		return sorted[i].endLine > sorted[j].endLine
	})

	var spans [][2]int
	lastEnd := 0
	for _, s := range sorted {
		if s.startLine <= lastEnd {
			continue // nested or overlapping
		}
		start, end := s.startLine, s.endLine
		if end > total {
			end = total
		}
		if start > total || start > end {
			continue
		}
		spans = append(spans, [2]int{start, end})
		lastEnd = end
	}

	// Fill gaps so the segments tile the whole file.
	var segments [][2]int
	cursor := 1
	for _, sp := range spans {
		if sp[0] > cursor {
			segments = append(segments, [2]int{cursor, sp[0] - 1})
		}
		segments = append(segments, sp)
		cursor = sp[1] + 1
	}
	if cursor <= total {
		segments = append(segments, [2]int{cursor, total})
	}
	return segments
}

// splitSegment turns one line span into chunks within the character
// budget. A single line over budget still becomes one chunk.
func (c *Chunker) splitSegment(lines []string, start, end int) []Chunk {
	var out []Chunk

	chunkStart := start
	var b strings.Builder
	// Blank lines contribute zero bytes, so track consumed lines explicitly;
	// every line span must emit a chunk even when its content is empty.
	consumed := false
	flush := func(lastLine int) {
		if !consumed {
			return
		}
		out = append(out, Chunk{
			Content:   b.String(),
			StartLine: chunkStart,
			EndLine:   lastLine,
		})
		b.Reset()
		consumed = false
	}

	for ln := start; ln <= end; ln++ {
		line := lines[ln-1]
		// +1 for the newline that joins lines inside a chunk.
		if consumed && b.Len()+len(line)+1 > c.charBudget {
			flush(ln - 1)
			chunkStart = ln
		}
		if consumed {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		consumed = true
	}
	flush(end)

	return out
}

// buildMetadata collects the symbols whose spans intersect [start, end].
func buildMetadata(syms []symbol, language string, start, end int) Metadata {
	md := Metadata{Language: language}

	hasFunc, hasClass := false, false
	for _, s := range syms {
		if s.endLine < start || s.startLine > end || s.name == "" {
			continue
		}
		switch s.kind {
		case "function":
			md.FunctionNames = append(md.FunctionNames, s.name)
			hasFunc = true
		case "class":
			md.ClassNames = append(md.ClassNames, s.name)
			hasClass = true
		}
	}

	switch {
	case hasFunc && hasClass:
		md.SymbolKind = "mixed"
	case hasClass:
		md.SymbolKind = "class"
	case hasFunc:
		md.SymbolKind = "function"
	}
	return md
}
