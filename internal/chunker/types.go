// Package chunker turns source files into ordered, content-addressed
// chunks with AST-derived metadata.
package chunker

// Chunk is a contiguous span of source text. Chunks from one file tile it:
// concatenated spans cover the file without overlap, lines 1-based inclusive.
type Chunk struct {
	// Hash is the SHA-256 of the line-normalized content; it is the
	// chunk's identity in the store.
	Hash     string `json:"hash"`
	Content  string `json:"content"`
	FilePath string `json:"file_path"`
	FileHash string `json:"file_hash"`

	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	Metadata Metadata `json:"metadata"`

	// Embedding is populated by the embedding pipeline; empty until then.
	Embedding []float32 `json:"-"`

	// Score is attached by retrieval; zero during indexing.
	Score float64 `json:"score,omitempty"`
}

// Metadata carries the AST-derived structure of a chunk.
type Metadata struct {
	FunctionNames []string `json:"function_names,omitempty"`
	ClassNames    []string `json:"class_names,omitempty"`
	Imports       []string `json:"imports,omitempty"`
	// SymbolKind is "function", "class", "mixed", or "" for plain text.
	SymbolKind string `json:"symbol_kind,omitempty"`
	Language   string `json:"language,omitempty"`
}

// symbol is a named top-level definition found by the parser.
type symbol struct {
	name      string
	kind      string // "function" or "class"
	startLine int
	endLine   int
}
