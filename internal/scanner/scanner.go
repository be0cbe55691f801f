// Package scanner enumerates chunkable files in a repository working tree
// and computes stable per-file content hashes.
package scanner

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// ChunkableFile is one file eligible for indexing.
type ChunkableFile struct {
	// Path is repo-relative with forward slashes.
	Path string `json:"path"`
	// Hash is the SHA-256 hex digest of the file bytes.
	Hash string `json:"hash"`
	// Language is derived from the file extension; empty when unknown.
	Language string `json:"language"`
}

// Manifest maps repo-relative file path to file content hash for one repo.
type Manifest map[string]string

// defaultIgnoreDirs are pruned during the walk regardless of configuration.
var defaultIgnoreDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".idea":        true,
	".vscode":      true,
}

// binaryExtensions are skipped without opening the file.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".jar": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true,
	".db": true, ".sqlite": true, ".wasm": true, ".class": true, ".pyc": true,
}

// languageByExtension tags files for the chunker's parser selection.
var languageByExtension = map[string]string{
	".py":   "python",
	".rb":   "ruby",
	".rs":   "rust",
	".java": "java",
	".php":  "php",
	".c":    "c",
	".h":    "c",
	".ts":   "typescript",
	".tsx":  "tsx",
	".js":   "javascript",
	".jsx":  "javascript",
	".go":   "go",
	".md":   "markdown",
}

// Scanner walks a repository and produces ChunkableFiles.
type Scanner struct {
	repoPath string
	ignore   []glob.Glob
	maxSize  int64
}

// maxFileSize bounds what we will hash and chunk (2 MiB).
const maxFileSize = 2 << 20

// New creates a Scanner for the given absolute repo path. Extra ignore
// patterns are matched against repo-relative paths.
func New(repoPath string, ignorePatterns []string) (*Scanner, error) {
	if !filepath.IsAbs(repoPath) {
		return nil, fmt.Errorf("repo path must be absolute: %s", repoPath)
	}
	info, err := os.Stat(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat repo path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo path is not a directory: %s", repoPath)
	}

	globs := make([]glob.Glob, 0, len(ignorePatterns))
	for _, p := range ignorePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}

	return &Scanner{
		repoPath: repoPath,
		ignore:   globs,
		maxSize:  maxFileSize,
	}, nil
}

// RepoPath returns the absolute repository root this scanner walks.
func (s *Scanner) RepoPath() string { return s.repoPath }

// Scan enumerates chunkable files with content hashes. Unreadable and
// binary files are excluded; the caller receives them via skipped.
func (s *Scanner) Scan() (files []ChunkableFile, skipped []SkippedFile, err error) {
	err = filepath.WalkDir(s.repoPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable directory entry: record and continue.
			rel := s.relPath(path)
			skipped = append(skipped, SkippedFile{Path: rel, Reason: walkErr.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel := s.relPath(path)

		if d.IsDir() {
			if path != s.repoPath && (defaultIgnoreDirs[d.Name()] || s.matchesIgnore(rel)) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if s.matchesIgnore(rel) {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if binaryExtensions[ext] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			skipped = append(skipped, SkippedFile{Path: rel, Reason: err.Error()})
			return nil
		}
		if info.Size() > s.maxSize {
			skipped = append(skipped, SkippedFile{Path: rel, Reason: "file too large"})
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			skipped = append(skipped, SkippedFile{Path: rel, Reason: err.Error()})
			return nil
		}
		if isBinary(data) {
			return nil
		}

		files = append(files, ChunkableFile{
			Path:     rel,
			Hash:     HashBytes(data),
			Language: languageByExtension[ext],
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan %s: %w", s.repoPath, err)
	}
	return files, skipped, nil
}

// BuildManifest runs a scan and folds the result into a Manifest.
func (s *Scanner) BuildManifest() (Manifest, []SkippedFile, error) {
	files, skipped, err := s.Scan()
	if err != nil {
		return nil, nil, err
	}
	m := make(Manifest, len(files))
	for _, f := range files {
		m[f.Path] = f.Hash
	}
	return m, skipped, nil
}

// SkippedFile records a file excluded from indexing with its reason.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (s *Scanner) relPath(path string) string {
	rel, err := filepath.Rel(s.repoPath, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (s *Scanner) matchesIgnore(rel string) bool {
	for _, g := range s.ignore {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// isBinary sniffs for NUL bytes in the first 8000 bytes, the same
// heuristic git uses.
func isBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}

// HashBytes returns the SHA-256 hex digest used for file and chunk hashes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashText hashes text content after normalizing line endings so the same
// logical content hashes identically across platforms.
func HashText(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	return HashBytes([]byte(normalized))
}

// Language returns the language tag for a file path, or "" when unknown.
func Language(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}
