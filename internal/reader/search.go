package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/codescope-dev/codescope/internal/apperror"
	"github.com/codescope-dev/codescope/internal/scanner"
)

// Grep limits. Matches past the cap are dropped, reported via Truncated.
const (
	grepMaxMatches   = 200
	grepContextLines = 2
)

// GrepMatch is one regex hit with surrounding context.
type GrepMatch struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Text     string `json:"text"`
	Context  string `json:"context"`
}

// GrepResult is the response of a grep search.
type GrepResult struct {
	Matches   []GrepMatch `json:"matches"`
	Truncated bool        `json:"truncated"`
}

// GrepSearch runs a regular expression over the repo's scannable files.
// Ignore rules match the indexer's, so results line up with the manifest.
func GrepSearch(sc *scanner.Scanner, pattern string) (GrepResult, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return GrepResult{}, apperror.BadRequest("invalid regex: " + err.Error())
	}

	repoPath := sc.RepoPath()
	files, _, err := sc.Scan()
	if err != nil {
		return GrepResult{}, fmt.Errorf("failed to scan repo: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var res GrepResult
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(repoPath, f.Path))
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			if len(res.Matches) >= grepMaxMatches {
				res.Truncated = true
				return res, nil
			}
			res.Matches = append(res.Matches, GrepMatch{
				FilePath: f.Path,
				Line:     i + 1,
				Text:     line,
				Context:  contextAround(lines, i),
			})
		}
	}
	return res, nil
}

// contextAround joins the lines surrounding index i.
func contextAround(lines []string, i int) string {
	lo := i - grepContextLines
	if lo < 0 {
		lo = 0
	}
	hi := i + grepContextLines + 1
	if hi > len(lines) {
		hi = len(lines)
	}
	return strings.Join(lines[lo:hi], "\n")
}

// TreeNode is one entry of a directory structure listing.
type TreeNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	IsDir    bool       `json:"is_dir"`
	Children []TreeNode `json:"children,omitempty"`
}

// treeMaxDepth bounds directory structure recursion.
const treeMaxDepth = 6

// DirectoryStructure returns the tree below a repo-relative directory,
// skipping hidden and vendored entries, bounded in depth.
func DirectoryStructure(repoPath, relDir string) (TreeNode, error) {
	abs, err := resolve(repoPath, cleanRel(relDir))
	if err != nil {
		return TreeNode{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return TreeNode{}, fmt.Errorf("%s: %w", relDir, apperror.ErrNotFound)
	}
	if !info.IsDir() {
		return TreeNode{}, apperror.BadRequest("not a directory: " + relDir)
	}

	root := TreeNode{Name: filepath.Base(abs), Path: cleanRel(relDir), IsDir: true}
	root.Children = listChildren(repoPath, abs, 1)
	return root, nil
}

func listChildren(repoPath, absDir string, depth int) []TreeNode {
	if depth > treeMaxDepth {
		return nil
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil
	}

	var out []TreeNode
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" || name == "__pycache__" {
			continue
		}
		abs := filepath.Join(absDir, name)
		rel, err := filepath.Rel(repoPath, abs)
		if err != nil {
			continue
		}
		node := TreeNode{Name: name, Path: filepath.ToSlash(rel), IsDir: e.IsDir()}
		if e.IsDir() {
			node.Children = listChildren(repoPath, abs, depth+1)
		}
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FilesInDir lists the immediate files of a repo-relative directory.
func FilesInDir(repoPath, relDir string) ([]string, error) {
	abs, err := resolve(repoPath, cleanRel(relDir))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", relDir, apperror.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to list %s: %w", relDir, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// cleanRel normalizes an optional directory argument; empty means the
// repo root.
func cleanRel(relDir string) string {
	if relDir == "" {
		return "."
	}
	return relDir
}
