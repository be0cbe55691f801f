package retrieval

import "regexp"

// codeTokenPattern matches identifier-like tokens a developer would type
// verbatim: snake_case, dotted paths, double-colon paths, and CamelCase.
var codeTokenPattern = regexp.MustCompile(
	`[A-Za-z_][A-Za-z0-9_]*(?:(?:\.|::)[A-Za-z_][A-Za-z0-9_]*)+` + // dotted / pathed
		`|[a-z0-9]+_[a-z0-9_]+` + // snake_case
		`|[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]*)+` + // CamelCase
		`|[a-z]+[A-Z][A-Za-z0-9]*`, // mixedCase
)

// ExtractCodeTokens returns the code-style tokens of a query, deduplicated
// in first-appearance order. Plain prose yields nothing.
func ExtractCodeTokens(query string) []string {
	matches := codeTokenPattern.FindAllString(query, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// HasCodeTokens reports whether the query contains any code-style token.
func HasCodeTokens(query string) bool {
	return codeTokenPattern.MatchString(query)
}
