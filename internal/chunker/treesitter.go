package chunker

import (
	"sort"

	sitter "github.com/tree-sitter/go-tree-sitter"
	c "github.com/tree-sitter/tree-sitter-c/bindings/go"
	java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	ruby "github.com/tree-sitter/tree-sitter-ruby/bindings/go"
	rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// grammar describes how one language maps onto the chunker's symbol model.
type grammar struct {
	language    *sitter.Language
	functions   map[string]bool // node kinds that define functions/methods
	classes     map[string]bool // node kinds that define classes/types
	imports     map[string]bool // node kinds that import
	moduleKinds map[string]bool // node kinds considered "top level" containers
}

// grammars is keyed by the scanner's language tag. Languages without an
// entry fall back to sliding-window chunking.
var grammars = map[string]*grammar{
	"python": {
		language:    sitter.NewLanguage(python.Language()),
		functions:   kinds("function_definition"),
		classes:     kinds("class_definition"),
		imports:     kinds("import_statement", "import_from_statement"),
		moduleKinds: kinds("module"),
	},
	"ruby": {
		language:    sitter.NewLanguage(ruby.Language()),
		functions:   kinds("method", "singleton_method"),
		classes:     kinds("class", "module"),
		imports:     kinds("call"), // require/require_relative appear as calls
		moduleKinds: kinds("program"),
	},
	"rust": {
		language:    sitter.NewLanguage(rust.Language()),
		functions:   kinds("function_item"),
		classes:     kinds("struct_item", "enum_item", "trait_item", "impl_item"),
		imports:     kinds("use_declaration"),
		moduleKinds: kinds("source_file"),
	},
	"java": {
		language:    sitter.NewLanguage(java.Language()),
		functions:   kinds("method_declaration", "constructor_declaration"),
		classes:     kinds("class_declaration", "interface_declaration", "enum_declaration"),
		imports:     kinds("import_declaration"),
		moduleKinds: kinds("program"),
	},
	"php": {
		language:    sitter.NewLanguage(php.LanguagePHP()),
		functions:   kinds("function_definition", "method_declaration"),
		classes:     kinds("class_declaration", "interface_declaration", "trait_declaration"),
		imports:     kinds("namespace_use_declaration"),
		moduleKinds: kinds("program"),
	},
	"c": {
		language:    sitter.NewLanguage(c.Language()),
		functions:   kinds("function_definition"),
		classes:     kinds("struct_specifier", "enum_specifier", "union_specifier"),
		imports:     kinds("preproc_include"),
		moduleKinds: kinds("translation_unit"),
	},
	"typescript": {
		language:    sitter.NewLanguage(typescript.LanguageTypescript()),
		functions:   kinds("function_declaration", "method_definition", "generator_function_declaration"),
		classes:     kinds("class_declaration", "interface_declaration", "enum_declaration"),
		imports:     kinds("import_statement"),
		moduleKinds: kinds("program"),
	},
	"tsx": {
		language:    sitter.NewLanguage(typescript.LanguageTSX()),
		functions:   kinds("function_declaration", "method_definition", "generator_function_declaration"),
		classes:     kinds("class_declaration", "interface_declaration", "enum_declaration"),
		imports:     kinds("import_statement"),
		moduleKinds: kinds("program"),
	},
	// JavaScript parses acceptably with the TypeScript grammar.
	"javascript": {
		language:    sitter.NewLanguage(typescript.LanguageTypescript()),
		functions:   kinds("function_declaration", "method_definition", "generator_function_declaration"),
		classes:     kinds("class_declaration"),
		imports:     kinds("import_statement"),
		moduleKinds: kinds("program"),
	},
}

func kinds(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// parseSymbols extracts named top-level definitions and import lines from
// source. Returns nil symbols when the language has no grammar or the
// parse fails; callers then fall back to window chunking.
func parseSymbols(language string, source []byte) (syms []symbol, imports []string) {
	g, ok := grammars[language]
	if !ok {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.language)

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, nil
	}
	defer tree.Close()

	walk(tree.RootNode(), func(n *sitter.Node) bool {
		kind := n.Kind()
		switch {
		case g.imports[kind]:
			imports = append(imports, nodeText(n, source))
			return false
		case g.functions[kind]:
			syms = append(syms, symbol{
				name:      nodeName(n, source),
				kind:      "function",
				startLine: int(n.StartPosition().Row) + 1,
				endLine:   int(n.EndPosition().Row) + 1,
			})
			// Nested definitions belong to their parent's chunk.
			return false
		case g.classes[kind]:
			syms = append(syms, symbol{
				name:      nodeName(n, source),
				kind:      "class",
				startLine: int(n.StartPosition().Row) + 1,
				endLine:   int(n.EndPosition().Row) + 1,
			})
			// Recurse so methods inside the class are also visible as
			// symbols; the segmenter keeps them within the class span.
			return true
		}
		return true
	})

	return syms, imports
}

// OutlineSymbol is one entry of a file's symbol outline.
type OutlineSymbol struct {
	Name      string
	Kind      string
	StartLine int
	EndLine   int
}

// SymbolOutline lists a file's named definitions in line order. Returns
// nil for languages without a grammar or unparseable content.
func SymbolOutline(language, content string) []OutlineSymbol {
	syms, _ := parseSymbols(language, []byte(content))
	var out []OutlineSymbol
	for _, s := range syms {
		if s.name == "" {
			continue
		}
		out = append(out, OutlineSymbol{
			Name:      s.name,
			Kind:      s.kind,
			StartLine: s.startLine,
			EndLine:   s.endLine,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartLine < out[j].StartLine })
	return out
}

// walk visits nodes depth-first; the visitor returns false to prune.
func walk(node *sitter.Node, visitor func(*sitter.Node) bool) {
	if node == nil {
		return
	}
	if !visitor(node) {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(uint(i)), visitor)
	}
}

func nodeText(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return string(source[n.StartByte():n.EndByte()])
}

// nodeName reads the "name" field of a definition node.
func nodeName(n *sitter.Node, source []byte) string {
	name := n.ChildByFieldName("name")
	if name == nil {
		// C function definitions nest the name inside the declarator.
		if decl := n.ChildByFieldName("declarator"); decl != nil {
			return nodeName(decl, source)
		}
		return ""
	}
	return nodeText(name, source)
}
