package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/dshills/reposearch/pkg/types"
)

// LanguageSpec binds a tree-sitter grammar to the file extensions it parses.
// IdentQuery captures every identifier-like node as @id.
type LanguageSpec struct {
	Name       string
	Language   *sitter.Language
	IdentQuery string
	Extensions []string // with leading dot
}

// Registry maps file extensions to language specs
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*LanguageSpec
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*LanguageSpec)}
}

// Register adds a language spec for each of its extensions
func (r *Registry) Register(spec *LanguageSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range spec.Extensions {
		r.specs[strings.ToLower(ext)] = spec
	}
}

// Lookup returns the spec for an extension (".ts"), or nil
func (r *Registry) Lookup(ext string) *LanguageSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[strings.ToLower(ext)]
}

// Extensions returns the registered extensions in sorted order
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.specs))
	for ext := range r.specs {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

const jsIdentQuery = `
(identifier) @id
(property_identifier) @id
(shorthand_property_identifier) @id
`

const tsIdentQuery = jsIdentQuery + `
(type_identifier) @id
`

// DefaultRegistry registers TypeScript, TSX and JavaScript grammars
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&LanguageSpec{
		Name:       LangTypeScript,
		Language:   typescript.GetLanguage(),
		IdentQuery: tsIdentQuery,
		Extensions: []string{".ts", ".mts", ".cts"},
	})
	r.Register(&LanguageSpec{
		Name:       LangTSX,
		Language:   tsx.GetLanguage(),
		IdentQuery: tsIdentQuery,
		Extensions: []string{".tsx"},
	})
	r.Register(&LanguageSpec{
		Name:       LangJavaScript,
		Language:   javascript.GetLanguage(),
		IdentQuery: jsIdentQuery,
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
	})
	return r
}

// branchNodes are the node types that add one point of complexity
var branchNodes = map[string]bool{
	"if_statement":     true,
	"while_statement":  true,
	"do_statement":     true,
	"for_statement":    true,
	"for_in_statement": true,
	"switch_case":      true,
}

// parseTreeSitter walks the top-level statements of a file and turns each
// declaration into a types.Declaration
func parseTreeSitter(ctx context.Context, spec *LanguageSpec, filePath string, src []byte) (*types.ParseResult, error) {
	p := sitter.NewParser()
	p.SetLanguage(spec.Language)
	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(spec.IdentQuery), spec.Language)
	if err != nil {
		return nil, fmt.Errorf("compile identifier query for %s: %w", spec.Name, err)
	}
	defer q.Close()

	result := &types.ParseResult{Language: spec.Name}
	root := tree.RootNode()
	if root.HasError() {
		result.AddError(filePath, 0, 0, "syntax error in source")
	}

	var prevComment *sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child == nil {
			continue
		}
		if child.Type() == "comment" {
			prevComment = child
			continue
		}
		d, ok := declarationFor(child, src)
		if ok {
			if prevComment != nil && prevComment.EndPoint().Row+1 >= child.StartPoint().Row {
				d.Doc = cleanComment(prevComment.Content(src))
			}
			d.Identifiers = collectIdentifiers(q, child, src)
			d.Complexity = countBranches(child)
			result.Declarations = append(result.Declarations, d)
			if d.Kind == types.ChunkImport {
				result.Imports = append(result.Imports, types.Import{Path: d.Name})
			}
		}
		prevComment = nil
	}
	return result, nil
}

func declarationFor(node *sitter.Node, src []byte) (types.Declaration, bool) {
	d := types.Declaration{
		StartByte: int(node.StartByte()),
		EndByte:   int(node.EndByte()),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}

	switch node.Type() {
	case "import_statement":
		d.Kind = types.ChunkImport
		if source := node.ChildByFieldName("source"); source != nil {
			d.Name = strings.Trim(source.Content(src), "\"'`")
		}
		return d, true
	case "export_statement":
		d.Kind = types.ChunkExport
		if inner := node.ChildByFieldName("declaration"); inner != nil {
			describe(&d, inner, src)
		} else if value := node.ChildByFieldName("value"); value != nil {
			d.Name = "default"
			describeFunction(&d, value, src)
		}
		return d, true
	case "function_declaration", "generator_function_declaration":
		d.Kind = types.ChunkFunction
	case "class_declaration", "abstract_class_declaration", "enum_declaration":
		d.Kind = types.ChunkClass
	case "interface_declaration", "type_alias_declaration":
		d.Kind = types.ChunkInterface
	case "lexical_declaration", "variable_declaration":
		d.Kind = types.ChunkVariable
		if value := declaratorValue(node); value != nil && isFunctionNode(value) {
			d.Kind = types.ChunkFunction
		}
	default:
		return d, false
	}
	describe(&d, node, src)
	return d, true
}

// describe fills name, parameters and return type from a declaration node
func describe(d *types.Declaration, node *sitter.Node, src []byte) {
	switch node.Type() {
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			decl := node.NamedChild(i)
			if decl == nil || decl.Type() != "variable_declarator" {
				continue
			}
			if name := decl.ChildByFieldName("name"); name != nil {
				d.Name = name.Content(src)
			}
			if value := decl.ChildByFieldName("value"); value != nil {
				describeFunction(d, value, src)
			}
			return
		}
	default:
		if name := node.ChildByFieldName("name"); name != nil {
			d.Name = name.Content(src)
		}
		describeFunction(d, node, src)
	}
}

// describeFunction extracts parameters and return type when node is callable
func describeFunction(d *types.Declaration, node *sitter.Node, src []byte) {
	if params := node.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			if p == nil || p.Type() == "comment" {
				continue
			}
			if pattern := p.ChildByFieldName("pattern"); pattern != nil {
				d.Parameters = append(d.Parameters, pattern.Content(src))
			} else {
				d.Parameters = append(d.Parameters, p.Content(src))
			}
		}
	} else if param := node.ChildByFieldName("parameter"); param != nil {
		d.Parameters = append(d.Parameters, param.Content(src))
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		d.ReturnType = strings.TrimSpace(strings.TrimPrefix(ret.Content(src), ":"))
	}
}

func declaratorValue(node *sitter.Node) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		decl := node.NamedChild(i)
		if decl != nil && decl.Type() == "variable_declarator" {
			return decl.ChildByFieldName("value")
		}
	}
	return nil
}

func isFunctionNode(n *sitter.Node) bool {
	switch n.Type() {
	case "arrow_function", "function", "function_expression", "generator_function":
		return true
	}
	return false
}

func collectIdentifiers(q *sitter.Query, node *sitter.Node, src []byte) []string {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, node)

	var idents []string
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			idents = append(idents, c.Node.Content(src))
		}
	}
	return idents
}

func countBranches(node *sitter.Node) int {
	complexity := 1
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if branchNodes[n.Type()] {
			complexity++
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(node)
	return complexity
}

// cleanComment strips comment markers from a line or block comment
func cleanComment(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "/**")
	text = strings.TrimPrefix(text, "/*")
	text = strings.TrimSuffix(text, "*/")
	text = strings.TrimPrefix(text, "//")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, " ")
}
