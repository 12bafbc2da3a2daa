package parser

import (
	"fmt"
	"go/ast"
	goparser "go/parser"
	"go/token"
	"strings"

	"github.com/dshills/reposearch/pkg/types"
)

// parseGo extracts top-level declarations from Go source using go/ast
func parseGo(filePath string, src []byte) *types.ParseResult {
	result := &types.ParseResult{Language: LangGo}
	fset := token.NewFileSet()

	file, err := goparser.ParseFile(fset, filePath, src, goparser.ParseComments)
	if err != nil {
		// Syntax errors are non-fatal; go/parser may still return a partial AST
		result.AddError(filePath, 0, 0, fmt.Sprintf("syntax error: %v", err))
	}
	if file == nil {
		return result
	}

	if file.Name != nil {
		result.PackageName = file.Name.Name
	}
	result.Imports = extractImports(file)

	e := &declExtractor{fset: fset}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}
	result.Declarations = e.decls
	return result
}

// extractImports extracts import statements from the AST
func extractImports(file *ast.File) []types.Import {
	imports := make([]types.Import, 0, len(file.Imports))
	for _, imp := range file.Imports {
		spec := types.Import{Path: strings.Trim(imp.Path.Value, `"`)}
		if imp.Name != nil {
			spec.Alias = imp.Name.Name
		}
		imports = append(imports, spec)
	}
	return imports
}

type declExtractor struct {
	fset  *token.FileSet
	decls []types.Declaration
}

// span fills the byte and line range of a declaration
func (e *declExtractor) span(d *types.Declaration, from, to token.Pos) {
	start := e.fset.Position(from)
	end := e.fset.Position(to)
	d.StartByte = start.Offset
	d.EndByte = end.Offset
	d.StartLine = start.Line
	d.EndLine = end.Line
	if d.EndLine < d.StartLine {
		d.EndLine = d.StartLine
	}
}

func (e *declExtractor) extractFunction(fn *ast.FuncDecl) {
	d := types.Declaration{
		Name: fn.Name.Name,
		Kind: types.ChunkFunction,
		Doc:  docText(fn.Doc),
	}
	e.span(&d, fn.Pos(), fn.End())

	if fn.Type.Params != nil {
		for _, field := range fn.Type.Params.List {
			for _, name := range field.Names {
				d.Parameters = append(d.Parameters, name.Name)
			}
		}
	}
	if fn.Type.Results != nil {
		d.ReturnType = fieldListString(fn.Type.Results)
	}
	d.Identifiers, d.Complexity = scanNode(fn)
	e.decls = append(e.decls, d)
}

// extractGenDecl handles type, var, const and import declarations.
// Grouped types become one declaration per spec; grouped values and
// imports stay as a single declaration.
func (e *declExtractor) extractGenDecl(gd *ast.GenDecl) {
	switch gd.Tok {
	case token.TYPE:
		for _, spec := range gd.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			d := types.Declaration{Name: ts.Name.Name, Kind: types.ChunkClass}
			if _, isIface := ts.Type.(*ast.InterfaceType); isIface {
				d.Kind = types.ChunkInterface
			}
			doc := ts.Doc
			if gd.Lparen.IsValid() {
				e.span(&d, ts.Pos(), ts.End())
			} else {
				e.span(&d, gd.Pos(), gd.End())
				doc = gd.Doc
			}
			d.Doc = docText(doc)
			d.Identifiers, d.Complexity = scanNode(ts)
			e.decls = append(e.decls, d)
		}
	case token.VAR, token.CONST:
		d := types.Declaration{Kind: types.ChunkVariable, Doc: docText(gd.Doc)}
		if len(gd.Specs) > 0 {
			if vs, ok := gd.Specs[0].(*ast.ValueSpec); ok && len(vs.Names) > 0 {
				d.Name = vs.Names[0].Name
			}
		}
		e.span(&d, gd.Pos(), gd.End())
		d.Identifiers, d.Complexity = scanNode(gd)
		e.decls = append(e.decls, d)
	case token.IMPORT:
		d := types.Declaration{Kind: types.ChunkImport}
		if len(gd.Specs) > 0 {
			if is, ok := gd.Specs[0].(*ast.ImportSpec); ok {
				d.Name = strings.Trim(is.Path.Value, `"`)
			}
		}
		e.span(&d, gd.Pos(), gd.End())
		d.Identifiers, d.Complexity = scanNode(gd)
		e.decls = append(e.decls, d)
	}
}

// scanNode collects identifiers and the branch-based complexity of a subtree
func scanNode(node ast.Node) ([]string, int) {
	var idents []string
	complexity := 1
	ast.Inspect(node, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.Ident:
			idents = append(idents, x.Name)
		case *ast.IfStmt, *ast.ForStmt, *ast.RangeStmt:
			complexity++
		case *ast.CaseClause, *ast.CommClause:
			complexity++
		}
		return true
	})
	return idents, complexity
}

func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

// fieldListString converts a field list to a string representation
func fieldListString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}
	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprString(field.Type)
		if len(field.Names) > 0 {
			for _, name := range field.Names {
				parts = append(parts, name.Name+" "+typeStr)
			}
		} else {
			parts = append(parts, typeStr)
		}
	}
	if len(parts) > 1 {
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return parts[0]
}

// exprString converts a type expression to a compact string
func exprString(expr ast.Expr) string {
	switch t := expr.(type) {
	case nil:
		return ""
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprString(t.X)
	case *ast.ArrayType:
		return "[]" + exprString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprString(t.Key), exprString(t.Value))
	case *ast.ChanType:
		return "chan " + exprString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.SelectorExpr:
		return exprString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprString(t.Elt)
	case *ast.IndexExpr:
		return exprString(t.X) + "[" + exprString(t.Index) + "]"
	default:
		return "..."
	}
}
