// Package parser locates top-level declarations in source files.
//
// Go files are parsed with the standard library (go/parser, go/ast,
// go/token). TypeScript, TSX and JavaScript files are parsed with
// tree-sitter grammars registered in a Registry keyed by file extension.
//
// # Basic Usage
//
//	p := parser.New()
//	result, err := p.ParseFile(ctx, "/path/to/file.ts")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, d := range result.Declarations {
//	    fmt.Printf("%s %s lines %d-%d\n", d.Kind, d.Name, d.StartLine, d.EndLine)
//	}
//
// # Declarations
//
// Each declaration carries its byte range, 1-based line range, name,
// parameters, return type, leading doc comment, the identifier tokens it
// contains and a branch-count complexity:
//
//   - Go: functions and methods, types (struct as class, interface),
//     var/const groups, the import block
//   - TS/JS: functions, arrow-function bindings, classes, enums,
//     interfaces, type aliases, variables, imports and exports
//
// Complexity is 1 plus one per if/while/for statement plus one per switch
// case. It is a simplified cyclomatic count used for quality gating.
//
// # Error Handling
//
// Syntax errors do not fail the parse:
//
//	result, err := p.ParseFile(ctx, "broken.go")
//	// err is nil even for syntax errors
//	if result.HasErrors() {
//	    for _, parseErr := range result.Errors {
//	        fmt.Printf("Parse error: %v\n", parseErr)
//	    }
//	}
//
// Files with no structural parser return ErrUnsupportedLanguage; the
// chunker falls back to a whole-file chunk for those.
//
// # Thread Safety
//
// Parser is safe for concurrent use. A fresh token.FileSet or tree-sitter
// parser is created per call.
package parser
