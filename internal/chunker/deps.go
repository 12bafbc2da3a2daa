package chunker

import "regexp"

var (
	identPattern  = regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*`)
	branchPattern = regexp.MustCompile(`\b(if|while|for|case)\b`)
)

// builtins are keywords, primitive types and global objects that never
// count as dependencies
var builtins = map[string]struct{}{}

func init() {
	for _, w := range []string{
		// JS / TS
		"abstract", "any", "arguments", "Array", "async", "await", "bigint", "boolean", "Boolean",
		"break", "case", "catch", "class", "console", "const", "constructor", "continue",
		"Date", "debugger", "declare", "default", "delete", "else", "enum", "Error",
		"export", "extends", "false", "finally", "for", "from", "function", "get", "implements",
		"import", "instanceof", "interface", "JSON", "keyof", "let", "Map", "Math", "module",
		"never", "new", "null", "number", "Number", "object", "Object", "of", "private",
		"Promise", "protected", "public", "readonly", "Record", "require", "return", "Set",
		"set", "static", "string", "String", "super", "switch", "symbol", "Symbol", "this",
		"throw", "true", "try", "type", "typeof", "undefined", "unknown", "var", "void",
		"while", "with", "yield", "window", "document", "process",
		// Go
		"append", "bool", "byte", "cap", "chan", "close", "complex", "copy", "defer",
		"error", "fallthrough", "float32", "float64", "func", "goto", "int", "int8",
		"int16", "int32", "int64", "len", "make", "map", "nil", "package", "panic",
		"print", "println", "range", "recover", "rune", "select", "struct", "uint",
		"uint8", "uint16", "uint32", "uint64", "uintptr", "iota", "comparable",
		// Python and common others for whole-file chunks
		"def", "self", "None", "True", "False", "elif", "lambda", "pass", "raise",
		"and", "not", "with", "assert", "global", "nonlocal",
	} {
		builtins[w] = struct{}{}
	}
}

// IsBuiltin reports whether name is a known keyword, primitive or global
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// Dependencies filters identifier tokens down to candidate dependency
// names: longer than two characters, not builtin, deduplicated in
// first-seen order. This is intentionally permissive.
func Dependencies(identifiers []string) []string {
	seen := make(map[string]struct{}, len(identifiers))
	deps := make([]string, 0)
	for _, id := range identifiers {
		if len(id) <= 2 || IsBuiltin(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		deps = append(deps, id)
	}
	return deps
}

// ScanIdentifiers tokenizes raw text into identifier-like tokens
func ScanIdentifiers(text string) []string {
	return identPattern.FindAllString(text, -1)
}

// Complexity counts 1 plus one per if/while/for keyword plus one per case
// keyword in raw text. Used for files without a structural parser.
func Complexity(text string) int {
	return 1 + len(branchPattern.FindAllStringIndex(text, -1))
}
