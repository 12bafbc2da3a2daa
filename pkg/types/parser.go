package types

// Declaration is a top-level construct located by a language parser
type Declaration struct {
	Name       string
	Kind       ChunkType
	StartByte  int
	EndByte    int
	StartLine  int // 1-based
	EndLine    int // 1-based, inclusive
	Parameters []string
	ReturnType string
	Doc        string

	// Identifiers are the identifier tokens inside the declaration, in
	// source order and possibly repeated.
	Identifiers []string

	// Complexity is 1 plus one per if/while/for and one per switch case.
	Complexity int
}

// ParseResult represents the output of parsing one source file
type ParseResult struct {
	Language     string
	PackageName  string
	Imports      []Import
	Declarations []Declaration

	// Errors encountered during parsing
	Errors []ParseError
}

// Import represents an import statement
type Import struct {
	Path  string // e.g. "github.com/pkg/errors" or "./util"
	Alias string
}

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return pe.Message
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError adds a parsing error to the result
func (pr *ParseResult) AddError(file string, line, col int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{
		File:    file,
		Line:    line,
		Column:  col,
		Message: msg,
	})
}
