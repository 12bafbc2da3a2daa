package searcher

import (
	"regexp"
	"strings"
)

// Intent labels appended to the semantic variant
const (
	IntentFunction  = "code_function"
	IntentStructure = "code_structure"
	IntentModule    = "code_module"
	IntentIssue     = "code_issue"
	IntentGeneral   = "general_search"
)

// Variant is one rewriting of the query that is embedded and searched
type Variant struct {
	Name string
	Text string
}

var callPattern = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*\s*\(`)

var intentKeywords = []struct {
	words  []string
	intent string
}{
	{[]string{"function", "method"}, IntentFunction},
	{[]string{"class", "interface"}, IntentStructure},
	{[]string{"import", "export"}, IntentModule},
	{[]string{"error", "bug"}, IntentIssue},
}

// InferIntent picks the intent of the first keyword set found in query
func InferIntent(query string) string {
	for _, k := range intentKeywords {
		for _, w := range k.words {
			if strings.Contains(query, w) {
				return k.intent
			}
		}
	}
	return IntentGeneral
}

// StructuralQuery joins the call-like identifiers of query, without the
// parentheses. It returns "" when there are none.
func StructuralQuery(query string) string {
	matches := callPattern.FindAllString(query, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.ReplaceAll(strings.Join(matches, " "), "(", "")
}

// Variants returns the verbatim, structural and semantic variants of
// query. The structural variant is omitted when the query has no call-like
// identifiers.
func Variants(query string) []Variant {
	out := []Variant{{Name: "verbatim", Text: query}}
	if s := strings.TrimSpace(StructuralQuery(query)); s != "" {
		out = append(out, Variant{Name: "structural", Text: s})
	}
	return append(out, Variant{Name: "semantic", Text: query + " " + InferIntent(query)})
}

// queryTerms are the lowercase whitespace-separated words of query
func queryTerms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}
