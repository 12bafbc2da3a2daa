package types

import "strings"

// SearchFilters restrict the candidate set before scoring
type SearchFilters struct {
	FileTypes []string    `json:"fileTypes,omitempty"` // extensions, with or without the dot
	Packages  []string    `json:"packages,omitempty"`  // top-level package names
	Types     []ChunkType `json:"types,omitempty"`
}

// Empty reports whether no filter is set
func (f SearchFilters) Empty() bool {
	return len(f.FileTypes) == 0 && len(f.Packages) == 0 && len(f.Types) == 0
}

// Match reports whether the chunk passes every configured filter
func (f SearchFilters) Match(c *CodeChunk) bool {
	if len(f.FileTypes) > 0 {
		ok := false
		for _, ext := range f.FileTypes {
			ext = strings.TrimPrefix(strings.ToLower(ext), ".")
			if ext != "" && strings.HasSuffix(strings.ToLower(c.FilePath), "."+ext) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Packages) > 0 {
		pkg := c.Package()
		ok := false
		for _, p := range f.Packages {
			if p == pkg {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == c.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// QueryOptions tune a single search request
type QueryOptions struct {
	Top            int     `json:"top,omitempty"`
	Threshold      float64 `json:"threshold,omitempty"`
	IncludeContext bool    `json:"includeContext,omitempty"`
}

// SearchQuery is the external search request
type SearchQuery struct {
	Query   string        `json:"query"`
	Filters SearchFilters `json:"filters"`
	Options QueryOptions  `json:"options"`
}

// Validate checks the query is well formed
func (q SearchQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return ErrInvalidQuery
	}
	if q.Options.Top < 0 || q.Options.Threshold < 0 || q.Options.Threshold > 1 {
		return ErrInvalidQuery
	}
	return nil
}
