package chunker

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultIgnoreDirs are directory names never descended into
var DefaultIgnoreDirs = []string{
	".git", "node_modules", "dist", "build", ".next", "vendor", "coverage",
}

// DefaultFallbackExtensions are text source files without a structural
// parser; each becomes a single whole-file chunk
var DefaultFallbackExtensions = []string{
	".py", ".rb", ".java", ".rs", ".c", ".h", ".cpp", ".cs", ".php", ".swift", ".kt",
}

// MatchFilter tests a file name against a filter. A filter containing glob
// metacharacters is matched as a glob against the base name, otherwise it
// is a substring test. An empty filter matches everything.
func MatchFilter(name, filter string) bool {
	if filter == "" {
		return true
	}
	base := filepath.Base(name)
	if strings.ContainsAny(filter, "*?[") {
		ok, err := filepath.Match(filter, base)
		return err == nil && ok
	}
	return strings.Contains(base, filter)
}

// Discover walks root and returns the root-relative, slash-separated paths
// of indexable files that pass the filter, sorted
func (e *Extractor) Discover(ctx context.Context, root, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if path != root && e.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		if !e.Indexable(path) || !MatchFilter(path, filter) {
			return nil
		}
		if e.cfg.MaxFileSize > 0 {
			if info, infoErr := d.Info(); infoErr == nil && info.Size() > e.cfg.MaxFileSize {
				e.logger.Debug("skipping large file", "path", path, "size", info.Size())
				return nil
			}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func (e *Extractor) skipDir(name string) bool {
	if _, ok := e.ignore[name]; ok {
		return true
	}
	// Hidden directories
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// Indexable reports whether a file has a parser or a whole-file fallback
func (e *Extractor) Indexable(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := e.extensions[ext]
	return ok
}

// Extensions returns every indexable extension, sorted
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.extensions))
	for ext := range e.extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
