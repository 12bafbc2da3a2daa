// Package quality gates chunks before they are embedded.
//
// Analyze reports size, complexity, duplicate and metadata issues along
// with a bounded 0-100 quality score. Filter drops empty chunks and chunks
// outside the size or complexity bounds. Duplicates are reported by
// Analyze but Filter keeps them.
package quality
