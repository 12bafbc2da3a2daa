// Package incremental tracks indexed files in a JSON manifest and detects
// which files were added, modified or deleted since the last run.
//
// Files are compared by the xxh3 hash of their bytes. The manifest is
// rewritten atomically after each successful update.
package incremental
