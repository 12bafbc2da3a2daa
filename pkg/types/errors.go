package types

import "errors"

// Domain errors shared across packages
var (
	ErrInvalidChunk       = errors.New("invalid chunk")
	ErrChunkNotFound      = errors.New("chunk not found")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrIndexingInProgress = errors.New("indexing already in progress")
	ErrNotIndexed         = errors.New("repository not indexed")
)
