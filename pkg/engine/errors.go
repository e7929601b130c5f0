package engine

import "errors"

var (
	ErrUnknownChunk  = errors.New("unknown chunk id")
	ErrNotProcessing = errors.New("chunk is not in processing state")
)
