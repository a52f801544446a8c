package semantic

import "errors"

var (
	// ErrNotReady is returned by operations on an index that has not loaded.
	ErrNotReady = errors.New("index not ready")
	// ErrEmbedding wraps embedding provider failures and timeouts.
	ErrEmbedding = errors.New("embedding failed")
	// ErrInvalidArgument marks caller errors such as mismatched metadata.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotPersisted accompanies a successful AddTexts whose save failed.
	// The entries are in memory but not yet durable.
	ErrNotPersisted = errors.New("added but not persisted")
	// ErrClosed is returned by AddTexts after Close.
	ErrClosed = errors.New("index closed")
)
