package snapshot

import "errors"

var (
	// ErrPersistence marks a failed save. The previous snapshot is intact.
	ErrPersistence = errors.New("persistence failed")
	// ErrCorruption marks a snapshot that cannot be loaded consistently.
	ErrCorruption = errors.New("index corrupted")
)
