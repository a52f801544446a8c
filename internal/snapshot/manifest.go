package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	manifestKey     = "CURRENT"
	manifestVersion = 1
)

// Artifact describes one stored file of a generation.
type Artifact struct {
	Key   string `json:"key"`
	Size  int64  `json:"size"`
	CRC32 uint32 `json:"crc32"`
}

// Manifest is the commit record. Replacing it is the single atomic step that
// switches readers from one generation to the next.
type Manifest struct {
	Version     int       `json:"version"`
	Generation  uint64    `json:"generation"`
	Dimension   int       `json:"dimension"`
	Count       int       `json:"count"`
	Embedder    string    `json:"embedder,omitempty"`
	Compression string    `json:"compression"`
	CreatedAt   time.Time `json:"created_at"`
	Vectors     Artifact  `json:"vectors"`
	Documents   Artifact  `json:"documents"`
}

func vectorsKey(gen uint64) string   { return fmt.Sprintf("vectors-%08d.bin", gen) }
func documentsKey(gen uint64) string { return fmt.Sprintf("documents-%08d.msgpack", gen) }

// isGenerationKey reports whether name is a vectors or documents artifact.
func isGenerationKey(name string) bool {
	if strings.Contains(name, "/") {
		return false
	}
	return (strings.HasPrefix(name, "vectors-") && strings.HasSuffix(name, ".bin")) ||
		(strings.HasPrefix(name, "documents-") && strings.HasSuffix(name, ".msgpack"))
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorruption, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("%w: manifest version %d", ErrCorruption, m.Version)
	}
	if m.Vectors.Key == "" || m.Documents.Key == "" {
		return nil, fmt.Errorf("%w: manifest missing artifact keys", ErrCorruption)
	}
	return &m, nil
}
