// Package models defines the data structures shared by the index, the HTTP
// API and the CLI.
package models

import (
	"fmt"
	"maps"
)

// Document is a stored text snippet. Its identity is its ordinal in the
// corpus; caller-level identifiers live in Metadata.
type Document struct {
	Text     string         `json:"text" msgpack:"text"`
	Metadata map[string]any `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// Clone returns a copy whose metadata map is not shared with d.
func (d Document) Clone() Document {
	return Document{Text: d.Text, Metadata: maps.Clone(d.Metadata)}
}

// ValidateMetadata reports an error for values that are not scalars
// (string, bool, integer, float or nil).
func ValidateMetadata(meta map[string]any) error {
	for k, v := range meta {
		switch v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return fmt.Errorf("metadata %q: unsupported value type %T", k, v)
		}
	}
	return nil
}

// AddTextsRequest is the body of POST /api/v1/texts.
type AddTextsRequest struct {
	Texts    []string         `json:"texts"`
	Metadata []map[string]any `json:"metadata,omitempty"`
}

// AddTextsResponse reports how many texts were appended. Persisted is false
// when the entries are only held in memory.
type AddTextsResponse struct {
	Added     int    `json:"added"`
	Persisted bool   `json:"persisted"`
	Warning   string `json:"warning,omitempty"`
}

// IngestRequest is the body of POST /api/v1/ingest.
type IngestRequest struct {
	Path string `json:"path"`
}

// IngestResponse summarizes an ingest run.
type IngestResponse struct {
	Files   int    `json:"files"`
	Skipped int    `json:"skipped"`
	Chunks  int    `json:"chunks"`
	Warning string `json:"warning,omitempty"`
}

// StatusResponse describes the index state.
type StatusResponse struct {
	State         string `json:"state"`
	Documents     int    `json:"documents"`
	Dimension     int    `json:"dimension"`
	Backend       string `json:"backend"`
	Location      string `json:"location"`
	Embedder      string `json:"embedder"`
	DiskUsageByte int64  `json:"disk_usage_bytes,omitempty"`
}
