package models

import (
	"fmt"
	"math"
)

// SearchDefaults fills unset SearchQuery fields.
type SearchDefaults struct {
	TopK              int
	MaxTopK           int
	DistanceThreshold float64
}

// SearchQuery is a search request. DistanceThreshold is in squared L2 units;
// nil means the configured default.
type SearchQuery struct {
	Query             string   `json:"query"`
	TopK              int      `json:"top_k,omitempty"`
	DistanceThreshold *float64 `json:"distance_threshold,omitempty"`
}

// Validate rejects empty queries and invalid thresholds, applies defaults and
// caps TopK at d.MaxTopK.
func (q *SearchQuery) Validate(d SearchDefaults) error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK < 0 {
		return fmt.Errorf("top_k must not be negative, got %d", q.TopK)
	}
	if q.TopK == 0 {
		q.TopK = d.TopK
	}
	if d.MaxTopK > 0 && q.TopK > d.MaxTopK {
		q.TopK = d.MaxTopK
	}
	if q.DistanceThreshold == nil {
		t := d.DistanceThreshold
		q.DistanceThreshold = &t
	}
	if t := *q.DistanceThreshold; t < 0 || math.IsNaN(t) {
		return fmt.Errorf("distance_threshold must be a non-negative number")
	}
	return nil
}

// Threshold returns the resolved threshold; call after Validate.
func (q *SearchQuery) Threshold() float64 {
	if q.DistanceThreshold == nil {
		return 0
	}
	return *q.DistanceThreshold
}

// SearchResult is a single hit. Distance is squared L2; lower is closer.
type SearchResult struct {
	Ordinal  int            `json:"ordinal"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Distance float64        `json:"distance"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query     string          `json:"query"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
}
