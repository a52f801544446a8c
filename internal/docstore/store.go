// Package docstore holds the positional document records paired with the
// vectors of the index.
package docstore

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/hyperjump/kbindex/internal/models"
)

// ErrOutOfRange is returned by Get for an ordinal outside [0, Len).
var ErrOutOfRange = errors.New("ordinal out of range")

// Store is an append-only sequence of documents addressed by ordinal.
type Store struct {
	docs []models.Document
	mu   sync.RWMutex
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Append stores a copy of doc and returns its ordinal. Integer metadata is
// stored as int64 and float32 as float64, the types a decoded store yields.
func (s *Store) Append(doc models.Document) int {
	c := doc.Clone()
	normalizeMetadata(c.Metadata)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, c)
	return len(s.docs) - 1
}

func normalizeMetadata(meta map[string]any) {
	for k, v := range meta {
		meta[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return normalizeUint(uint64(n))
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return normalizeUint(n)
	case float32:
		return float64(n)
	}
	return v
}

// normalizeUint keeps values above MaxInt64 as uint64.
func normalizeUint(n uint64) any {
	if n > math.MaxInt64 {
		return n
	}
	return int64(n)
}

// Get returns a copy of the document at ordinal.
func (s *Store) Get(ordinal int) (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ordinal < 0 || ordinal >= len(s.docs) {
		return models.Document{}, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, ordinal, len(s.docs))
	}
	return s.docs[ordinal].Clone(), nil
}

// Len returns the number of documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// All returns copies of every document in insertion order.
func (s *Store) All() []models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Document, len(s.docs))
	for i, d := range s.docs {
		out[i] = d.Clone()
	}
	return out
}
