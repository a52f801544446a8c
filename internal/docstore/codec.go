package docstore

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hyperjump/kbindex/internal/models"
)

const codecVersion = 1

type envelope struct {
	Version   int               `msgpack:"v"`
	Documents []models.Document `msgpack:"docs"`
}

// Encode writes every document as one msgpack envelope.
func (s *Store) Encode(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return msgpack.NewEncoder(w).Encode(envelope{Version: codecVersion, Documents: s.docs})
}

// Decode reads a store written by Encode. Integer metadata values come back
// as int64 and floats as float64. msgpack decodes non-negative integers as
// uint64, so they are normalized like Append does.
func Decode(r io.Reader) (*Store, error) {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	if env.Version != codecVersion {
		return nil, fmt.Errorf("decode documents: unsupported version %d", env.Version)
	}
	for _, d := range env.Documents {
		normalizeMetadata(d.Metadata)
	}
	return &Store{docs: env.Documents}, nil
}
