package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbindex/internal/docstore"
	"github.com/hyperjump/kbindex/internal/models"
	"github.com/hyperjump/kbindex/internal/storage"
	"github.com/hyperjump/kbindex/internal/vector"
)

func corpus(t *testing.T, texts ...string) (*vector.FlatIndex, *docstore.Store) {
	t.Helper()
	vecs, err := vector.NewFlatIndex(2)
	require.NoError(t, err)
	docs := docstore.New()
	for i, text := range texts {
		_, err := vecs.Append([]float32{float32(i), float32(i * 2)})
		require.NoError(t, err)
		docs.Append(models.Document{Text: text, Metadata: map[string]any{"n": i}})
	}
	return vecs, docs
}

func newLocal(t *testing.T) (*storage.LocalStore, string) {
	t.Helper()
	root := t.TempDir()
	s, err := storage.NewLocalStore(root)
	require.NoError(t, err)
	return s, root
}

func TestLoad_EmptyLocation(t *testing.T) {
	s, _ := newLocal(t)
	m := NewManager(s, WithPrefix("vector_store"))

	vecs, docs, err := m.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, vecs.Len())
	assert.Equal(t, 0, docs.Len())
	assert.Equal(t, 2, vecs.Dimension())
	assert.Nil(t, m.Current())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	for _, mode := range []string{CompressionZstd, CompressionNone} {
		t.Run(mode, func(t *testing.T) {
			s, _ := newLocal(t)
			ctx := context.Background()
			vecs, docs := corpus(t, "alpha", "beta", "gamma")

			m := NewManager(s, WithPrefix("vector_store"), WithCompression(mode), WithEmbedderID("mock/2"))
			require.NoError(t, m.Save(ctx, vecs, docs))

			loaded, loadedDocs, err := NewManager(s, WithPrefix("vector_store")).Load(ctx, 2)
			require.NoError(t, err)
			require.Equal(t, 3, loaded.Len())
			require.Equal(t, 3, loadedDocs.Len())

			for i := 0; i < 3; i++ {
				want, _ := vecs.Vector(i)
				got, err := loaded.Vector(i)
				require.NoError(t, err)
				assert.Equal(t, want, got)

				wd, _ := docs.Get(i)
				gd, err := loadedDocs.Get(i)
				require.NoError(t, err)
				assert.Equal(t, wd.Text, gd.Text)
				assert.EqualValues(t, wd.Metadata["n"], gd.Metadata["n"])
			}
		})
	}
}

func TestLoad_Idempotent(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()
	vecs, docs := corpus(t, "a", "b")
	m := NewManager(s)
	require.NoError(t, m.Save(ctx, vecs, docs))

	v1, d1, err := m.Load(ctx, 2)
	require.NoError(t, err)
	v2, d2, err := m.Load(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, v1.Len(), v2.Len())
	assert.Equal(t, d1.All(), d2.All())
}

func TestSave_RemovesPreviousGeneration(t *testing.T) {
	s, root := newLocal(t)
	ctx := context.Background()
	m := NewManager(s, WithPrefix("p"))

	vecs, docs := corpus(t, "a")
	require.NoError(t, m.Save(ctx, vecs, docs))
	vecs, docs = corpus(t, "a", "b")
	require.NoError(t, m.Save(ctx, vecs, docs))

	entries, err := os.ReadDir(filepath.Join(root, "p"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"CURRENT", vectorsKey(2), documentsKey(2)}, names)
	assert.Equal(t, uint64(2), m.Current().Generation)
}

func TestSave_ContinuesGenerationFromStore(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()
	vecs, docs := corpus(t, "a")
	require.NoError(t, NewManager(s).Save(ctx, vecs, docs))

	m := NewManager(s)
	require.NoError(t, m.Save(ctx, vecs, docs))
	assert.Equal(t, uint64(2), m.Current().Generation)
}

func TestLoad_MissingArtifact(t *testing.T) {
	for _, which := range []string{"vectors", "documents", "both"} {
		t.Run(which, func(t *testing.T) {
			s, root := newLocal(t)
			ctx := context.Background()
			vecs, docs := corpus(t, "a", "b")
			require.NoError(t, NewManager(s).Save(ctx, vecs, docs))

			if which != "documents" {
				require.NoError(t, os.Remove(filepath.Join(root, vectorsKey(1))))
			}
			if which != "vectors" {
				require.NoError(t, os.Remove(filepath.Join(root, documentsKey(1))))
			}

			_, _, err := NewManager(s).Load(ctx, 2)
			assert.ErrorIs(t, err, ErrCorruption)
		})
	}
}

func TestLoad_ChecksumMismatch(t *testing.T) {
	s, root := newLocal(t)
	ctx := context.Background()
	vecs, docs := corpus(t, "a", "b")
	require.NoError(t, NewManager(s, WithCompression(CompressionNone)).Save(ctx, vecs, docs))

	p := filepath.Join(root, vectorsKey(1))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(p, data, 0644))

	_, _, err = NewManager(s).Load(ctx, 2)
	require.ErrorIs(t, err, ErrCorruption)
	assert.Contains(t, err.Error(), "checksum")
}

func TestLoad_CountMismatch(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()
	vecs, _ := corpus(t, "a", "b", "c")
	_, docs := corpus(t, "a", "b")

	m := NewManager(s, WithCompression(CompressionNone))
	var vb, db bytes.Buffer
	_, err := vecs.WriteTo(&vb)
	require.NoError(t, err)
	require.NoError(t, docs.Encode(&db))
	va, err := m.writeArtifact(ctx, vectorsKey(1), vb.Bytes())
	require.NoError(t, err)
	da, err := m.writeArtifact(ctx, documentsKey(1), db.Bytes())
	require.NoError(t, err)
	man, err := json.Marshal(Manifest{
		Version: manifestVersion, Generation: 1, Dimension: 2, Count: 3,
		Compression: CompressionNone, Vectors: va, Documents: da,
	})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, manifestKey, man))

	_, _, err = m.Load(ctx, 2)
	require.ErrorIs(t, err, ErrCorruption)
	assert.Contains(t, err.Error(), "3 vectors but 2 documents")
}

func TestLoad_DimensionMismatch(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()
	vecs, docs := corpus(t, "a")
	require.NoError(t, NewManager(s).Save(ctx, vecs, docs))

	_, _, err := NewManager(s).Load(ctx, 384)
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestLoad_GarbageManifest(t *testing.T) {
	s, _ := newLocal(t)
	require.NoError(t, s.Put(context.Background(), manifestKey, []byte("{not json")))
	_, _, err := NewManager(s).Load(context.Background(), 2)
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestLoad_ArtifactsWithoutManifest(t *testing.T) {
	for _, prefix := range []string{"", "vector_store"} {
		t.Run("prefix="+prefix, func(t *testing.T) {
			s, _ := newLocal(t)
			ctx := context.Background()
			m := NewManager(s, WithPrefix(prefix))

			vecs, docs := corpus(t, "a")
			require.NoError(t, m.Save(ctx, vecs, docs))
			vecs, docs = corpus(t, "a", "b")
			require.NoError(t, m.Save(ctx, vecs, docs))
			require.NoError(t, s.Delete(ctx, m.key(manifestKey)))

			_, _, err := NewManager(s, WithPrefix(prefix)).Load(ctx, 2)
			require.ErrorIs(t, err, ErrCorruption)
			assert.Contains(t, err.Error(), vectorsKey(2))
			assert.Contains(t, err.Error(), documentsKey(2))
		})
	}
}

func TestLoad_SingleArtifactWithoutManifest(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, vectorsKey(1), []byte("partial")))

	_, _, err := NewManager(s).Load(ctx, 2)
	require.ErrorIs(t, err, ErrCorruption)
	assert.Contains(t, err.Error(), vectorsKey(1))
}

func TestLoad_UnrelatedKeysStillEmpty(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "other/vectors-00000001.bin", []byte("x")))
	require.NoError(t, s.Put(ctx, "vector_store/notes.txt", []byte("x")))

	vecs, docs, err := NewManager(s, WithPrefix("vector_store")).Load(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, vecs.Len())
	assert.Equal(t, 0, docs.Len())
}

func TestLoad_IgnoresUncommittedNewerGeneration(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()
	vecs, docs := corpus(t, "a")
	require.NoError(t, NewManager(s).Save(ctx, vecs, docs))
	require.NoError(t, s.Put(ctx, vectorsKey(2), []byte("partial")))

	loaded, loadedDocs, err := NewManager(s).Load(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	assert.Equal(t, 1, loadedDocs.Len())
}

func TestManager_Location(t *testing.T) {
	s, root := newLocal(t)
	assert.Equal(t, "local:"+root, NewManager(s).Location())
	assert.Equal(t, "local:"+root+"/vector_store", NewManager(s, WithPrefix("vector_store")).Location())
}

// failingStore fails Put for keys containing failOn.
type failingStore struct {
	storage.Store
	failOn string
}

func (f *failingStore) Put(ctx context.Context, key string, data []byte) error {
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, data)
}

func TestSave_FailureKeepsPreviousSnapshot(t *testing.T) {
	for _, failOn := range []string{"documents-", "CURRENT"} {
		t.Run(failOn, func(t *testing.T) {
			local, _ := newLocal(t)
			fs := &failingStore{Store: local}
			ctx := context.Background()

			m := NewManager(fs)
			vecs, docs := corpus(t, "a")
			require.NoError(t, m.Save(ctx, vecs, docs))

			fs.failOn = failOn
			vecs, docs = corpus(t, "a", "b")
			err := m.Save(ctx, vecs, docs)
			require.ErrorIs(t, err, ErrPersistence)

			loaded, loadedDocs, err := NewManager(local).Load(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, 1, loaded.Len())
			assert.Equal(t, 1, loadedDocs.Len())

			fs.failOn = ""
			require.NoError(t, m.Save(ctx, vecs, docs))
			loaded, _, err = NewManager(local).Load(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, 2, loaded.Len())
		})
	}
}

func TestSave_RejectsMismatchedLengths(t *testing.T) {
	s, _ := newLocal(t)
	vecs, _ := corpus(t, "a", "b")
	_, docs := corpus(t, "a")
	err := NewManager(s).Save(context.Background(), vecs, docs)
	assert.ErrorIs(t, err, ErrPersistence)
}
