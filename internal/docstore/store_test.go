package docstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbindex/internal/models"
)

func TestStore_AppendGet(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Append(models.Document{Text: "a"}))
	assert.Equal(t, 1, s.Append(models.Document{Text: "b", Metadata: map[string]any{"id": "x"}}))
	assert.Equal(t, 2, s.Len())

	d, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "b", d.Text)
	assert.Equal(t, "x", d.Metadata["id"])
}

func TestStore_GetOutOfRange(t *testing.T) {
	s := New()
	s.Append(models.Document{Text: "a"})

	for _, ord := range []int{-1, 1, 100} {
		_, err := s.Get(ord)
		assert.ErrorIs(t, err, ErrOutOfRange, "ordinal %d", ord)
	}
}

func TestStore_IsolatesMetadata(t *testing.T) {
	s := New()
	meta := map[string]any{"k": "v"}
	s.Append(models.Document{Text: "a", Metadata: meta})
	meta["k"] = "mutated"

	d, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "v", d.Metadata["k"])

	d.Metadata["k"] = "again"
	d2, _ := s.Get(0)
	assert.Equal(t, "v", d2.Metadata["k"])
}

func TestStore_All(t *testing.T) {
	s := New()
	s.Append(models.Document{Text: "first"})
	s.Append(models.Document{Text: "second"})
	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].Text)
	assert.Equal(t, "second", all[1].Text)
}

func TestCodec_RoundTrip(t *testing.T) {
	s := New()
	s.Append(models.Document{Text: "alpha", Metadata: map[string]any{"source": "faq", "page": 7, "weight": 0.25, "draft": true}})
	s.Append(models.Document{Text: "beta"})

	var buf bytes.Buffer
	require.NoError(t, s.Encode(&buf))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	d, err := got.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", d.Text)
	assert.Equal(t, "faq", d.Metadata["source"])
	assert.EqualValues(t, 7, d.Metadata["page"])
	assert.Equal(t, 0.25, d.Metadata["weight"])
	assert.Equal(t, true, d.Metadata["draft"])

	d, err = got.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "beta", d.Text)
	assert.Empty(t, d.Metadata)
}

func TestCodec_MetadataTypesStable(t *testing.T) {
	s := New()
	s.Append(models.Document{Text: "a", Metadata: map[string]any{
		"small": 7, "large": 4096, "negative": -300, "u": uint32(200),
		"ratio": float32(0.5), "big": uint64(1 << 63),
	}})
	before, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), before.Metadata["small"])
	assert.Equal(t, int64(4096), before.Metadata["large"])
	assert.Equal(t, int64(200), before.Metadata["u"])
	assert.Equal(t, float64(0.5), before.Metadata["ratio"])
	assert.Equal(t, uint64(1<<63), before.Metadata["big"])

	var buf bytes.Buffer
	require.NoError(t, s.Encode(&buf))
	got, err := Decode(&buf)
	require.NoError(t, err)
	after, err := got.Get(0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{0xc1, 0x00, 0x01}))
	assert.Error(t, err)
}
