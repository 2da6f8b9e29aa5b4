package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealwallet/pdw-core/internal/crypto/ibe"
	"github.com/sealwallet/pdw-core/internal/embedding"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
	"github.com/sealwallet/pdw-core/internal/vectorindex"
)

type fakeTransport struct{}

func (fakeTransport) Embed(ctx context.Context, modelID string, input []string, kind embedding.Kind) ([][]float32, error) {
	out := make([][]float32, len(input))
	for i := range input {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fixedIndexProvider struct{ idx *vectorindex.Index }

func (f fixedIndexProvider) CurrentIndex(ctx context.Context, user model.Address) (*vectorindex.Index, error) {
	return f.idx, nil
}

type mapResolver map[uint64]string

func (m mapResolver) ResolveMemoryID(ctx context.Context, user model.Address, vectorID uint64) (string, bool) {
	id, ok := m[vectorID]
	return id, ok
}

type mapMemories map[string]*model.MemoryRecord

func (m mapMemories) GetMemory(ctx context.Context, id string) (*model.MemoryRecord, error) {
	rec, ok := m[id]
	if !ok {
		return nil, pdwerr.New("mapMemories.GetMemory", pdwerr.NotFound, "not found")
	}
	return rec, nil
}

type mapBlobs map[string][]byte

func (m mapBlobs) Get(ctx context.Context, blobID string) ([]byte, error) {
	b, ok := m[blobID]
	if !ok {
		return nil, pdwerr.New("mapBlobs.Get", pdwerr.NotFound, "no such blob")
	}
	return b, nil
}

type echoDecryptor struct{ deny map[string]bool }

func (d echoDecryptor) Decrypt(ctx context.Context, ciphertext, identity []byte, session *ibe.SessionKey, approvalTx []byte) ([]byte, error) {
	if d.deny != nil && d.deny[string(ciphertext)] {
		return nil, pdwerr.New("echoDecryptor.Decrypt", pdwerr.Unauthorized, "denied")
	}
	return ciphertext, nil
}

func buildIndex(t *testing.T) *vectorindex.Index {
	t.Helper()
	idx := vectorindex.New(vectorindex.Config{Dimension: 3, M: 8, EfConstruction: 100, MaxElements: 100})
	require.NoError(t, idx.Add(1, []float32{1, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0}))
	require.NoError(t, idx.Add(3, []float32{0.9, 0.1, 0}))
	return idx
}

func TestSearchRanksBySimilarityAndTruncates(t *testing.T) {
	idx := buildIndex(t)
	resolver := mapResolver{1: "m1", 2: "m2", 3: "m3"}
	memories := mapMemories{
		"m1": {MemoryID: "m1", Metadata: model.MemoryMetadata{Category: "general", Importance: 5, CreatedTS: 100}},
		"m2": {MemoryID: "m2", Metadata: model.MemoryMetadata{Category: "general", Importance: 5, CreatedTS: 100}},
		"m3": {MemoryID: "m3", Metadata: model.MemoryMetadata{Category: "general", Importance: 5, CreatedTS: 100}},
	}
	e := New(Config{}, embedding.New(embedding.Config{Model: "m", Dimension: 3}, fakeTransport{}),
		fixedIndexProvider{idx}, resolver, memories, mapBlobs{}, echoDecryptor{})

	var user model.Address
	results, err := e.Search(context.Background(), SearchInput{QueryText: "q", User: user, K: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "m1", results[0].MemoryID) // exact match on [1,0,0]
}

func TestSearchFiltersByCategoryAndMinSimilarity(t *testing.T) {
	idx := buildIndex(t)
	resolver := mapResolver{1: "m1", 2: "m2", 3: "m3"}
	memories := mapMemories{
		"m1": {MemoryID: "m1", Metadata: model.MemoryMetadata{Category: "general", CreatedTS: 100}},
		"m2": {MemoryID: "m2", Metadata: model.MemoryMetadata{Category: "other", CreatedTS: 100}},
		"m3": {MemoryID: "m3", Metadata: model.MemoryMetadata{Category: "general", CreatedTS: 100}},
	}
	e := New(Config{}, embedding.New(embedding.Config{Model: "m", Dimension: 3}, fakeTransport{}),
		fixedIndexProvider{idx}, resolver, memories, mapBlobs{}, echoDecryptor{})

	var user model.Address
	results, err := e.Search(context.Background(), SearchInput{QueryText: "q", User: user, K: 10, Category: "general"})
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, "m2", r.MemoryID)
	}
}

func TestAssembleContextDropsUndecryptableMemories(t *testing.T) {
	idx := buildIndex(t)
	resolver := mapResolver{1: "m1", 2: "m2"}
	memories := mapMemories{
		"m1": {MemoryID: "m1", BlobID: "b1", Metadata: model.MemoryMetadata{CreatedTS: 100}},
		"m2": {MemoryID: "m2", BlobID: "b2", Metadata: model.MemoryMetadata{CreatedTS: 100}},
	}
	blobs := mapBlobs{"b1": []byte("secret one"), "b2": []byte("secret two")}
	dec := echoDecryptor{deny: map[string]bool{"secret two": true}}

	e := New(Config{MaxContextChars: 1000}, embedding.New(embedding.Config{Model: "m", Dimension: 3}, fakeTransport{}),
		fixedIndexProvider{idx}, resolver, memories, blobs, dec)

	var user model.Address
	res, err := e.AssembleContext(context.Background(), AssembleInput{QueryText: "q", User: user, K: 5})
	require.NoError(t, err)
	require.Contains(t, res.ContextString, "secret one")
	require.NotContains(t, res.ContextString, "secret two")
	require.Equal(t, 1, res.Stats.Allowed)
	require.Equal(t, 2, res.Stats.Found)
}

func TestAssembleContextClipsToMaxContextChars(t *testing.T) {
	idx := vectorindex.New(vectorindex.Config{Dimension: 3, M: 8, EfConstruction: 100, MaxElements: 100})
	require.NoError(t, idx.Add(1, []float32{1, 0, 0}))
	resolver := mapResolver{1: "m1"}
	memories := mapMemories{"m1": {MemoryID: "m1", BlobID: "b1", Metadata: model.MemoryMetadata{CreatedTS: 100}}}
	blobs := mapBlobs{"b1": []byte("0123456789")}

	e := New(Config{MaxContextChars: 4}, embedding.New(embedding.Config{Model: "m", Dimension: 3}, fakeTransport{}),
		fixedIndexProvider{idx}, resolver, memories, blobs, echoDecryptor{})

	var user model.Address
	res, err := e.AssembleContext(context.Background(), AssembleInput{QueryText: "q", User: user, K: 5})
	require.NoError(t, err)
	require.Len(t, res.ContextString, 4)
}
