package batch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sealwallet/pdw-core/internal/blobstore"
	"github.com/sealwallet/pdw-core/internal/graph"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
	"github.com/sealwallet/pdw-core/internal/registry"
	"github.com/sealwallet/pdw-core/internal/store"
	"github.com/sealwallet/pdw-core/internal/vectorindex"
)

func TestEnqueueTriggersImmediateFlushAtMaxPending(t *testing.T) {
	var flushes int32
	c := New(Config{MaxPending: 2, MaxDelayMS: 60_000, MaxCASRetries: 3}, func(model.Address) {
		atomic.AddInt32(&flushes, 1)
	})
	var user model.Address
	c.Enqueue(user, Entry{VectorID: 1, MemoryID: "m1", Vector: []float32{1, 0}})
	require.EqualValues(t, 0, atomic.LoadInt32(&flushes))
	c.Enqueue(user, Entry{VectorID: 2, MemoryID: "m2", Vector: []float32{0, 1}})
	require.EqualValues(t, 1, atomic.LoadInt32(&flushes))
}

func TestEnqueueDebounceTimerFiresFlush(t *testing.T) {
	done := make(chan struct{}, 1)
	c := New(Config{MaxPending: 100, MaxDelayMS: 10, MaxCASRetries: 3}, func(model.Address) {
		done <- struct{}{}
	})
	var user model.Address
	c.Enqueue(user, Entry{VectorID: 1, MemoryID: "m1", Vector: []float32{1, 0}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounce timer never fired")
	}
}

func TestResolveMemoryIDAndPendingVectors(t *testing.T) {
	c := New(Config{MaxPending: 100, MaxDelayMS: 60_000, MaxCASRetries: 3}, nil)
	var user model.Address
	c.Enqueue(user, Entry{VectorID: 5, MemoryID: "m5", Vector: []float32{1, 1}})

	id, ok := c.ResolveMemoryID(user, 5)
	require.True(t, ok)
	require.Equal(t, "m5", id)

	_, ok = c.ResolveMemoryID(user, 999)
	require.False(t, ok)

	require.Len(t, c.PendingVectors(user), 1)
}

// fakeIndexReader serves GetMemoryIndex from an in-memory map, returning
// NotFound (via a nil root) the way registry.Client does for a brand new
// user.
type fakeIndexReader struct {
	root *model.MemoryIndexRoot
}

func (f *fakeIndexReader) GetMemoryIndex(ctx context.Context, owner model.Address) (*model.MemoryIndexRoot, error) {
	if f.root == nil {
		return nil, pdwerr.New("fakeIndexReader.GetMemoryIndex", pdwerr.NotFound, "no index for owner")
	}
	return f.root, nil
}

// fakeSubmitter records submitted transactions and can be told to reject
// the first N attempts with Conflict to exercise the retry path.
type fakeSubmitter struct {
	reader       *fakeIndexReader
	blobs        blobstore.BlobStore
	rejectFirstN int
	attempts     int
	lastTx       registry.Tx
}

func (s *fakeSubmitter) Submit(ctx context.Context, tx registry.Tx) error {
	s.attempts++
	s.lastTx = tx
	if s.attempts <= s.rejectFirstN {
		return pdwerr.New("fakeSubmitter.Submit", pdwerr.Conflict, "version mismatch")
	}
	owner := s.reader.root.Owner
	s.reader.root = &model.MemoryIndexRoot{
		Owner:       owner,
		Version:     s.reader.root.Version + 1,
		IndexBlobID: tx.Args["new_index_blob_id"].(string),
		GraphBlobID: tx.Args["new_graph_blob_id"].(string),
	}
	return nil
}

func newTestDeps(t *testing.T, reader *fakeIndexReader) (Deps, *store.Registry) {
	t.Helper()
	blobs, err := blobstore.NewLocalBlobStore(t.TempDir(), 16, time.Minute)
	require.NoError(t, err)
	users := store.NewRegistry(store.NewMemoryFactory(), 0)
	return Deps{
		Index:     reader,
		Blobs:     blobs,
		Users:     users,
		Dimension: 2,
		GraphMin:  0.5,
	}, users
}

func TestFlushEmptyJournalIsNoop(t *testing.T) {
	c := New(Config{MaxPending: 100, MaxDelayMS: 60_000, MaxCASRetries: 3}, nil)
	var user model.Address
	reader := &fakeIndexReader{root: &model.MemoryIndexRoot{Owner: user}}
	deps, _ := newTestDeps(t, reader)
	sub := &fakeSubmitter{reader: reader, blobs: deps.Blobs}

	require.NoError(t, c.Flush(context.Background(), user, deps, sub))
	require.Equal(t, 0, sub.attempts)
}

func TestFlushAppliesPendingAndSubmits(t *testing.T) {
	c := New(Config{MaxPending: 100, MaxDelayMS: 60_000, MaxCASRetries: 3}, nil)
	var user model.Address
	reader := &fakeIndexReader{root: &model.MemoryIndexRoot{Owner: user}}
	deps, _ := newTestDeps(t, reader)
	sub := &fakeSubmitter{reader: reader, blobs: deps.Blobs}

	c.Enqueue(user, Entry{VectorID: 1, MemoryID: "m1", Vector: []float32{1, 0}})
	c.Enqueue(user, Entry{VectorID: 2, MemoryID: "m2", Vector: []float32{0, 1}, GraphEntities: []graph.Entity{
		{ID: "e1", Label: "Alice", Type: "Person", Confidence: 0.9},
	}})

	require.NoError(t, c.Flush(context.Background(), user, deps, sub))
	require.Equal(t, 1, sub.attempts)
	require.Empty(t, c.PendingVectors(user))

	data, err := deps.Blobs.Get(context.Background(), reader.root.IndexBlobID)
	require.NoError(t, err)
	idx, err := vectorindex.Deserialize(data, 2)
	require.NoError(t, err)
	require.Equal(t, 2, idx.Size())

	gdata, err := deps.Blobs.Get(context.Background(), reader.root.GraphBlobID)
	require.NoError(t, err)
	g, err := graph.Deserialize(gdata)
	require.NoError(t, err)
	require.Equal(t, 1, g.EntityCount())
}

func TestFlushRetriesOnConflictThenSucceeds(t *testing.T) {
	c := New(Config{MaxPending: 100, MaxDelayMS: 60_000, MaxCASRetries: 3}, nil)
	var user model.Address
	reader := &fakeIndexReader{root: &model.MemoryIndexRoot{Owner: user}}
	deps, _ := newTestDeps(t, reader)
	sub := &fakeSubmitter{reader: reader, blobs: deps.Blobs, rejectFirstN: 2}

	c.Enqueue(user, Entry{VectorID: 1, MemoryID: "m1", Vector: []float32{1, 0}})

	require.NoError(t, c.Flush(context.Background(), user, deps, sub))
	require.Equal(t, 3, sub.attempts)
}

func TestFlushSurfacesConflictExhausted(t *testing.T) {
	c := New(Config{MaxPending: 100, MaxDelayMS: 60_000, MaxCASRetries: 2}, nil)
	var user model.Address
	reader := &fakeIndexReader{root: &model.MemoryIndexRoot{Owner: user}}
	deps, _ := newTestDeps(t, reader)
	sub := &fakeSubmitter{reader: reader, blobs: deps.Blobs, rejectFirstN: 99}

	c.Enqueue(user, Entry{VectorID: 1, MemoryID: "m1", Vector: []float32{1, 0}})

	err := c.Flush(context.Background(), user, deps, sub)
	require.Error(t, err)
	require.True(t, pdwerr.Is(err, pdwerr.Conflict))
	require.Len(t, c.PendingVectors(user), 1)
}
