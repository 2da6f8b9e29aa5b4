package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sealwallet/pdw-core/internal/batch"
	"github.com/sealwallet/pdw-core/internal/blobstore"
	"github.com/sealwallet/pdw-core/internal/classifier"
	"github.com/sealwallet/pdw-core/internal/embedding"
	"github.com/sealwallet/pdw-core/internal/graph"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
	"github.com/sealwallet/pdw-core/internal/registry"
)

type fakeTransport struct{}

func (fakeTransport) Embed(ctx context.Context, modelID string, input []string, kind embedding.Kind) ([][]float32, error) {
	out := make([][]float32, len(input))
	for i := range input {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type seqVectorIDs struct{ next uint64 }

func (s *seqVectorIDs) NextVectorID(ctx context.Context, user model.Address) (uint64, error) {
	s.next++
	return s.next, nil
}

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) ([]graph.Entity, []graph.Relationship, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return []graph.Entity{{ID: "e1", Label: "Alice", Type: "Person", Confidence: 0.9}}, nil, nil
}

type fakeEncryptor struct{}

func (fakeEncryptor) Encrypt(ctx context.Context, plaintext, identity []byte) ([]byte, []byte, error) {
	out := append([]byte("enc:"), plaintext...)
	return out, []byte("backup-key"), nil
}

type fakeSubmitter struct {
	fail bool
	txs  []registry.Tx
}

func (f *fakeSubmitter) Submit(ctx context.Context, tx registry.Tx) error {
	f.txs = append(f.txs, tx)
	if f.fail {
		return pdwerr.New("fakeSubmitter.Submit", pdwerr.Internal, "boom")
	}
	return nil
}

func newTestOrchestrator(t *testing.T, cfg Config, extractor GraphExtractor, submitter Submitter) (*Orchestrator, *batch.Coordinator) {
	t.Helper()
	coord := batch.New(batch.Config{MaxPending: 1000, MaxDelayMS: 60_000, MaxCASRetries: 3}, nil)
	blobs, err := blobstore.NewLocalBlobStore(t.TempDir(), 16, time.Minute)
	require.NoError(t, err)

	deps := Deps{
		Classifier: classifier.New(nil),
		Embedder:   embedding.New(embedding.Config{Model: "m", Dimension: 3}, fakeTransport{}),
		VectorIDs:  &seqVectorIDs{},
		Enqueuer:   coord,
		Graph:      extractor,
		Encryption: fakeEncryptor{},
		Blobs:      blobs,
		Submitter:  submitter,
	}
	return New(cfg, deps, 10), coord
}

func testMemory() model.Memory {
	var owner model.Address
	owner[0] = 0x42
	return model.Memory{
		ID:        "mem1",
		Owner:     owner,
		Content:   "Alice likes Go",
		Category:  "general",
		CreatedAt: time.Now(),
	}
}

func TestRunSucceedsThroughAllSteps(t *testing.T) {
	sub := &fakeSubmitter{}
	o, coord := newTestOrchestrator(t, Config{EnableGraph: true, EnableEncryption: true, MaxRetryAttempts: 2}, &fakeExtractor{}, sub)

	rec, err := o.Run(context.Background(), testMemory())
	require.NoError(t, err)
	require.True(t, rec.Success)
	require.Len(t, sub.txs, 1)
	require.Equal(t, "create_memory_record", sub.txs[0].Entry)

	var owner model.Address
	owner[0] = 0x42
	require.Len(t, coord.PendingVectors(owner), 2) // vector entry + graph entity entry
}

func TestRunSkipsGraphWhenDisabled(t *testing.T) {
	sub := &fakeSubmitter{}
	o, _ := newTestOrchestrator(t, Config{EnableGraph: false, EnableEncryption: true}, &fakeExtractor{}, sub)

	rec, err := o.Run(context.Background(), testMemory())
	require.NoError(t, err)
	require.True(t, rec.Success)

	var found bool
	for _, s := range rec.Steps {
		if s.Step == StepGraphUpdate {
			found = true
			require.Equal(t, "skipped", s.Status)
		}
	}
	require.True(t, found)
}

func TestRunTreatsGraphFailureAsNonFatalUnderSkipFailedSteps(t *testing.T) {
	sub := &fakeSubmitter{}
	o, _ := newTestOrchestrator(t, Config{EnableGraph: true, SkipFailedSteps: true, EnableEncryption: true},
		&fakeExtractor{err: pdwerr.New("extract", pdwerr.Internal, "nlp down")}, sub)

	rec, err := o.Run(context.Background(), testMemory())
	require.NoError(t, err)
	require.True(t, rec.Success)
}

func TestRunRollsBackOnRecordCreateFailure(t *testing.T) {
	sub := &fakeSubmitter{fail: true}
	o, coord := newTestOrchestrator(t, Config{RollbackOnFailure: true, EnableEncryption: true}, nil, sub)

	rec, err := o.Run(context.Background(), testMemory())
	require.Error(t, err)
	require.False(t, rec.Success)
	require.True(t, rec.RolledBack)

	var owner model.Address
	owner[0] = 0x42
	pending := coord.PendingVectors(owner)
	require.Len(t, pending, 2) // original add + tombstone
	require.True(t, pending[1].Tombstone)
}

func TestLastExecutionsBounded(t *testing.T) {
	sub := &fakeSubmitter{}
	o, _ := newTestOrchestrator(t, Config{EnableEncryption: true}, nil, sub)

	for i := 0; i < 3; i++ {
		_, err := o.Run(context.Background(), testMemory())
		require.NoError(t, err)
	}
	require.Len(t, o.LastExecutions(2), 2)
	require.Len(t, o.LastExecutions(100), 3)
}
