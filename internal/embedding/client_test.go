package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

type fakeTransport struct {
	calls   int
	failN   int // fail the first failN calls with Unavailable
	dim     int
}

func (f *fakeTransport) Embed(ctx context.Context, model string, input []string, kind Kind) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failN {
		return nil, pdwerr.New("fake", pdwerr.Unavailable, "down")
	}
	out := make([][]float32, len(input))
	for i := range input {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(i + 1)
		}
		out[i] = v
	}
	return out, nil
}

func TestEmbedBatchPreservesOrderAndSplits(t *testing.T) {
	ft := &fakeTransport{dim: 4}
	c := New(Config{BatchSize: 2, RequestsPerMinute: 0}, ft)

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := c.EmbedBatch(context.Background(), texts, KindDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for _, v := range vecs {
		require.Len(t, v, 4)
	}
}

func TestEmbedBatchRejectsEmptyText(t *testing.T) {
	ft := &fakeTransport{dim: 4}
	c := New(Config{}, ft)
	_, err := c.EmbedBatch(context.Background(), []string{""}, KindQuery)
	require.Error(t, err)
	require.True(t, pdwerr.Is(err, pdwerr.InvalidInput))
}

func TestEmbedBatchRetriesUnavailable(t *testing.T) {
	ft := &fakeTransport{dim: 2, failN: 2}
	c := New(Config{MaxRetries: 3, BaseBackoff: 0}, ft)
	vecs, err := c.EmbedBatch(context.Background(), []string{"x"}, KindQuery)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Equal(t, 3, ft.calls)
}

func TestNormalizeProducesUnitVector(t *testing.T) {
	v := normalize([]float32{3, 4})
	require.InDelta(t, 1.0, float64(v[0]*v[0]+v[1]*v[1]), 1e-6)
}
