package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStubClient struct {
	gotModel string
	gotInput []string
	gotKind  Kind
}

func (f *fakeStubClient) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	f.gotModel, f.gotInput, f.gotKind = req.Model, req.Input, req.Kind
	out := make([][]float32, len(req.Input))
	for i := range req.Input {
		out[i] = []float32{float32(i), 1}
	}
	return &EmbedResponse{Vectors: out}, nil
}

func TestGRPCTransportForwardsRequest(t *testing.T) {
	stub := &fakeStubClient{}
	tr := &GRPCTransport{Client: stub}

	vecs, err := tr.Embed(context.Background(), "text-embed-v1", []string{"a", "b"}, KindDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, "text-embed-v1", stub.gotModel)
	require.Equal(t, KindDocument, stub.gotKind)
}

func TestGRPCTransportRejectsUnconfiguredClient(t *testing.T) {
	tr := &GRPCTransport{}
	_, err := tr.Embed(context.Background(), "m", []string{"a"}, KindQuery)
	require.Error(t, err)
}
