package embedding

import (
	"context"

	"google.golang.org/grpc"

	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// EmbedRequest/EmbedResponse are the minimal gRPC message shapes for the
// embedding service, the same "proto compiled separately, minimal stub
// interface here" approach the teacher takes for its AI service
// (core/ai.go's TFRequest/TFResponse/AIStubClient).
type EmbedRequest struct {
	Model string
	Input []string
	Kind  Kind
}

type EmbedResponse struct {
	Vectors [][]float32
}

// EmbedStubClient is the minimal gRPC client surface for a remote
// embedding service, mirroring core/ai.go's AIStubClient.
type EmbedStubClient interface {
	Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error)
}

// GRPCTransport adapts an EmbedStubClient to the Transport interface, an
// alternative to HTTPTransport for deployments fronting the embedding
// provider with a gRPC gateway instead of REST.
type GRPCTransport struct {
	Client EmbedStubClient
	Conn   *grpc.ClientConn
}

func (t *GRPCTransport) Embed(ctx context.Context, model string, input []string, kind Kind) ([][]float32, error) {
	if t.Client == nil {
		return nil, pdwerr.New("embedding.GRPCTransport.Embed", pdwerr.Unavailable, "grpc client not configured")
	}
	resp, err := t.Client.Embed(ctx, &EmbedRequest{Model: model, Input: input, Kind: kind})
	if err != nil {
		return nil, pdwerr.Wrap("embedding.GRPCTransport.Embed", pdwerr.Unavailable, err)
	}
	return resp.Vectors, nil
}
