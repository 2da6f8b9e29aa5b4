// Package embedding implements the Embedding Provider Client (spec §4.1,
// C1): text in, fixed-dimension cosine-normalized vectors out, with
// client-side rate limiting and batching. The gRPC transport option is
// grounded in the teacher's AIStubClient (core/ai.go), which already
// defines a minimal stub gRPC interface for a remote TensorFlow-style
// service; the default HTTP transport mirrors the provider contract in
// spec §6 (`POST /embed`).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// Kind distinguishes the embedding task type per spec §6 (task_type).
type Kind string

const (
	KindDocument Kind = "RETRIEVAL_DOCUMENT"
	KindQuery    Kind = "RETRIEVAL_QUERY"
	KindSimilarity Kind = "SEMANTIC_SIMILARITY"
)

const maxInputBytes = 32 * 1024 // provider text limit, spec §4.1

// Transport performs the actual remote call; HTTPTransport and
// GRPCTransport both implement it.
type Transport interface {
	Embed(ctx context.Context, model string, input []string, kind Kind) ([][]float32, error)
}

// Config configures the embedding client (spec §6 embedding.*).
type Config struct {
	Model             string
	Dimension         int
	RequestsPerMinute int
	BatchSize         int
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
}

// Client is the Embedding Provider Client (C1).
type Client struct {
	cfg       Config
	transport Transport
	limiter   *rpmLimiter
	log       *logrus.Entry
}

// New builds a Client around transport.
func New(cfg Config, transport Transport) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &Client{
		cfg:       cfg,
		transport: transport,
		limiter:   newRPMLimiter(cfg.RequestsPerMinute),
		log:       logrus.WithField("component", "embedding"),
	}
}

// Embed turns a single text into a normalized vector.
func (c *Client) Embed(ctx context.Context, text string, kind Kind) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text}, kind)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds many texts, splitting into provider-sized batches and
// concatenating results in input order (spec §4.1: "larger inputs split
// and results concatenated preserving order").
func (c *Client) EmbedBatch(ctx context.Context, texts []string, kind Kind) ([][]float32, error) {
	for _, t := range texts {
		if len(t) == 0 {
			return nil, pdwerr.New("embedding.EmbedBatch", pdwerr.InvalidInput, "empty text")
		}
		if len(t) > maxInputBytes {
			return nil, pdwerr.New("embedding.EmbedBatch", pdwerr.InvalidInput, "text exceeds provider limit")
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := c.embedChunkWithRetry(ctx, texts[start:end], kind)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	for i, v := range out {
		out[i] = normalize(v)
	}
	return out, nil
}

func (c *Client) embedChunkWithRetry(ctx context.Context, chunk []string, kind Kind) ([][]float32, error) {
	var lastErr error
	backoff := c.cfg.BaseBackoff
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if !c.limiter.Wait(ctx.Done()) {
			return nil, pdwerr.New("embedding.embedChunk", pdwerr.Canceled, "rate limiter wait canceled")
		}
		vecs, err := c.transport.Embed(ctx, c.cfg.Model, chunk, kind)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		kind := pdwerr.KindOf(err)
		if !pdwerr.Retryable(kind) {
			return nil, err
		}
		c.log.WithError(err).WithField("attempt", attempt).Warn("embedding provider call failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, pdwerr.Wrap("embedding.embedChunk", pdwerr.Canceled, ctx.Err())
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
	return nil, pdwerr.Wrap("embedding.embedChunk", pdwerr.KindOf(lastErr), lastErr)
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// HTTPTransport implements Transport against the REST contract in spec §6.
type HTTPTransport struct {
	Endpoint string
	APIKey   string
	HTTP     *http.Client
}

type embedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	TaskType Kind     `json:"task_type"`
}

type embedResponse struct {
	Vector  []float32   `json:"vector"`
	Vectors [][]float32 `json:"vectors"`
}

func (t *HTTPTransport) Embed(ctx context.Context, model string, input []string, kind Kind) ([][]float32, error) {
	httpClient := t.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	body, err := json.Marshal(embedRequest{Model: model, Input: input, TaskType: kind})
	if err != nil {
		return nil, pdwerr.Wrap("embedding.HTTPTransport.Embed", pdwerr.InvalidInput, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, pdwerr.Wrap("embedding.HTTPTransport.Embed", pdwerr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, pdwerr.Wrap("embedding.HTTPTransport.Embed", pdwerr.Unavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, pdwerr.New("embedding.HTTPTransport.Embed", pdwerr.RateLimited, "provider rate limited")
	case http.StatusOK:
		// fallthrough
	default:
		if resp.StatusCode >= 500 {
			return nil, pdwerr.New("embedding.HTTPTransport.Embed", pdwerr.Unavailable, fmt.Sprintf("provider status %d", resp.StatusCode))
		}
		return nil, pdwerr.New("embedding.HTTPTransport.Embed", pdwerr.InvalidInput, fmt.Sprintf("provider status %d", resp.StatusCode))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pdwerr.Wrap("embedding.HTTPTransport.Embed", pdwerr.Internal, err)
	}
	if len(out.Vectors) > 0 {
		return out.Vectors, nil
	}
	if len(input) == 1 && out.Vector != nil {
		return [][]float32{out.Vector}, nil
	}
	return nil, pdwerr.New("embedding.HTTPTransport.Embed", pdwerr.Internal, "provider returned no vectors")
}
