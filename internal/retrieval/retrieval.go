// Package retrieval implements the Retrieval & Query Engine (spec §4.11,
// C11): query embedding, ANN search over the per-user index view,
// vector_id -> memory_id resolution, permission-aware decryption
// fan-out, and bounded context assembly. Grounded on the teacher's
// read-path layering in core/ai.go (embed -> rank -> assemble) and its
// "never surface plaintext the caller isn't entitled to" posture carried
// over from internal/crypto/ibe's decrypt invariants.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sealwallet/pdw-core/internal/crypto/ibe"
	"github.com/sealwallet/pdw-core/internal/embedding"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
	"github.com/sealwallet/pdw-core/internal/vectorindex"
)

// IndexProvider returns the current searchable view of a user's index:
// the last persisted snapshot with any still-pending batch-journal
// mutations already applied on top, so freshly enqueued vectors are
// searchable (spec §4.9 "Reads from C11 always consult the in-memory
// journal before falling back to the last persisted snapshot").
type IndexProvider interface {
	CurrentIndex(ctx context.Context, user model.Address) (*vectorindex.Index, error)
}

// MemoryResolver answers vector_id -> memory_id (spec §4.11 step 3,
// "via C7 lookup with a small local map maintained by C9").
type MemoryResolver interface {
	ResolveMemoryID(ctx context.Context, user model.Address, vectorID uint64) (string, bool)
}

// MemoryReader is the subset of registry.Client retrieval needs for
// metadata filtering and content blob ids.
type MemoryReader interface {
	GetMemory(ctx context.Context, id string) (*model.MemoryRecord, error)
}

// BlobGetter is the subset of blobstore.BlobStore retrieval needs.
type BlobGetter interface {
	Get(ctx context.Context, blobID string) ([]byte, error)
}

// Decryptor is the subset of ibe.Engine.Decrypt assemble_context needs.
type Decryptor interface {
	Decrypt(ctx context.Context, ciphertext, identity []byte, session *ibe.SessionKey, approvalTx []byte) ([]byte, error)
}

// Config mirrors spec §6 retrieval.* plus the overfetch knob §4.11 step 2
// describes.
type Config struct {
	OverfetchFactor int
	EfSearch        int
	MaxContextChars int
}

// Engine is the Retrieval & Query Engine (C11).
type Engine struct {
	cfg      Config
	embedder *embedding.Client
	index    IndexProvider
	resolver MemoryResolver
	memories MemoryReader
	blobs    BlobGetter
	decrypt  Decryptor
}

// New builds an Engine.
func New(cfg Config, embedder *embedding.Client, index IndexProvider, resolver MemoryResolver, memories MemoryReader, blobs BlobGetter, decrypt Decryptor) *Engine {
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = 3
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 8000
	}
	return &Engine{cfg: cfg, embedder: embedder, index: index, resolver: resolver, memories: memories, blobs: blobs, decrypt: decrypt}
}

// TimeRange bounds MemoryMetadata.CreatedTS inclusively (spec §4.11
// "time_range?").
type TimeRange struct {
	From time.Time
	To   time.Time
}

// SearchInput is the search({...}) payload (spec §4.11).
type SearchInput struct {
	QueryText     string
	User          model.Address
	K             int
	Category      string
	MinSimilarity float64
	TimeRange     *TimeRange
}

// SearchResult is one ranked candidate (spec §4.11).
type SearchResult struct {
	MemoryID   string
	Similarity float64
	Metadata   model.MemoryMetadata
}

// Search implements spec §4.11's five-step search.
func (e *Engine) Search(ctx context.Context, in SearchInput) ([]SearchResult, error) {
	results, _, _, err := e.search(ctx, in)
	return results, err
}

func (e *Engine) search(ctx context.Context, in SearchInput) (results []SearchResult, embedMS, searchMS int64, err error) {
	if in.K <= 0 {
		return nil, 0, 0, pdwerr.New("retrieval.Engine.Search", pdwerr.InvalidInput, "k must be positive")
	}

	embedStart := time.Now()
	queryVec, err := e.embedder.Embed(ctx, in.QueryText, embedding.KindQuery)
	embedMS = time.Since(embedStart).Milliseconds()
	if err != nil {
		return nil, embedMS, 0, err
	}

	searchStart := time.Now()
	idx, err := e.index.CurrentIndex(ctx, in.User)
	if err != nil {
		return nil, embedMS, 0, err
	}

	kPrime := in.K * e.cfg.OverfetchFactor
	if kPrime < in.K {
		kPrime = in.K
	}
	neighbors, err := idx.Search(queryVec, kPrime, e.cfg.EfSearch)
	if err != nil {
		return nil, embedMS, 0, err
	}

	results = make([]SearchResult, 0, len(neighbors))
	for _, n := range neighbors {
		memoryID, ok := e.resolver.ResolveMemoryID(ctx, in.User, n.VectorID)
		if !ok {
			continue
		}
		rec, err := e.memories.GetMemory(ctx, memoryID)
		if err != nil {
			if pdwerr.Is(err, pdwerr.NotFound) {
				continue
			}
			return nil, embedMS, time.Since(searchStart).Milliseconds(), err
		}

		if in.Category != "" && rec.Metadata.Category != in.Category {
			continue
		}
		if in.TimeRange != nil {
			ts := time.Unix(rec.Metadata.CreatedTS, 0)
			if ts.Before(in.TimeRange.From) || ts.After(in.TimeRange.To) {
				continue
			}
		}

		similarity := 1 - n.Distance
		if similarity < in.MinSimilarity {
			continue
		}

		results = append(results, SearchResult{MemoryID: memoryID, Similarity: similarity, Metadata: rec.Metadata})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].Metadata.Importance != results[j].Metadata.Importance {
			return results[i].Metadata.Importance > results[j].Metadata.Importance
		}
		return results[i].Metadata.CreatedTS < results[j].Metadata.CreatedTS
	})

	if len(results) > in.K {
		results = results[:in.K]
	}
	return results, embedMS, time.Since(searchStart).Milliseconds(), nil
}

// AssembleInput is the assemble_context({...}) payload (spec §4.11).
type AssembleInput struct {
	QueryText        string
	User             model.Address
	K                int
	RequestingWallet model.Address
	Session          *ibe.SessionKey
	ApprovalTx       []byte
}

// Stats reports the per-call timing and funnel counts (spec §4.11 step 5).
type Stats struct {
	EmbedMS   int64
	SearchMS  int64
	DecryptMS int64
	Found     int
	Allowed   int
}

// ContextResult is assemble_context's return value (spec §4.11).
type ContextResult struct {
	ContextString string
	MemoriesUsed  []string
	Stats         Stats
}

// AssembleContext implements spec §4.11's assemble_context: search for
// candidates, attempt decryption per candidate, and concatenate what the
// requester is authorized to read in descending similarity order, never
// surfacing plaintext for memories that fail decryption (only a count).
func (e *Engine) AssembleContext(ctx context.Context, in AssembleInput) (ContextResult, error) {
	results, embedMS, searchMS, err := e.search(ctx, SearchInput{QueryText: in.QueryText, User: in.User, K: in.K})
	if err != nil {
		return ContextResult{}, err
	}

	stats := Stats{EmbedMS: embedMS, SearchMS: searchMS, Found: len(results)}

	var sb strings.Builder
	var used []string
	decryptStart := time.Now()
	for _, r := range results {
		rec, err := e.memories.GetMemory(ctx, r.MemoryID)
		if err != nil {
			continue
		}
		ciphertext, err := e.blobs.Get(ctx, rec.BlobID)
		if err != nil {
			continue
		}
		plaintext, err := e.decrypt.Decrypt(ctx, ciphertext, in.User.Bytes(), in.Session, in.ApprovalTx)
		if err != nil {
			continue
		}

		if sb.Len()+len(plaintext) > e.cfg.MaxContextChars {
			remaining := e.cfg.MaxContextChars - sb.Len()
			if remaining <= 0 {
				break
			}
			sb.Write(plaintext[:remaining])
			used = append(used, r.MemoryID)
			break
		}
		sb.Write(plaintext)
		sb.WriteString("\n\n")
		used = append(used, r.MemoryID)
	}
	stats.DecryptMS = time.Since(decryptStart).Milliseconds()
	stats.Allowed = len(used)

	return ContextResult{ContextString: sb.String(), MemoriesUsed: used, Stats: stats}, nil
}
