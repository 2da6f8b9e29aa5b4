// cmd/cli/wiring.go – dependency wiring for the pdwcli binary.
// -------------------------------------------------------------
// Follows the teacher's cmd/cli/ai.go layering:
//   • Middleware (ensureAppInitialised) – lazy singleton wiring guard
//   • App                               – the wired component graph
//   • small adapter types closing the gaps between the narrow interface
//     seams internal/pipeline, internal/batch and internal/retrieval
//     define and the concrete collaborators that satisfy them.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sealwallet/pdw-core/internal/access"
	"github.com/sealwallet/pdw-core/internal/batch"
	"github.com/sealwallet/pdw-core/internal/blobstore"
	"github.com/sealwallet/pdw-core/internal/classifier"
	"github.com/sealwallet/pdw-core/internal/config"
	"github.com/sealwallet/pdw-core/internal/crypto/ibe"
	"github.com/sealwallet/pdw-core/internal/devchain"
	"github.com/sealwallet/pdw-core/internal/embedding"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/ner"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
	"github.com/sealwallet/pdw-core/internal/pipeline"
	"github.com/sealwallet/pdw-core/internal/registry"
	"github.com/sealwallet/pdw-core/internal/retrieval"
	"github.com/sealwallet/pdw-core/internal/store"
	"github.com/sealwallet/pdw-core/internal/telemetry"
	"github.com/sealwallet/pdw-core/internal/vectorindex"
)

// App is the fully wired component graph a CLI command runs against.
type App struct {
	cfg config.Config

	chain    *devchain.Chain
	registry *registry.Client
	blobs    blobstore.BlobStore
	users    *store.Registry

	classifier *classifier.Classifier
	embedder   *embedding.Client
	extractor  *ner.Extractor
	encryption *ibe.Engine
	access     *access.Engine
	sessions   *ibe.SessionManager

	coord        *batch.Coordinator
	orchestrator *pipeline.Orchestrator
	retriever    *retrieval.Engine

	metrics *telemetry.Metrics
}

var (
	appOnce sync.Once
	theApp  *App
	appErr  error
)

// ensureAppInitialised wires the App singleton once per process, the same
// guard shape as the teacher's ensureAIInitialised, used as every command
// group's PersistentPreRunE.
func ensureAppInitialised(cmd *cobra.Command, _ []string) error {
	appOnce.Do(func() {
		theApp, appErr = buildApp()
	})
	return appErr
}

func buildApp() (*App, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	telemetry.SetLevel(cfg.Log.Level)

	chain, err := devchain.New()
	if err != nil {
		return nil, fmt.Errorf("init local chain: %w", err)
	}
	regClient, err := registry.New(chain, registry.DefaultEventsABI)
	if err != nil {
		return nil, fmt.Errorf("init registry client: %w", err)
	}

	var blobs blobstore.BlobStore
	localBlobs, err := blobstore.NewLocalBlobStore(cfg.Storage.LocalRoot,
		cfg.Storage.CacheMaxEntry, time.Duration(cfg.Storage.CacheTTLSec)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("init local blob store: %w", err)
	}
	switch cfg.Storage.Network {
	case "local", "":
		blobs = localBlobs
	default:
		remote := blobstore.NewRemoteBlobStore(cfg.Storage.RemoteEndpoint,
			cfg.Storage.CacheMaxEntry, time.Duration(cfg.Storage.CacheTTLSec)*time.Second)
		blobs = &blobstore.FallbackStore{Primary: remote, Secondary: localBlobs}
	}

	var userFactory store.Factory
	if cfg.Storage.Network == "local" || cfg.Storage.Network == "" {
		userFactory = store.NewMemoryFactory()
	} else {
		userFactory = store.NewBoltFactory(filepath.Join(cfg.Storage.LocalRoot, "users"))
	}
	users := store.NewRegistry(userFactory, 30*time.Minute)

	cls := classifier.New(nil)
	embedder := embedding.New(embedding.Config{
		Model:             cfg.Embedding.Model,
		Dimension:         cfg.Embedding.Dimension,
		RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
		BatchSize:         cfg.Embedding.BatchSize,
	}, &embedding.HTTPTransport{Endpoint: cfg.Embedding.Endpoint})
	extractor := ner.New(nil, cfg.Graph.ConfidenceThreshold)

	var encryption *ibe.Engine
	if cfg.Encryption.Enabled {
		predicate := sealApprovePredicate(chain)
		servers := make([]ibe.KeyServerClient, cfg.Encryption.ServersN)
		for i := range servers {
			servers[i] = ibe.NewLocalKeyServer(uint8(i+1), predicate)
		}
		encryption, err = ibe.New(ibe.Config{
			ThresholdT: cfg.Encryption.ThresholdT,
			ServersN:   cfg.Encryption.ServersN,
		}, servers)
		if err != nil {
			return nil, fmt.Errorf("init encryption engine: %w", err)
		}
	}

	accessEngine := access.New()
	sessions, err := ibe.NewSessionManager(1024)
	if err != nil {
		return nil, fmt.Errorf("init session manager: %w", err)
	}

	metrics := telemetry.NewMetrics()

	a := &App{
		cfg:        *cfg,
		chain:      chain,
		registry:   regClient,
		blobs:      blobs,
		users:      users,
		classifier: cls,
		embedder:   embedder,
		extractor:  extractor,
		encryption: encryption,
		access:     accessEngine,
		sessions:   sessions,
		metrics:    metrics,
	}

	a.coord = batch.New(batch.Config{
		MaxPending:    cfg.Batch.MaxPending,
		MaxDelayMS:    cfg.Batch.MaxDelayMS,
		MaxCASRetries: cfg.Batch.MaxCASRetries,
	}, a.onFlushDue)

	index := &liveIndex{app: a}
	resolver := &liveResolver{app: a}

	var graphExtractor pipeline.GraphExtractor
	if cfg.Graph.Enabled {
		graphExtractor = extractor
	}
	var encryptor pipeline.Encryptor
	if encryption != nil {
		encryptor = encryption
	}

	a.orchestrator = pipeline.New(pipeline.Config{
		RollbackOnFailure: cfg.Pipeline.RollbackOnFailure,
		SkipFailedSteps:   cfg.Pipeline.SkipFailedSteps,
		MaxRetryAttempts:  cfg.Pipeline.MaxRetryAttempts,
		EnableGraph:       cfg.Graph.Enabled,
		EnableEncryption:  cfg.Encryption.Enabled,
	}, pipeline.Deps{
		Classifier: cls,
		Embedder:   embedder,
		VectorIDs:  index,
		Enqueuer:   a.coord,
		Graph:      graphExtractor,
		Encryption: encryptor,
		Blobs:      blobs,
		Submitter:  &contextSubmitter{app: a},
	}, 256)

	var decryptor retrieval.Decryptor
	if encryption != nil {
		decryptor = encryption
	}
	a.retriever = retrieval.New(retrieval.Config{
		EfSearch:        cfg.Vector.EfSearch,
		MaxContextChars: 8000,
	}, embedder, index, resolver, regClient, blobs, decryptor)

	return a, nil
}

// sealApprovePredicate resolves an ibe.ApprovalTx against devchain state,
// replacing ibe.AllowAll (a dev/local-only stand-in per its own doc
// comment) so every key server actually enforces spec §4.5/§8's "decrypt
// never returns plaintext unless an approved transaction backs it"
// invariant instead of rubber-stamping every request. identity is always
// the memory owner's address bytes (see runEncrypt/retrieval.Engine.Search
// passing mem.Owner.Bytes() / in.User.Bytes() as identity), so a "self"
// approval only has to prove the claimed owner matches identity; a "grant"
// approval has to resolve the grant_id against the chain's live grants and
// check it still authorizes read access for that owner.
func sealApprovePredicate(chain *devchain.Chain) ibe.ApprovalPredicate {
	return func(identity, approvalTx, sessionAssertion []byte) bool {
		var tx ibe.ApprovalTx
		if err := json.Unmarshal(approvalTx, &tx); err != nil {
			return false
		}
		switch tx.Args["kind"] {
		case "self":
			owner, err := model.ParseAddress(tx.Args["user"])
			if err != nil {
				return false
			}
			return bytes.Equal(owner.Bytes(), identity)
		case "grant":
			grant, err := chain.GetAccessGrant(context.Background(), tx.Args["grant_id"])
			if err != nil || grant == nil {
				return false
			}
			if !bytes.Equal(grant.Owner.Bytes(), identity) {
				return false
			}
			if grant.Grantee != tx.Args["grantee_app"] {
				return false
			}
			if !grant.ExpiresAt.IsZero() && time.Now().After(grant.ExpiresAt) {
				return false
			}
			return grant.Scope == model.ScopeReadMemories
		default:
			return false
		}
	}
}

// onFlushDue is batch.Coordinator's flush trigger. It flushes against the
// local chain using a fresh owner-scoped chainSubmitter, following the
// "never hold a key, build a fresh submitter per call" posture; the
// foreground ingest path uses contextSubmitter instead.
func (a *App) onFlushDue(user model.Address) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = a.coord.Flush(ctx, user, batch.Deps{
			Index:     a.registry,
			Blobs:     a.blobs,
			Users:     a.users,
			Dimension: a.cfg.Embedding.Dimension,
			GraphMin:  a.cfg.Graph.ConfidenceThreshold,
		}, &chainSubmitter{app: a, owner: user})
	}()
}

// chainSubmitter satisfies batch.Submitter for a single, already-known
// owner (the flush call site always knows which user's journal it is
// flushing). registry.Tx itself carries no owner field for every entry
// (devchain.Envelope needs one, see internal/devchain), so a submitter is
// constructed fresh per owner rather than kept as a shared singleton.
type chainSubmitter struct {
	app   *App
	owner model.Address
}

func (s *chainSubmitter) Submit(ctx context.Context, tx registry.Tx) error {
	_, err := s.app.registry.Submit(ctx, devchain.Sign(s.owner, tx))
	return err
}

type ownerContextKey struct{}

// withOwner attaches the acting owner to ctx for contextSubmitter to pick
// up. pipeline.Orchestrator is built once per process and its Submitter
// seam carries no per-call owner parameter, so the owner travels on the
// context instead, the same place request-scoped values like a
// correlation id already live (spec §7).
func withOwner(ctx context.Context, owner model.Address) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// contextSubmitter satisfies pipeline.Submitter by recovering the owner
// withOwner attached to ctx, since record_create's tx (unlike
// update_memory_index's) never embeds one in its Args.
type contextSubmitter struct {
	app *App
}

func (s *contextSubmitter) Submit(ctx context.Context, tx registry.Tx) error {
	owner, ok := ctx.Value(ownerContextKey{}).(model.Address)
	if !ok {
		return pdwerr.New("cli.contextSubmitter.Submit", pdwerr.InvalidInput, "no owner on context")
	}
	_, err := s.app.registry.Submit(ctx, devchain.Sign(owner, tx))
	return err
}

// liveIndex loads a user's current searchable HNSW view: the last
// persisted snapshot (if any) with any still-pending batch-journal
// mutations applied on top, mirroring batch's own unexported
// loadSnapshot/Flush-apply loop but expressed only through public APIs.
// It also hands out vector ids via pipeline.VectorIDSource.
type liveIndex struct {
	app *App
}

func (l *liveIndex) CurrentIndex(ctx context.Context, user model.Address) (*vectorindex.Index, error) {
	idx, err := l.loadBase(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, e := range l.app.coord.PendingVectors(user) {
		if e.Tombstone {
			idx.MarkDelete(e.VectorID)
			continue
		}
		if len(e.Vector) > 0 {
			if err := idx.Add(e.VectorID, e.Vector); err != nil {
				return nil, err
			}
		}
	}
	return idx, nil
}

func (l *liveIndex) loadBase(ctx context.Context, user model.Address) (*vectorindex.Index, error) {
	root, err := l.app.registry.GetMemoryIndex(ctx, user)
	if err != nil && !pdwerr.Is(err, pdwerr.NotFound) {
		return nil, err
	}
	dim := l.app.cfg.Embedding.Dimension
	if root == nil || root.IndexBlobID == "" {
		return vectorindex.New(vectorindex.Config{
			Dimension:      dim,
			MaxElements:    l.app.cfg.Vector.MaxElements,
			M:              l.app.cfg.Vector.M,
			EfConstruction: l.app.cfg.Vector.EfConstruction,
		}), nil
	}
	data, err := l.app.blobs.Get(ctx, root.IndexBlobID)
	if err != nil {
		return nil, err
	}
	return vectorindex.Deserialize(data, dim)
}

func (l *liveIndex) NextVectorID(ctx context.Context, user model.Address) (uint64, error) {
	idx, err := l.CurrentIndex(ctx, user)
	if err != nil {
		return 0, err
	}
	return idx.NextVectorID(), nil
}

// liveResolver answers vector_id -> memory_id, checking the batch
// journal's read-your-writes cache first and falling back to a linear
// scan of the user's already-flushed on-chain records (spec §4.11 step 3
// "via C7 lookup with a small local map maintained by C9").
type liveResolver struct {
	app *App
}

func (r *liveResolver) ResolveMemoryID(ctx context.Context, user model.Address, vectorID uint64) (string, bool) {
	if id, ok := r.app.coord.ResolveMemoryID(user, vectorID); ok {
		return id, true
	}
	records, err := r.app.registry.ListUserMemories(ctx, user)
	if err != nil {
		return "", false
	}
	for _, rec := range records {
		if rec.VectorID == vectorID {
			return rec.MemoryID, true
		}
	}
	return "", false
}
