package batch

import (
	"context"

	"github.com/sealwallet/pdw-core/internal/blobstore"
	"github.com/sealwallet/pdw-core/internal/graph"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
	"github.com/sealwallet/pdw-core/internal/registry"
	"github.com/sealwallet/pdw-core/internal/store"
	"github.com/sealwallet/pdw-core/internal/vectorindex"
)

// IndexReader is the subset of registry.Client Flush needs to read the
// current index root and resubmit the CAS update.
type IndexReader interface {
	GetMemoryIndex(ctx context.Context, owner model.Address) (*model.MemoryIndexRoot, error)
}

// Submitter signs and submits the CAS update transaction Flush builds.
// Real implementations hand the opaque bytes to an external wallet/signer
// and forward the result; it is never the coordinator's job to hold a key
// (spec §4.7: "never signs"). A Conflict error triggers reload-and-retry.
type Submitter interface {
	Submit(ctx context.Context, tx registry.Tx) error
}

// Deps bundles the collaborators Flush needs beyond the coordinator's own
// journal and retry config.
type Deps struct {
	Index     IndexReader
	Blobs     blobstore.BlobStore
	Users     *store.Registry
	Dimension int
	GraphMin  float64
}

// Flush implements spec §4.9's five-step flush: load the current
// index+graph snapshot, apply pending mutations in enqueue order,
// serialize and put new blobs, submit the CAS update, and retry on
// Conflict up to MaxCASRetries before surfacing ConflictExhausted.
func (c *Coordinator) Flush(ctx context.Context, user model.Address, deps Deps, submitter Submitter) error {
	us, err := deps.Users.Get(user.Hex())
	if err != nil {
		return pdwerr.Wrap("batch.Coordinator.Flush", pdwerr.Internal, err)
	}
	us.WriterMu.Lock()
	defer us.WriterMu.Unlock()

	j := c.journalFor(user)

	for attempt := 0; attempt < c.cfg.MaxCASRetries; attempt++ {
		pending := j.drain()
		if len(pending) == 0 {
			return nil
		}

		root, idx, g, err := loadSnapshot(ctx, deps, user)
		if err != nil {
			return err
		}

		for _, e := range pending {
			if e.Tombstone {
				idx.MarkDelete(e.VectorID)
				continue
			}
			if err := idx.Add(e.VectorID, e.Vector); err != nil {
				return pdwerr.Wrap("batch.Coordinator.Flush", pdwerr.Internal, err)
			}
			if len(e.GraphEntities) > 0 {
				g.UpsertEntities(e.GraphEntities)
			}
			if len(e.GraphRelationships) > 0 {
				g.UpsertRelationships(e.GraphRelationships)
			}
		}

		idxBlob, err := idx.Serialize()
		if err != nil {
			return err
		}
		graphBlob, err := g.Serialize()
		if err != nil {
			return err
		}

		newIndexBlobID, err := deps.Blobs.Put(ctx, idxBlob, user.Hex(), 0, blobstore.Tags{ContentType: "application/octet-stream", Category: "index"})
		if err != nil {
			return err
		}
		newGraphBlobID, err := deps.Blobs.Put(ctx, graphBlob, user.Hex(), 0, blobstore.Tags{ContentType: "application/json", Category: "graph"})
		if err != nil {
			return err
		}

		tx := registry.BuildUpdateMemoryIndex(user, root.Version, newIndexBlobID, newGraphBlobID)
		if err := submitter.Submit(ctx, tx); err != nil {
			if pdwerr.Is(err, pdwerr.Conflict) {
				continue // reload and retry
			}
			return err
		}

		j.removeFlushed(len(pending))
		return nil
	}
	return errConflictExhausted(c.cfg.MaxCASRetries)
}

func loadSnapshot(ctx context.Context, deps Deps, user model.Address) (*model.MemoryIndexRoot, *vectorindex.Index, *graph.Graph, error) {
	root, err := deps.Index.GetMemoryIndex(ctx, user)
	if err != nil && !pdwerr.Is(err, pdwerr.NotFound) {
		return nil, nil, nil, err
	}
	if root == nil {
		root = &model.MemoryIndexRoot{Owner: user, Version: 0}
	}

	var idx *vectorindex.Index
	if root.IndexBlobID == "" {
		idx = vectorindex.New(vectorindex.Config{Dimension: deps.Dimension})
	} else {
		data, err := deps.Blobs.Get(ctx, root.IndexBlobID)
		if err != nil {
			return nil, nil, nil, err
		}
		idx, err = vectorindex.Deserialize(data, deps.Dimension)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	var g *graph.Graph
	if root.GraphBlobID == "" {
		g = graph.New(deps.GraphMin)
	} else {
		data, err := deps.Blobs.Get(ctx, root.GraphBlobID)
		if err != nil {
			return nil, nil, nil, err
		}
		g, err = graph.Deserialize(data)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return root, idx, g, nil
}
