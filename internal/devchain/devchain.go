// Package devchain is a local, in-process stand-in for the on-chain
// object store internal/registry.Client reads from and submits to
// (spec §4.7, C7). It exists for the "local" network mode spec §6's
// storage.network enumerates alongside testnet/mainnet, mirroring the
// teacher's mock testnet command (cmd/synnergy/main.go's testnetCmd)
// that simulates chain behavior in-process rather than dialing a real
// node. A real deployment swaps this for a ChainReader backed by an
// actual contract client; devchain never signs anything either, matching
// registry's own boundary.
package devchain

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
	"github.com/sealwallet/pdw-core/internal/registry"
)

// Envelope is the local "signed transaction" wire format devchain expects
// from Submit. Real signing (an external wallet wrapping registry.Tx in a
// genuine signature) is out of scope here; Envelope only carries the
// owner the opaque Tx applies to, since registry's builders never embed
// it (spec §4.7: the registry client itself never holds or checks keys).
type Envelope struct {
	Owner model.Address `json:"owner"`
	Tx    registry.Tx   `json:"tx"`
}

// Sign produces the dev-mode envelope bytes for tx, submitted as-is by a
// local Submitter. Named Sign to mark the seam a real signer occupies in
// non-local network modes, not because this performs cryptographic
// signing.
func Sign(owner model.Address, tx registry.Tx) []byte {
	b, _ := json.Marshal(Envelope{Owner: owner, Tx: tx})
	return b
}

type rawLog struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Chain is an in-memory registry.ChainReader implementation.
type Chain struct {
	mu        sync.Mutex
	memories  map[string]*model.MemoryRecord
	index     map[model.Address]*model.MemoryIndexRoot
	grants    map[string]*model.AccessGrant
	eventsABI abi.ABI
}

// New builds an empty Chain parsed against registry.DefaultEventsABI, the
// same event set a real chain backend would emit.
func New() (*Chain, error) {
	parsed, err := abi.JSON(strings.NewReader(registry.DefaultEventsABI))
	if err != nil {
		return nil, pdwerr.Wrap("devchain.New", pdwerr.Internal, err)
	}
	return &Chain{
		memories:  make(map[string]*model.MemoryRecord),
		index:     make(map[model.Address]*model.MemoryIndexRoot),
		grants:    make(map[string]*model.AccessGrant),
		eventsABI: parsed,
	}, nil
}

func (c *Chain) GetMemory(ctx context.Context, id string) (*model.MemoryRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.memories[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (c *Chain) GetMemoryIndex(ctx context.Context, owner model.Address) (*model.MemoryIndexRoot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	root, ok := c.index[owner]
	if !ok {
		return nil, nil
	}
	cp := *root
	return &cp, nil
}

func (c *Chain) ListUserMemories(ctx context.Context, owner model.Address) ([]model.MemoryRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.MemoryRecord
	for _, rec := range c.memories {
		if rec.Owner == owner {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (c *Chain) GetAccessGrant(ctx context.Context, id string) (*model.AccessGrant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grants[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

// Submit decodes env, applies the entry's effect, and returns the emitted
// event log encoded the way registry.Client.DecodeEvents expects.
func (c *Chain) Submit(ctx context.Context, signedTx []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(signedTx, &env); err != nil {
		return nil, pdwerr.Wrap("devchain.Chain.Submit", pdwerr.InvalidInput, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch env.Tx.Entry {
	case "create_memory_record":
		return c.applyCreateMemoryRecord(env)
	case "delete_memory":
		return c.applyDeleteMemory(env)
	case "update_memory_metadata":
		return c.applyUpdateMemoryMetadata(env)
	case "create_memory_index":
		return c.applyCreateMemoryIndex(env)
	case "update_memory_index":
		return c.applyUpdateMemoryIndex(env)
	case "grant_access":
		return c.applyGrantAccess(env)
	case "revoke_access":
		return c.applyRevokeAccess(env)
	default:
		return nil, pdwerr.New("devchain.Chain.Submit", pdwerr.InvalidInput, "unknown tx entry "+env.Tx.Entry)
	}
}

func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func argUint64(args map[string]interface{}, key string) uint64 {
	switch v := args[key].(type) {
	case float64:
		return uint64(v)
	case uint64:
		return v
	default:
		return 0
	}
}

func argInt(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (c *Chain) packEvent(name string, values ...interface{}) ([]byte, error) {
	ev, ok := c.eventsABI.Events[name]
	if !ok {
		return nil, pdwerr.New("devchain.Chain.packEvent", pdwerr.Internal, "unknown event "+name)
	}
	data, err := ev.Inputs.Pack(values...)
	if err != nil {
		return nil, pdwerr.Wrap("devchain.Chain.packEvent", pdwerr.Internal, err)
	}
	logs := []rawLog{{Name: name, Data: data}}
	return json.Marshal(logs)
}

func (c *Chain) applyCreateMemoryRecord(env Envelope) ([]byte, error) {
	args := env.Tx.Args
	metadata, _ := json.Marshal(args["metadata"])
	var md model.MemoryMetadata
	_ = json.Unmarshal(metadata, &md)

	rec := &model.MemoryRecord{
		Owner:    env.Owner,
		MemoryID: uuid.NewString(),
		Category: argString(args, "category"),
		VectorID: argUint64(args, "vector_id"),
		BlobID:   argString(args, "blob_id"),
		Metadata: md,
	}
	c.memories[rec.MemoryID] = rec
	return c.packEvent("MemoryCreated", common.Address(env.Owner), rec.MemoryID, rec.VectorID, rec.BlobID)
}

func (c *Chain) applyDeleteMemory(env Envelope) ([]byte, error) {
	id := argString(env.Tx.Args, "memory_id")
	rec, ok := c.memories[id]
	if !ok || rec.Owner != env.Owner {
		return nil, pdwerr.New("devchain.Chain.applyDeleteMemory", pdwerr.Unauthorized, "not owner or not found")
	}
	delete(c.memories, id)
	return json.Marshal([]rawLog{})
}

func (c *Chain) applyUpdateMemoryMetadata(env Envelope) ([]byte, error) {
	id := argString(env.Tx.Args, "memory_id")
	rec, ok := c.memories[id]
	if !ok || rec.Owner != env.Owner {
		return nil, pdwerr.New("devchain.Chain.applyUpdateMemoryMetadata", pdwerr.Unauthorized, "not owner or not found")
	}
	newTopic := argString(env.Tx.Args, "new_topic")
	newImportance := argInt(env.Tx.Args, "new_importance")
	rec.Metadata.Topic = newTopic
	rec.Metadata.Importance = newImportance
	return c.packEvent("MemoryMetadataUpdated", common.Address(env.Owner), id, newTopic, uint8(newImportance))
}

func (c *Chain) applyCreateMemoryIndex(env Envelope) ([]byte, error) {
	if _, exists := c.index[env.Owner]; exists {
		return nil, pdwerr.New("devchain.Chain.applyCreateMemoryIndex", pdwerr.Conflict, "index already exists")
	}
	root := &model.MemoryIndexRoot{
		Owner:       env.Owner,
		IndexBlobID: argString(env.Tx.Args, "index_blob_id"),
		GraphBlobID: argString(env.Tx.Args, "graph_blob_id"),
		Version:     1,
	}
	c.index[env.Owner] = root
	return c.packEvent("MemoryIndexUpdated", common.Address(env.Owner), root.Version)
}

func (c *Chain) applyUpdateMemoryIndex(env Envelope) ([]byte, error) {
	expected := argUint64(env.Tx.Args, "expected_version")
	root, ok := c.index[env.Owner]
	if !ok {
		root = &model.MemoryIndexRoot{Owner: env.Owner}
		c.index[env.Owner] = root
	}
	if root.Version != expected {
		return nil, pdwerr.New("devchain.Chain.applyUpdateMemoryIndex", pdwerr.Conflict, "expected_version mismatch")
	}
	root.IndexBlobID = argString(env.Tx.Args, "new_index_blob_id")
	root.GraphBlobID = argString(env.Tx.Args, "new_graph_blob_id")
	root.Version++
	return c.packEvent("MemoryIndexUpdated", common.Address(env.Owner), root.Version)
}

func (c *Chain) applyGrantAccess(env Envelope) ([]byte, error) {
	var scope model.GrantScope
	if scopes, ok := env.Tx.Args["scopes"].([]interface{}); ok && len(scopes) > 0 {
		if s, ok := scopes[0].(string); ok {
			scope = model.GrantScope(s)
		}
	}
	grant := &model.AccessGrant{
		ID:                 uuid.NewString(),
		ContentOrContextID: argString(env.Tx.Args, "context_id"),
		Owner:              env.Owner,
		Grantee:            argString(env.Tx.Args, "grantee"),
		Scope:              scope,
	}
	c.grants[grant.ID] = grant
	return c.packEvent("AccessGranted", common.Address(env.Owner), grant.ID, grant.Grantee, string(grant.Scope))
}

func (c *Chain) applyRevokeAccess(env Envelope) ([]byte, error) {
	id := argString(env.Tx.Args, "grant_id")
	grant, ok := c.grants[id]
	if !ok || grant.Owner != env.Owner {
		return nil, pdwerr.New("devchain.Chain.applyRevokeAccess", pdwerr.Unauthorized, "not owner or not found")
	}
	delete(c.grants, id)
	return c.packEvent("AccessRevoked", common.Address(env.Owner), id)
}
