// Package registry implements the Ownership Registry Client (spec §4.7,
// C7): typed transaction builders that return opaque, unsigned bytes, plus
// reads and event-log decoding against the on-chain object shapes in
// spec §6. It never signs — signing is external, the same boundary the
// teacher keeps between building a Transaction and the caller invoking
// Sign/Verify (synnergy-network/core/transactions.go), and it reuses
// go-ethereum's ABI event machinery for log decoding
// (synnergy-network/core/common_structs.go embeds abi.ABI directly).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// Tx is the opaque transaction payload every builder returns. The caller
// signs it externally; the registry client never holds a private key.
type Tx struct {
	Entry string                 `json:"entry"`
	Args  map[string]interface{} `json:"args"`
}

// Bytes serializes the transaction to its wire form.
func (t Tx) Bytes() []byte {
	b, _ := json.Marshal(t)
	return b
}

// ChainReader is the minimal read/submit surface a concrete chain backend
// implements; Client wraps it with the typed builders and decoders.
type ChainReader interface {
	GetMemory(ctx context.Context, id string) (*model.MemoryRecord, error)
	GetMemoryIndex(ctx context.Context, owner model.Address) (*model.MemoryIndexRoot, error)
	ListUserMemories(ctx context.Context, owner model.Address) ([]model.MemoryRecord, error)
	GetAccessGrant(ctx context.Context, id string) (*model.AccessGrant, error)
	// Submit dispatches an already-signed transaction built by this
	// package's builders and returns raw event log bytes for DecodeEvents.
	Submit(ctx context.Context, signedTx []byte) ([]byte, error)
}

// Client is the Ownership Registry Client.
type Client struct {
	reader ChainReader
	eventsABI abi.ABI
}

// New builds a Client over reader. eventsJSON is the ABI fragment
// describing MemoryCreated/MemoryIndexUpdated/MemoryMetadataUpdated/
// AccessGranted/AccessRevoked (spec §6), parsed once at construction like
// the teacher parses its ABI objects eagerly (core/common_structs.go).
func New(reader ChainReader, eventsJSON string) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(eventsJSON))
	if err != nil {
		return nil, pdwerr.Wrap("registry.New", pdwerr.Internal, err)
	}
	return &Client{reader: reader, eventsABI: parsed}, nil
}

// --- Transaction builders (spec §4.7) ---

// BuildCreateMemoryRecord builds create_memory_record (spec §6).
func BuildCreateMemoryRecord(category string, vectorID uint64, blobID string, metadata model.MemoryMetadata) Tx {
	return Tx{Entry: "create_memory_record", Args: map[string]interface{}{
		"category":  category,
		"vector_id": vectorID,
		"blob_id":   blobID,
		"metadata":  metadata,
	}}
}

// BuildDeleteMemory builds delete_memory(memory_id) (spec §6; owner-only).
func BuildDeleteMemory(memoryID string) Tx {
	return Tx{Entry: "delete_memory", Args: map[string]interface{}{"memory_id": memoryID}}
}

// BuildUpdateMemoryMetadata builds update_memory_metadata(memory_id,
// new_topic, new_importance) (spec §6; owner-only).
func BuildUpdateMemoryMetadata(memoryID, newTopic string, newImportance int) Tx {
	return Tx{Entry: "update_memory_metadata", Args: map[string]interface{}{
		"memory_id":      memoryID,
		"new_topic":      newTopic,
		"new_importance": newImportance,
	}}
}

// BuildCreateMemoryIndex builds create_memory_index(index_blob_id,
// graph_blob_id) (spec §6).
func BuildCreateMemoryIndex(indexBlobID, graphBlobID string) Tx {
	return Tx{Entry: "create_memory_index", Args: map[string]interface{}{
		"index_blob_id": indexBlobID,
		"graph_blob_id": graphBlobID,
	}}
}

// BuildUpdateMemoryIndex builds update_memory_index(memory_index,
// expected_version, new_index_blob_id, new_graph_blob_id). The on-chain
// predicate aborts unless expected_version matches the current version
// (spec §4.7, §6); callers detect that via Conflict from Submit and
// reload-and-retry (spec §9 C9 flow).
func BuildUpdateMemoryIndex(owner model.Address, expectedVersion uint64, newIndexBlobID, newGraphBlobID string) Tx {
	return Tx{Entry: "update_memory_index", Args: map[string]interface{}{
		"owner":             owner.Hex(),
		"expected_version":  expectedVersion,
		"new_index_blob_id": newIndexBlobID,
		"new_graph_blob_id": newGraphBlobID,
	}}
}

// --- Reads (spec §4.7) ---

func (c *Client) GetMemory(ctx context.Context, id string) (*model.MemoryRecord, error) {
	rec, err := c.reader.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, pdwerr.New("registry.Client.GetMemory", pdwerr.NotFound, fmt.Sprintf("memory %s not found", id))
	}
	return rec, nil
}

func (c *Client) GetMemoryIndex(ctx context.Context, owner model.Address) (*model.MemoryIndexRoot, error) {
	root, err := c.reader.GetMemoryIndex(ctx, owner)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, pdwerr.New("registry.Client.GetMemoryIndex", pdwerr.NotFound, "no index for owner")
	}
	return root, nil
}

func (c *Client) ListUserMemories(ctx context.Context, owner model.Address) ([]model.MemoryRecord, error) {
	return c.reader.ListUserMemories(ctx, owner)
}

func (c *Client) GetAccessGrant(ctx context.Context, id string) (*model.AccessGrant, error) {
	grant, err := c.reader.GetAccessGrant(ctx, id)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, pdwerr.New("registry.Client.GetAccessGrant", pdwerr.NotFound, fmt.Sprintf("grant %s not found", id))
	}
	return grant, nil
}

// Submit forwards a signed transaction and decodes any resulting events.
func (c *Client) Submit(ctx context.Context, signedTx []byte) ([]Event, error) {
	raw, err := c.reader.Submit(ctx, signedTx)
	if err != nil {
		return nil, err
	}
	return c.DecodeEvents(raw)
}
