// Package model holds the plaintext and on-chain data shapes shared across
// the pipeline (spec §3). Address and Hash are carried over from the
// teacher's address encoding (core/common_structs.go, core/access_control.go)
// since the on-chain records this engine anchors to use the same 20-byte
// account convention as the teacher's ledger.
package model

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Address is a 20-byte account identifier, hex-encoded with a 0x prefix —
// the same shape the teacher's core.Address uses, compatible with
// go-ethereum's common.Address so registry event decoding (see
// internal/registry) can reuse its ABI unpacking helpers directly.
type Address [20]byte

func (a Address) Bytes() []byte { return a[:] }

func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) Short() string {
	full := hex.EncodeToString(a[:])
	if len(full) <= 8 {
		return full
	}
	return fmt.Sprintf("%s..%s", full[:4], full[len(full)-4:])
}

func (a Address) IsZero() bool { return a == Address{} }

// ParseAddress decodes a 0x-prefixed or bare hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = trimHexPrefix(s)
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(a) {
		return a, fmt.Errorf("invalid address %q", s)
	}
	copy(a[:], b)
	return a, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Hash is a 32-byte content or transaction digest.
type Hash [32]byte

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// Sentiment is the closed sentiment set produced by the classifier (§4.2).
type Sentiment string

const (
	SentimentPositive Sentiment = "pos"
	SentimentNeutral  Sentiment = "neu"
	SentimentNegative Sentiment = "neg"
)

// Memory is the plaintext record, transient in the core (§3). Immutable
// after creation except Topic and Importance (§4.7 update_memory_metadata).
type Memory struct {
	ID         string
	Owner      Address
	Content    string
	Category   string
	Topic      string
	Importance int // 1..10
	CreatedAt  time.Time
	Tags       []string
	CustomKV   map[string]string
}

// VectorEmbedding is a fixed-dimension, cosine-normalized embedding (§3).
type VectorEmbedding struct {
	Dimension int
	Values    []float32
	ModelID   string
}

// MemoryMetadata is persisted alongside the encrypted blob (§3).
type MemoryMetadata struct {
	ContentType        string
	ContentSize        uint64
	ContentHash        string // SHA-256 hex of the plaintext
	Category           string
	Topic              string
	Importance         int
	EmbeddingBlobID    string
	EmbeddingDimension int
	CreatedTS          int64
	UpdatedTS          int64
	CustomKV           map[string]string
}

// MemoryIndexRoot is the on-chain object pointing at the latest
// (index_blob_id, graph_blob_id) pair for a user, CAS-versioned (§3, §6).
type MemoryIndexRoot struct {
	Owner       Address
	IndexBlobID string
	GraphBlobID string
	Version     uint64
	UpdatedTS   int64
}

// MemoryRecord is the on-chain record created once per memory (§3).
type MemoryRecord struct {
	Owner    Address
	MemoryID string
	Category string
	VectorID uint64
	BlobID   string
	Metadata MemoryMetadata
}

// GrantScope is the closed scope set from §4.8.
type GrantScope string

const (
	ScopeReadMemories     GrantScope = "read:memories"
	ScopeWriteMemories    GrantScope = "write:memories"
	ScopeReadPreferences  GrantScope = "read:preferences"
	ScopeWritePreferences GrantScope = "write:preferences"
	ScopeReadContexts     GrantScope = "read:contexts"
	ScopeWriteContexts    GrantScope = "write:contexts"
)

// ValidScope reports whether s is one of the closed permission scopes.
func ValidScope(s GrantScope) bool {
	switch s {
	case ScopeReadMemories, ScopeWriteMemories, ScopeReadPreferences,
		ScopeWritePreferences, ScopeReadContexts, ScopeWriteContexts:
		return true
	default:
		return false
	}
}

// AccessGrant is an on-chain grant of scope over a content or context id
// to an app or address, expiring at ExpiresAt (§3).
type AccessGrant struct {
	ID                string
	ContentOrContextID string
	Owner             Address
	Grantee           string // app id or address, scope-dependent
	Scope             GrantScope
	ExpiresAt         time.Time
}

// ContextID is the deterministic 32-byte IBE identity for app-scoped data
// (§3): sha3_256(user_address || app_id || per-user-salt).
type ContextID [32]byte

func (c ContextID) Hex() string { return "0x" + hex.EncodeToString(c[:]) }
