// Package ibe implements the threshold identity-based Encryption Engine
// (spec §4.5, C5): encrypt under an arbitrary identity, and decrypt only
// after t-of-n independent key servers verify an on-chain approval
// transaction, mirroring the "seal_approve" vocabulary of spec §6 and the
// teacher's BLS-based multi-signature threshold machinery
// (synnergy-network/core/security.go's AggregateBLSSigs/VerifyAggregated).
//
// Content keys are split with Shamir secret sharing (internal/crypto) at
// encrypt time, one share pushed to each key server keyed by identity; a
// server only returns its share from DeriveKey once its own seal_approve
// predicate accepts the caller's approval transaction. This is the same
// shape real threshold-IBE services (e.g. Seal on Sui) expose externally,
// implemented here with Shamir math instead of pairing-based cryptography
// so correctness does not depend on an unverified pairing implementation.
package ibe

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/sealwallet/pdw-core/internal/crypto"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// KeyServerClient is the client-side surface of one IBE key server.
type KeyServerClient interface {
	// StoreShare provisions this server's share for identity. Called once
	// per Encrypt; not part of the external POST /derive-key contract but
	// required internal plumbing for a Shamir-backed implementation.
	StoreShare(ctx context.Context, identity []byte, share crypto.Share) error

	// DeriveKey returns this server's share for identity if approvalTx and
	// sessionAssertion satisfy its seal_approve predicate, or an
	// Unauthorized error if not (spec §6: "POST /derive-key { identity,
	// approval_tx_bytes, session_key_assertion } -> key_share | deny").
	DeriveKey(ctx context.Context, identity, approvalTx, sessionAssertion []byte) (crypto.Share, error)
}

// ApprovalPredicate evaluates an approval transaction against this
// server's view of on-chain policy, simulating the seal_approve entry
// point a real key server would call out to (spec §6).
type ApprovalPredicate func(identity, approvalTx, sessionAssertion []byte) bool

// AllowAll is a predicate for development/local configurations where
// encryption.enabled is true but no real chain backs seal_approve.
func AllowAll(identity, approvalTx, sessionAssertion []byte) bool { return true }

// LocalKeyServer is an in-process key server for tests and single-binary
// deployments: shares live in memory, gated by a caller-supplied
// predicate standing in for the real on-chain seal_approve call.
type LocalKeyServer struct {
	Index     uint8
	Predicate ApprovalPredicate

	mu     sync.RWMutex
	shares map[string]crypto.Share
}

// NewLocalKeyServer builds a LocalKeyServer at the given Shamir index
// (1-based, matching crypto.Share.Index).
func NewLocalKeyServer(index uint8, predicate ApprovalPredicate) *LocalKeyServer {
	if predicate == nil {
		predicate = AllowAll
	}
	return &LocalKeyServer{Index: index, Predicate: predicate, shares: make(map[string]crypto.Share)}
}

func (s *LocalKeyServer) StoreShare(ctx context.Context, identity []byte, share crypto.Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares[hex.EncodeToString(identity)] = share
	return nil
}

func (s *LocalKeyServer) DeriveKey(ctx context.Context, identity, approvalTx, sessionAssertion []byte) (crypto.Share, error) {
	if !s.Predicate(identity, approvalTx, sessionAssertion) {
		return crypto.Share{}, pdwerr.New("ibe.LocalKeyServer.DeriveKey", pdwerr.Unauthorized, "seal_approve rejected")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	share, ok := s.shares[hex.EncodeToString(identity)]
	if !ok {
		return crypto.Share{}, pdwerr.New("ibe.LocalKeyServer.DeriveKey", pdwerr.NotFound, "no share for identity")
	}
	return share, nil
}

// HTTPKeyServer calls a remote key server over HTTP, the wire shape spec
// §6 describes, mirroring the request/response struct pattern the
// teacher's embedding-equivalent HTTPTransport uses (internal/embedding).
type HTTPKeyServer struct {
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type storeShareRequest struct {
	Identity string `json:"identity"`
	Index    uint8  `json:"index"`
	Y        string `json:"y"` // hex big.Int
}

type deriveKeyRequest struct {
	Identity         string `json:"identity"`
	ApprovalTxBytes  string `json:"approval_tx_bytes"`
	SessionAssertion string `json:"session_key_assertion"`
}

type deriveKeyResponse struct {
	Denied bool   `json:"denied"`
	Reason string `json:"reason,omitempty"`
	Index  uint8  `json:"index"`
	Y      string `json:"y"`
}

func (h *HTTPKeyServer) client() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}

func (h *HTTPKeyServer) StoreShare(ctx context.Context, identity []byte, share crypto.Share) error {
	body := storeShareRequest{Identity: hex.EncodeToString(identity), Index: share.Index, Y: share.Y.Text(16)}
	return postJSON(ctx, h.client(), h.Endpoint+"/store-share", body, nil)
}

func (h *HTTPKeyServer) DeriveKey(ctx context.Context, identity, approvalTx, sessionAssertion []byte) (crypto.Share, error) {
	body := deriveKeyRequest{
		Identity:         hex.EncodeToString(identity),
		ApprovalTxBytes:  hex.EncodeToString(approvalTx),
		SessionAssertion: hex.EncodeToString(sessionAssertion),
	}
	var resp deriveKeyResponse
	if err := postJSON(ctx, h.client(), h.Endpoint+"/derive-key", body, &resp); err != nil {
		return crypto.Share{}, err
	}
	if resp.Denied {
		return crypto.Share{}, pdwerr.New("ibe.HTTPKeyServer.DeriveKey", pdwerr.Unauthorized, resp.Reason)
	}
	y, ok := new(big.Int).SetString(resp.Y, 16)
	if !ok {
		return crypto.Share{}, pdwerr.New("ibe.HTTPKeyServer.DeriveKey", pdwerr.Tampered, "malformed share")
	}
	return crypto.Share{Index: resp.Index, Y: y}, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pdwerr.Wrap("ibe.postJSON", pdwerr.Internal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return pdwerr.Wrap("ibe.postJSON", pdwerr.Internal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return pdwerr.Wrap("ibe.postJSON", pdwerr.Unavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return pdwerr.New("ibe.postJSON", pdwerr.Unauthorized, "key server denied request")
	}
	if resp.StatusCode >= 500 {
		return pdwerr.New("ibe.postJSON", pdwerr.Unavailable, "key server error")
	}
	if resp.StatusCode >= 400 {
		return pdwerr.New("ibe.postJSON", pdwerr.InvalidInput, "key server rejected request")
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return pdwerr.Wrap("ibe.postJSON", pdwerr.Internal, err)
		}
	}
	return nil
}
