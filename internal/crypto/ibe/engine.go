package ibe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sealwallet/pdw-core/internal/crypto"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// Config parameterizes an Engine (spec §6 encryption.threshold_t/servers_n).
type Config struct {
	ThresholdT       int
	ServersN         int
	MaxRetryAttempts int           // per-server Unavailable retry bound
	RetryBackoff     time.Duration // base backoff between attempts
}

// Engine is the threshold IBE Encryption Engine (C5).
type Engine struct {
	cfg     Config
	servers []KeyServerClient
}

// New builds an Engine over servers; len(servers) must equal cfg.ServersN.
func New(cfg Config, servers []KeyServerClient) (*Engine, error) {
	if cfg.ThresholdT < 1 || cfg.ThresholdT > cfg.ServersN {
		return nil, pdwerr.New("ibe.New", pdwerr.InvalidInput, "invalid threshold_t/servers_n")
	}
	if len(servers) != cfg.ServersN {
		return nil, pdwerr.New("ibe.New", pdwerr.InvalidInput, "server count mismatch")
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Engine{cfg: cfg, servers: servers}, nil
}

// Encrypt implements spec §4.5: a fresh content key encrypts plaintext
// under AAD=identity, the key is Shamir-split across the configured key
// servers, and the raw key is returned once as the backup_symmetric_key
// (never retained by the Engine).
func (e *Engine) Encrypt(ctx context.Context, plaintext, identity []byte) (ciphertext, backupKey []byte, err error) {
	key, err := crypto.NewContentKey()
	if err != nil {
		return nil, nil, err
	}
	ct, err := crypto.Seal(key, plaintext, identity)
	if err != nil {
		return nil, nil, err
	}
	shares, err := crypto.Split(key, e.cfg.ThresholdT, e.cfg.ServersN)
	if err != nil {
		return nil, nil, err
	}
	for i, server := range e.servers {
		if err := server.StoreShare(ctx, identity, shares[i]); err != nil {
			return nil, nil, pdwerr.Wrap("ibe.Engine.Encrypt", pdwerr.Unavailable, err)
		}
	}
	return ct, key, nil
}

// Decrypt implements spec §4.5: contacts key servers for shares gated by
// approvalTx and the session's assertion, requires >= threshold_t
// approvals, then opens the ciphertext. Per-server Unavailable errors are
// retried with backoff up to MaxRetryAttempts; Unauthorized is never
// retried (spec §4.5 failure modes).
func (e *Engine) Decrypt(ctx context.Context, ciphertext, identity []byte, session *SessionKey, approvalTx []byte) ([]byte, error) {
	if session == nil || !session.HasAssertion() {
		return nil, pdwerr.New("ibe.Engine.Decrypt", pdwerr.Unauthorized, "session key has no user assertion")
	}
	if session.Expired() {
		return nil, pdwerr.New("ibe.Engine.Decrypt", pdwerr.Expired, "session key expired")
	}

	var shares []crypto.Share
	for _, server := range e.servers {
		share, ok, err := e.deriveWithRetry(ctx, server, identity, approvalTx, session.Assertion)
		if err != nil {
			return nil, err
		}
		if ok {
			shares = append(shares, share)
		}
		if len(shares) >= e.cfg.ThresholdT {
			break
		}
	}
	if len(shares) < e.cfg.ThresholdT {
		return nil, pdwerr.New("ibe.Engine.Decrypt", pdwerr.Unauthorized, "fewer than threshold_t servers approved")
	}

	key, err := crypto.Combine(shares, crypto.KeySize)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.Open(key, ciphertext, identity)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// deriveWithRetry calls DeriveKey on server, retrying Unavailable results
// with backoff up to cfg.MaxRetryAttempts. ok=false with nil error means
// the server denied the request (Unauthorized) or holds no share for
// identity (NotFound), and that server should simply not
// count toward the threshold, per spec §4.5's "Unauthorized ... not
// retried" — it is the server's denial that is terminal, not the whole
// decrypt attempt.
func (e *Engine) deriveWithRetry(ctx context.Context, server KeyServerClient, identity, approvalTx, assertion []byte) (crypto.Share, bool, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetryAttempts; attempt++ {
		share, err := server.DeriveKey(ctx, identity, approvalTx, assertion)
		if err == nil {
			return share, true, nil
		}
		if pdwerr.Is(err, pdwerr.Unauthorized) || pdwerr.Is(err, pdwerr.NotFound) {
			return crypto.Share{}, false, nil
		}
		lastErr = err
		if !pdwerr.Retryable(pdwerr.KindOf(err)) {
			return crypto.Share{}, false, err
		}
		select {
		case <-ctx.Done():
			return crypto.Share{}, false, pdwerr.Wrap("ibe.Engine.deriveWithRetry", pdwerr.Canceled, ctx.Err())
		case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt+1)):
		}
	}
	return crypto.Share{}, false, lastErr
}

// ApprovalTx is the opaque, caller-signable transaction payload the
// engine's builders produce (spec §4.5, §6 seal_approve/seal_approve_with_app_id).
// The engine never signs it; signing is the caller's responsibility (spec §4.7).
type ApprovalTx struct {
	Fn   string            `json:"fn"`
	Args map[string]string `json:"args"`
}

// Bytes serializes the transaction to the opaque wire format transaction
// builders return across the engine (consistent with internal/registry's
// builders, which also hand back opaque bytes rather than signed txs).
func (t ApprovalTx) Bytes() []byte {
	b, _ := json.Marshal(t)
	return b
}

// BuildSelfApproval authorizes the memory's owner (spec §4.5).
func BuildSelfApproval(user model.Address) ApprovalTx {
	return ApprovalTx{Fn: "seal_approve", Args: map[string]string{"kind": "self", "user": user.Hex()}}
}

// BuildGrantApproval authorizes an OAuth-style grantee app holding grantID
// (an internal/access grant) over a content or context id (spec §4.5, §6
// seal_approve_with_app_id). grantID lets a key server resolve the grant
// against on-chain state (internal/registry's grant_access/revoke_access
// entries) instead of trusting the caller's claim.
func BuildGrantApproval(grantID, granteeApp, contentOrContextID string) ApprovalTx {
	return ApprovalTx{Fn: "seal_approve_with_app_id", Args: map[string]string{
		"kind": "grant", "grant_id": grantID, "grantee_app": granteeApp, "content_or_context_id": contentOrContextID,
	}}
}

// BuildAllowlistApproval authorizes members of a named allowlist.
func BuildAllowlistApproval(allowlistID string, caller model.Address) ApprovalTx {
	return ApprovalTx{Fn: "seal_approve", Args: map[string]string{
		"kind": "allowlist", "allowlist_id": allowlistID, "caller": caller.Hex(),
	}}
}

// BuildTimelockApproval authorizes once timelockID's threshold has passed.
func BuildTimelockApproval(timelockID string) ApprovalTx {
	return ApprovalTx{Fn: "seal_approve", Args: map[string]string{"kind": "timelock", "timelock_id": timelockID}}
}
