// Package access implements the Access/Consent Engine (spec §4.8, C8):
// deterministic context-id derivation, pending consent requests, and the
// grant/revoke/seal_approve transaction builders C5 consumes. Grounded on
// the teacher's access_control.go for the "closed scope set validated at
// request time" posture and on internal/registry's opaque-Tx builder
// pattern for consistency across the two on-chain-facing packages.
package access

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// DeriveContextID computes sha3_256(user || app_id || salt(user)) (spec
// §3, §4.8). salt is the user's main-wallet salt and never crosses an
// unauthenticated boundary; callers fetch it from the wallet service.
func DeriveContextID(user model.Address, appID string, salt []byte) model.ContextID {
	h := sha3.New256()
	h.Write(user.Bytes())
	h.Write([]byte(appID))
	h.Write(salt)
	var out model.ContextID
	copy(out[:], h.Sum(nil))
	return out
}

// ConsentRequest is a pending ask for the user to approve or deny (spec §4.8).
type ConsentRequest struct {
	ID            string
	RequesterApp  string
	Scopes        []model.GrantScope
	Purpose       string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	Resolved      bool
	Approved      bool
}

// Engine is the per-process Access/Consent Engine. Pending requests are
// held in memory; production deployments would persist them through
// internal/store the same way C9's journal does.
type Engine struct {
	mu       sync.Mutex
	requests map[string]*ConsentRequest
}

// New builds an empty Engine.
func New() *Engine {
	return &Engine{requests: make(map[string]*ConsentRequest)}
}

// RequestConsentInput is the request_consent payload (spec §4.8).
type RequestConsentInput struct {
	RequesterApp string
	Scopes       []model.GrantScope
	Purpose      string
	ExpiresAt    *time.Time
}

// RequestConsent validates scopes against the closed set and persists a
// pending request, returning its id.
func (e *Engine) RequestConsent(in RequestConsentInput) (string, error) {
	if len(in.Scopes) == 0 {
		return "", pdwerr.New("access.Engine.RequestConsent", pdwerr.InvalidInput, "at least one scope required")
	}
	for _, s := range in.Scopes {
		if !model.ValidScope(s) {
			return "", pdwerr.New("access.Engine.RequestConsent", pdwerr.InvalidInput, "unknown scope: "+string(s))
		}
	}
	id := uuid.NewString()
	req := &ConsentRequest{
		ID:           id,
		RequesterApp: in.RequesterApp,
		Scopes:       in.Scopes,
		Purpose:      in.Purpose,
		CreatedAt:    time.Now(),
	}
	if in.ExpiresAt != nil {
		req.ExpiresAt = *in.ExpiresAt
	}
	e.mu.Lock()
	e.requests[id] = req
	e.mu.Unlock()
	return id, nil
}

// Resolve marks a pending request approved or denied. Resolving an
// unknown or already-resolved request is an error.
func (e *Engine) Resolve(requestID string, approve bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.requests[requestID]
	if !ok {
		return pdwerr.New("access.Engine.Resolve", pdwerr.NotFound, "consent request not found")
	}
	if req.Resolved {
		return pdwerr.New("access.Engine.Resolve", pdwerr.Conflict, "consent request already resolved")
	}
	req.Resolved = true
	req.Approved = approve
	return nil
}

// Get returns a copy of the consent request, if any.
func (e *Engine) Get(requestID string) (ConsentRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.requests[requestID]
	if !ok {
		return ConsentRequest{}, false
	}
	return *req, true
}

// GrantTx/RevokeTx are the opaque transaction payloads grant/revoke build;
// the caller signs and submits them via internal/registry's Client.
type GrantTx struct {
	Entry string                 `json:"entry"`
	Args  map[string]interface{} `json:"args"`
}

func (t GrantTx) Bytes() []byte {
	b, _ := json.Marshal(t)
	return b
}

// GrantInput is the grant({...}) payload (spec §4.8).
type GrantInput struct {
	ContextID model.ContextID
	Grantee   string
	Scopes    []model.GrantScope
	ExpiresAt *time.Time
}

// Grant builds the on-chain transaction granting scopes over context_id
// to grantee. Unknown scopes are rejected before a transaction is built.
func Grant(in GrantInput) (GrantTx, error) {
	for _, s := range in.Scopes {
		if !model.ValidScope(s) {
			return GrantTx{}, pdwerr.New("access.Grant", pdwerr.InvalidInput, "unknown scope: "+string(s))
		}
	}
	args := map[string]interface{}{
		"context_id": in.ContextID.Hex(),
		"grantee":    in.Grantee,
		"scopes":     in.Scopes,
	}
	if in.ExpiresAt != nil {
		args["expires_at"] = in.ExpiresAt.Unix()
	}
	return GrantTx{Entry: "grant_access", Args: args}, nil
}

// Revoke builds the on-chain transaction revoking an existing grant.
func Revoke(grantID string) GrantTx {
	return GrantTx{Entry: "revoke_access", Args: map[string]interface{}{"grant_id": grantID}}
}

// BuildSealApprove constructs the approval transaction C5 consumes to
// gate key-share release (spec §4.8, §6 seal_approve/seal_approve_with_app_id).
func BuildSealApprove(contentOrContextID string, appID string) GrantTx {
	if appID == "" {
		return GrantTx{Entry: "seal_approve", Args: map[string]interface{}{"identity": contentOrContextID}}
	}
	return GrantTx{Entry: "seal_approve_with_app_id", Args: map[string]interface{}{
		"identity": contentOrContextID, "app_id": appID,
	}}
}
