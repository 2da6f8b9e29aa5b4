package ibe

import (
	"crypto/ecdsa"
	"encoding/json"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// SessionKey is an ephemeral keypair bound to (user, package_id,
// expires_at) by a user-signed assertion (spec §4.5). The engine itself
// never holds the user's wallet key; Assertion is produced externally
// (crypto.Sign over AssertionDigest by the caller's wallet, the same
// "caller signs, engine never does" boundary internal/registry keeps for
// on-chain transactions) and attached via AttachAssertion.
type SessionKey struct {
	User      model.Address
	PackageID string
	ExpiresAt time.Time

	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey

	// Assertion is the 65-byte {R||S||V} go-ethereum signature (see
	// core/transactions.go's crypto.Sign usage) over AssertionDigest(),
	// produced by the user's wallet and attached by the caller.
	Assertion []byte
}

// AssertionDigest is the exact 32-byte payload the user's wallet signs to
// bind this session to (user, package_id, expires_at).
func (s *SessionKey) AssertionDigest() [32]byte {
	payload, _ := json.Marshal(struct {
		User      string `json:"user"`
		PackageID string `json:"package_id"`
		ExpiresAt int64  `json:"expires_at"`
		PubKey    string `json:"pubkey"`
	}{
		User:      s.User.Hex(),
		PackageID: s.PackageID,
		ExpiresAt: s.ExpiresAt.Unix(),
		PubKey:    ethcrypto.PubkeyToAddress(*s.PublicKey).Hex(),
	})
	return [32]byte(ethcrypto.Keccak256Hash(payload))
}

// HasAssertion reports whether a user signature has been attached.
func (s *SessionKey) HasAssertion() bool { return len(s.Assertion) == 65 }

// Expired reports whether the session has passed its TTL.
func (s *SessionKey) Expired() bool { return time.Now().After(s.ExpiresAt) }

// AttachAssertion records the user wallet's signature over AssertionDigest.
func (s *SessionKey) AttachAssertion(sig []byte) error {
	if len(sig) != 65 {
		return pdwerr.New("ibe.SessionKey.AttachAssertion", pdwerr.InvalidInput, "signature must be 65 bytes")
	}
	digest := s.AssertionDigest()
	recovered, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return pdwerr.Wrap("ibe.SessionKey.AttachAssertion", pdwerr.Tampered, err)
	}
	if ethcrypto.PubkeyToAddress(*recovered) != [20]byte(s.User) {
		return pdwerr.New("ibe.SessionKey.AttachAssertion", pdwerr.Unauthorized, "assertion not signed by session user")
	}
	s.Assertion = sig
	return nil
}

// CreateSession mints a fresh ephemeral keypair for (user, packageID),
// valid for ttl. The returned session has no Assertion yet; the caller's
// wallet must sign AssertionDigest() and call AttachAssertion (spec §4.5:
// "ephemeral keypair with a user-signed assertion").
func CreateSession(user model.Address, packageID string, ttl time.Duration) (*SessionKey, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, pdwerr.Wrap("ibe.CreateSession", pdwerr.Internal, err)
	}
	return &SessionKey{
		User:       user,
		PackageID:  packageID,
		ExpiresAt:  time.Now().Add(ttl),
		PrivateKey: priv,
		PublicKey:  &priv.PublicKey,
	}, nil
}

// Export serializes a SessionKey to its portable form (spec §4.5: "Export
// /import yields the same key material").
func Export(s *SessionKey) ([]byte, error) {
	return json.Marshal(struct {
		User       string `json:"user"`
		PackageID  string `json:"package_id"`
		ExpiresAt  int64  `json:"expires_at"`
		PrivateKey []byte `json:"private_key"`
		Assertion  []byte `json:"assertion,omitempty"`
	}{
		User:       s.User.Hex(),
		PackageID:  s.PackageID,
		ExpiresAt:  s.ExpiresAt.Unix(),
		PrivateKey: ethcrypto.FromECDSA(s.PrivateKey),
		Assertion:  s.Assertion,
	})
}

// Import reconstructs a SessionKey from Export's output.
func Import(data []byte) (*SessionKey, error) {
	var w struct {
		User       string `json:"user"`
		PackageID  string `json:"package_id"`
		ExpiresAt  int64  `json:"expires_at"`
		PrivateKey []byte `json:"private_key"`
		Assertion  []byte `json:"assertion,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, pdwerr.Wrap("ibe.Import", pdwerr.Tampered, err)
	}
	user, err := model.ParseAddress(w.User)
	if err != nil {
		return nil, pdwerr.Wrap("ibe.Import", pdwerr.Tampered, err)
	}
	priv, err := ethcrypto.ToECDSA(w.PrivateKey)
	if err != nil {
		return nil, pdwerr.Wrap("ibe.Import", pdwerr.Tampered, err)
	}
	return &SessionKey{
		User:       user,
		PackageID:  w.PackageID,
		ExpiresAt:  time.Unix(w.ExpiresAt, 0),
		PrivateKey: priv,
		PublicKey:  &priv.PublicKey,
		Assertion:  w.Assertion,
	}, nil
}

// SessionManager caches sessions per user with a bounded LRU, purging
// expired entries lazily on Get (spec §4.5: "cached per user with an LRU
// of bounded size and purged on TTL").
type SessionManager struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *SessionKey]
}

// NewSessionManager builds a manager caching up to size sessions.
func NewSessionManager(size int) (*SessionManager, error) {
	c, err := lru.New[string, *SessionKey](size)
	if err != nil {
		return nil, pdwerr.Wrap("ibe.NewSessionManager", pdwerr.Internal, err)
	}
	return &SessionManager{cache: c}, nil
}

func sessionCacheKey(user model.Address, packageID string) string {
	return user.Hex() + "/" + packageID
}

// Put caches s.
func (m *SessionManager) Put(s *SessionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(sessionCacheKey(s.User, s.PackageID), s)
}

// Get returns the cached session for (user, packageID), evicting and
// returning ok=false if it has expired.
func (m *SessionManager) Get(user model.Address, packageID string) (*SessionKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionCacheKey(user, packageID)
	s, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	if s.Expired() {
		m.cache.Remove(key)
		return nil, false
	}
	return s, true
}

// PurgeExpired sweeps the entire cache for expired sessions. Intended to
// run on a ticker alongside internal/store's idle sweeper.
func (m *SessionManager) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for _, key := range m.cache.Keys() {
		if s, ok := m.cache.Peek(key); ok && s.Expired() {
			m.cache.Remove(key)
			purged++
		}
	}
	return purged
}
