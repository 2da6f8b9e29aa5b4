package ibe

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

func buildEngine(t *testing.T, threshold, n int, predicate ApprovalPredicate) *Engine {
	t.Helper()
	servers := make([]KeyServerClient, n)
	for i := 0; i < n; i++ {
		servers[i] = NewLocalKeyServer(uint8(i+1), predicate)
	}
	e, err := New(Config{ThresholdT: threshold, ServersN: n}, servers)
	require.NoError(t, err)
	return e
}

// newTestUser returns a private key and the model.Address derived from it,
// standing in for the user's external wallet.
func newTestUser(t *testing.T) (*ecdsa.PrivateKey, model.Address) {
	t.Helper()
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	var addr model.Address
	copy(addr[:], ethcrypto.PubkeyToAddress(priv.PublicKey).Bytes())
	return priv, addr
}

func approvedSession(t *testing.T, userPriv *ecdsa.PrivateKey, user model.Address, ttl time.Duration) *SessionKey {
	t.Helper()
	s, err := CreateSession(user, "pkg-1", ttl)
	require.NoError(t, err)
	digest := s.AssertionDigest()
	sig, err := ethcrypto.Sign(digest[:], userPriv)
	require.NoError(t, err)
	require.NoError(t, s.AttachAssertion(sig))
	return s
}

func TestEncryptDecryptRoundTripWithThreshold(t *testing.T) {
	e := buildEngine(t, 2, 3, AllowAll)
	userPriv, user := newTestUser(t)

	ciphertext, backup, err := e.Encrypt(context.Background(), []byte("secret memory"), user.Bytes())
	require.NoError(t, err)
	require.Len(t, backup, 32)

	session := approvedSession(t, userPriv, user, time.Hour)
	approvalTx := BuildSelfApproval(user).Bytes()

	pt, err := e.Decrypt(context.Background(), ciphertext, user.Bytes(), session, approvalTx)
	require.NoError(t, err)
	require.Equal(t, "secret memory", string(pt))
}

func TestDecryptFailsBelowThreshold(t *testing.T) {
	denyAll := func(identity, approvalTx, assertion []byte) bool { return false }
	e := buildEngine(t, 2, 3, denyAll)
	userPriv, user := newTestUser(t)

	ciphertext, _, err := e.Encrypt(context.Background(), []byte("secret"), user.Bytes())
	require.NoError(t, err)

	session := approvedSession(t, userPriv, user, time.Hour)
	_, err = e.Decrypt(context.Background(), ciphertext, user.Bytes(), session, BuildSelfApproval(user).Bytes())
	require.Error(t, err)
	require.True(t, pdwerr.Is(err, pdwerr.Unauthorized))
}

func TestDecryptFailsOnExpiredSession(t *testing.T) {
	e := buildEngine(t, 1, 1, AllowAll)
	userPriv, user := newTestUser(t)

	ciphertext, _, err := e.Encrypt(context.Background(), []byte("secret"), user.Bytes())
	require.NoError(t, err)

	session := approvedSession(t, userPriv, user, -time.Minute)

	_, err = e.Decrypt(context.Background(), ciphertext, user.Bytes(), session, BuildSelfApproval(user).Bytes())
	require.Error(t, err)
	require.True(t, pdwerr.Is(err, pdwerr.Expired))
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	e := buildEngine(t, 1, 1, AllowAll)
	userPriv, user := newTestUser(t)

	ciphertext, _, err := e.Encrypt(context.Background(), []byte("secret"), user.Bytes())
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	session := approvedSession(t, userPriv, user, time.Hour)
	_, err = e.Decrypt(context.Background(), ciphertext, user.Bytes(), session, BuildSelfApproval(user).Bytes())
	require.Error(t, err)
	require.True(t, pdwerr.Is(err, pdwerr.Tampered))
}
