package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

func TestDeriveContextIDDeterministic(t *testing.T) {
	var user model.Address
	user[0] = 0x01
	salt := []byte("salt")

	a := DeriveContextID(user, "app1", salt)
	b := DeriveContextID(user, "app1", salt)
	require.Equal(t, a, b)

	c := DeriveContextID(user, "app2", salt)
	require.NotEqual(t, a, c)
}

func TestRequestConsentRejectsUnknownScope(t *testing.T) {
	e := New()
	_, err := e.RequestConsent(RequestConsentInput{RequesterApp: "app", Scopes: []model.GrantScope{"bogus:scope"}})
	require.Error(t, err)
	require.True(t, pdwerr.Is(err, pdwerr.InvalidInput))
}

func TestRequestConsentAndResolve(t *testing.T) {
	e := New()
	id, err := e.RequestConsent(RequestConsentInput{
		RequesterApp: "app",
		Scopes:       []model.GrantScope{model.ScopeReadMemories},
		Purpose:      "chat assistant",
	})
	require.NoError(t, err)

	req, ok := e.Get(id)
	require.True(t, ok)
	require.False(t, req.Resolved)

	require.NoError(t, e.Resolve(id, true))
	req, ok = e.Get(id)
	require.True(t, ok)
	require.True(t, req.Resolved)
	require.True(t, req.Approved)

	err = e.Resolve(id, false)
	require.Error(t, err)
	require.True(t, pdwerr.Is(err, pdwerr.Conflict))
}

func TestGrantRejectsUnknownScope(t *testing.T) {
	_, err := Grant(GrantInput{Scopes: []model.GrantScope{"nope"}})
	require.Error(t, err)
}

func TestGrantBuildsTransaction(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	tx, err := Grant(GrantInput{
		Grantee:   "app.example",
		Scopes:    []model.GrantScope{model.ScopeReadMemories, model.ScopeReadContexts},
		ExpiresAt: &exp,
	})
	require.NoError(t, err)
	require.Equal(t, "grant_access", tx.Entry)
	require.Equal(t, "app.example", tx.Args["grantee"])
}

func TestBuildSealApproveWithAndWithoutAppID(t *testing.T) {
	tx := BuildSealApprove("content1", "")
	require.Equal(t, "seal_approve", tx.Entry)

	tx2 := BuildSealApprove("content1", "app.example")
	require.Equal(t, "seal_approve_with_app_id", tx2.Entry)
	require.Equal(t, "app.example", tx2.Args["app_id"])
}
