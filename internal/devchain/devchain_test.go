package devchain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealwallet/pdw-core/internal/access"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
	"github.com/sealwallet/pdw-core/internal/registry"
)

func testOwner() model.Address {
	var a model.Address
	a[0] = 0x7
	return a
}

func TestCreateMemoryRecordEmitsEventAndIsReadable(t *testing.T) {
	chain, err := New()
	require.NoError(t, err)

	owner := testOwner()
	tx := registry.BuildCreateMemoryRecord("general", 5, "blob1", model.MemoryMetadata{Topic: "t1", Importance: 7})
	raw, err := chain.Submit(context.Background(), Sign(owner, tx))
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	list, err := chain.ListUserMemories(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "general", list[0].Category)
	require.Equal(t, uint64(5), list[0].VectorID)
	require.Equal(t, "t1", list[0].Metadata.Topic)
}

func TestUpdateMemoryIndexEnforcesCAS(t *testing.T) {
	chain, err := New()
	require.NoError(t, err)
	owner := testOwner()

	createTx := registry.BuildCreateMemoryIndex("idx1", "graph1")
	_, err = chain.Submit(context.Background(), Sign(owner, createTx))
	require.NoError(t, err)

	root, err := chain.GetMemoryIndex(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, uint64(1), root.Version)

	updateTx := registry.BuildUpdateMemoryIndex(owner, 1, "idx2", "graph2")
	_, err = chain.Submit(context.Background(), Sign(owner, updateTx))
	require.NoError(t, err)

	root, err = chain.GetMemoryIndex(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, uint64(2), root.Version)
	require.Equal(t, "idx2", root.IndexBlobID)

	staleTx := registry.BuildUpdateMemoryIndex(owner, 1, "idx3", "graph3")
	_, err = chain.Submit(context.Background(), Sign(owner, staleTx))
	require.Error(t, err)
	require.True(t, pdwerr.Is(err, pdwerr.Conflict))
}

func TestGrantAndRevokeAccess(t *testing.T) {
	chain, err := New()
	require.NoError(t, err)
	owner := testOwner()

	var ctxID model.ContextID
	ctxID[0] = 0x1
	grantTx, err := access.Grant(access.GrantInput{ContextID: ctxID, Grantee: "app1", Scopes: []model.GrantScope{model.ScopeReadMemories}})
	require.NoError(t, err)

	raw, err := chain.Submit(context.Background(), Sign(owner, registry.Tx{Entry: grantTx.Entry, Args: grantTx.Args}))
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	var grantID string
	for id, g := range chain.grants {
		require.Equal(t, model.ScopeReadMemories, g.Scope)
		grantID = id
	}
	require.NotEmpty(t, grantID)

	revokeTx := access.Revoke(grantID)
	_, err = chain.Submit(context.Background(), Sign(owner, registry.Tx{Entry: revokeTx.Entry, Args: revokeTx.Args}))
	require.NoError(t, err)

	got, err := chain.GetAccessGrant(context.Background(), grantID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteMemoryRequiresOwnership(t *testing.T) {
	chain, err := New()
	require.NoError(t, err)
	owner := testOwner()
	var other model.Address
	other[0] = 0x9

	tx := registry.BuildCreateMemoryRecord("general", 1, "blob1", model.MemoryMetadata{})
	_, err = chain.Submit(context.Background(), Sign(owner, tx))
	require.NoError(t, err)

	var memoryID string
	for id := range chain.memories {
		memoryID = id
	}

	deleteTx := registry.BuildDeleteMemory(memoryID)
	_, err = chain.Submit(context.Background(), Sign(other, deleteTx))
	require.Error(t, err)
	require.True(t, pdwerr.Is(err, pdwerr.Unauthorized))
}
