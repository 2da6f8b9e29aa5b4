package registry

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

func jsonStringsReader(s string) io.Reader { return strings.NewReader(s) }

func common20(a model.Address) common.Address { return common.Address(a) }

type fakeReader struct {
	memories map[string]*model.MemoryRecord
	index    map[model.Address]*model.MemoryIndexRoot
	grants   map[string]*model.AccessGrant
	submitFn func(ctx context.Context, tx []byte) ([]byte, error)
}

func (f *fakeReader) GetMemory(ctx context.Context, id string) (*model.MemoryRecord, error) {
	return f.memories[id], nil
}
func (f *fakeReader) GetMemoryIndex(ctx context.Context, owner model.Address) (*model.MemoryIndexRoot, error) {
	return f.index[owner], nil
}
func (f *fakeReader) ListUserMemories(ctx context.Context, owner model.Address) ([]model.MemoryRecord, error) {
	var out []model.MemoryRecord
	for _, m := range f.memories {
		if m.Owner == owner {
			out = append(out, *m)
		}
	}
	return out, nil
}
func (f *fakeReader) GetAccessGrant(ctx context.Context, id string) (*model.AccessGrant, error) {
	return f.grants[id], nil
}
func (f *fakeReader) Submit(ctx context.Context, signedTx []byte) ([]byte, error) {
	return f.submitFn(ctx, signedTx)
}

func newTestClient(t *testing.T, reader *fakeReader) *Client {
	t.Helper()
	c, err := New(reader, DefaultEventsABI)
	require.NoError(t, err)
	return c
}

func TestGetMemoryNotFound(t *testing.T) {
	c := newTestClient(t, &fakeReader{memories: map[string]*model.MemoryRecord{}})
	_, err := c.GetMemory(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, pdwerr.Is(err, pdwerr.NotFound))
}

func TestGetMemoryFound(t *testing.T) {
	rec := &model.MemoryRecord{MemoryID: "m1", Category: "general"}
	c := newTestClient(t, &fakeReader{memories: map[string]*model.MemoryRecord{"m1": rec}})
	got, err := c.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, "general", got.Category)
}

func TestBuildersProduceExpectedEntries(t *testing.T) {
	tx := BuildCreateMemoryRecord("general", 7, "blob1", model.MemoryMetadata{Topic: "t"})
	require.Equal(t, "create_memory_record", tx.Entry)
	require.Equal(t, uint64(7), tx.Args["vector_id"])

	var owner model.Address
	updateTx := BuildUpdateMemoryIndex(owner, 3, "idx2", "graph2")
	require.Equal(t, "update_memory_index", updateTx.Entry)
	require.Equal(t, uint64(3), updateTx.Args["expected_version"])
}

func TestDecodeEventsUnpacksFields(t *testing.T) {
	var owner model.Address
	owner[0] = 0x11

	parsed, err := abi.JSON(jsonStringsReader(DefaultEventsABI))
	require.NoError(t, err)
	ev := parsed.Events["MemoryCreated"]
	packed, err := ev.Inputs.Pack(common20(owner), "m1", uint64(9), "blobX")
	require.NoError(t, err)

	logs := []rawLog{{Name: "MemoryCreated", Data: packed}}
	raw, err := json.Marshal(logs)
	require.NoError(t, err)

	reader := &fakeReader{submitFn: func(ctx context.Context, tx []byte) ([]byte, error) { return raw, nil }}
	c := newTestClient(t, reader)

	events, err := c.Submit(context.Background(), []byte("signed-tx"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "MemoryCreated", events[0].Name)
	require.Equal(t, "m1", events[0].Fields["memory_id"])
	require.Equal(t, uint64(9), events[0].Fields["vector_id"])
}
