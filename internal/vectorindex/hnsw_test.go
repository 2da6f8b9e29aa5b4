package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func unit(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestEmptyIndexSearchReturnsEmptyNotError(t *testing.T) {
	idx := New(Config{Dimension: 4, M: 8, EfConstruction: 32})
	res, err := idx.Search([]float32{1, 0, 0, 0}, 5, 0)
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestAddAndSearchFindsClosest(t *testing.T) {
	idx := New(Config{Dimension: 4, M: 8, EfConstruction: 64})
	require.NoError(t, idx.Add(1, unit(4, 0)))
	require.NoError(t, idx.Add(2, unit(4, 1)))
	require.NoError(t, idx.Add(3, unit(4, 2)))

	res, err := idx.Search(unit(4, 0), 1, 32)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, uint64(1), res[0].VectorID)
}

func TestSearchTieBreaksOnSmallerVectorID(t *testing.T) {
	idx := New(Config{Dimension: 2, M: 8, EfConstruction: 32})
	require.NoError(t, idx.Add(5, []float32{1, 0}))
	require.NoError(t, idx.Add(2, []float32{1, 0}))
	require.NoError(t, idx.Add(9, []float32{1, 0}))

	res, err := idx.Search([]float32{1, 0}, 3, 32)
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, uint64(2), res[0].VectorID)
}

func TestMarkDeleteExcludesFromSearch(t *testing.T) {
	idx := New(Config{Dimension: 4, M: 8, EfConstruction: 32})
	require.NoError(t, idx.Add(1, unit(4, 0)))
	require.NoError(t, idx.Add(2, unit(4, 0)))
	idx.MarkDelete(1)

	res, err := idx.Search(unit(4, 0), 5, 32)
	require.NoError(t, err)
	for _, n := range res {
		require.NotEqual(t, uint64(1), n.VectorID)
	}
	require.Equal(t, 1, idx.Size())
}

func TestAddRejectsDimensionMismatch(t *testing.T) {
	idx := New(Config{Dimension: 4, M: 8, EfConstruction: 32})
	require.NoError(t, idx.Add(1, unit(4, 0)))
	err := idx.Add(2, []float32{1, 0})
	require.Error(t, err)
}

func TestSerializeRoundTripPreservesSearchBehavior(t *testing.T) {
	idx := New(Config{Dimension: 4, M: 8, EfConstruction: 32})
	for i := uint64(1); i <= 20; i++ {
		require.NoError(t, idx.Add(i, unit(4, int(i)%4)))
	}
	idx.MarkDelete(3)

	blob, err := idx.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(blob, 4)
	require.NoError(t, err)
	require.Equal(t, idx.Size(), restored.Size())

	want, err := idx.Search(unit(4, 0), 5, 32)
	require.NoError(t, err)
	got, err := restored.Search(unit(4, 0), 5, 32)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDeserializeRejectsDimensionMismatch(t *testing.T) {
	idx := New(Config{Dimension: 4, M: 8, EfConstruction: 32})
	require.NoError(t, idx.Add(1, unit(4, 0)))
	blob, err := idx.Serialize()
	require.NoError(t, err)

	_, err = Deserialize(blob, 8)
	require.Error(t, err)
}

func TestSizeExcludesTombstones(t *testing.T) {
	idx := New(Config{Dimension: 2, M: 4, EfConstruction: 16})
	require.NoError(t, idx.Add(1, []float32{1, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1}))
	require.Equal(t, 2, idx.Size())
	idx.MarkDelete(2)
	require.Equal(t, 1, idx.Size())
}
