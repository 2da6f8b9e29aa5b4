package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := NewContentKey()
	require.NoError(t, err)

	ct, err := Seal(key, []byte("hello memory"), []byte("identity"))
	require.NoError(t, err)

	pt, err := Open(key, ct, []byte("identity"))
	require.NoError(t, err)
	require.Equal(t, "hello memory", string(pt))
}

func TestOpenRejectsAADMismatch(t *testing.T) {
	key, err := NewContentKey()
	require.NoError(t, err)
	ct, err := Seal(key, []byte("hello"), []byte("identity-a"))
	require.NoError(t, err)

	_, err = Open(key, ct, []byte("identity-b"))
	require.Error(t, err)
}

func TestShamirSplitCombineRoundTrip(t *testing.T) {
	key, err := NewContentKey()
	require.NoError(t, err)

	shares, err := Split(key, 2, 3)
	require.NoError(t, err)
	require.Len(t, shares, 3)

	reconstructed, err := Combine(shares[:2], KeySize)
	require.NoError(t, err)
	require.Equal(t, key, reconstructed)

	reconstructed2, err := Combine([]Share{shares[0], shares[2]}, KeySize)
	require.NoError(t, err)
	require.Equal(t, key, reconstructed2)
}

func TestShamirInsufficientSharesDoNotReconstruct(t *testing.T) {
	key, err := NewContentKey()
	require.NoError(t, err)

	shares, err := Split(key, 3, 5)
	require.NoError(t, err)

	got, err := Combine(shares[:2], KeySize)
	require.NoError(t, err)
	require.NotEqual(t, key, got)
}
