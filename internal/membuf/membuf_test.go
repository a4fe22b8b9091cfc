package membuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAlignedAllocatesRequestedSize(t *testing.T) {
	buf, err := NewAligned(4096)
	require.NoError(t, err)
	defer buf.Close()

	require.Len(t, buf.Bytes(), 4096)

	buf.Bytes()[0] = 0xAA
	require.Equal(t, byte(0xAA), buf.Bytes()[0])
}

func TestNewAlignedRejectsNonPositiveSize(t *testing.T) {
	_, err := NewAligned(0)
	require.Error(t, err)

	_, err = NewAligned(-1)
	require.Error(t, err)
}

func TestAlignedBufferCloseIsIdempotent(t *testing.T) {
	buf, err := NewAligned(4096)
	require.NoError(t, err)
	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())
}

func TestPoolGetPutRoundTrip(t *testing.T) {
	b := Get(30)
	require.Len(t, b, 30)
	b[0] = 0x42
	Put(b)

	b2 := Get(30)
	require.Len(t, b2, 30)
	Put(b2)
}

func TestPoolBucketSelection(t *testing.T) {
	sizes := []int{1, size4k, size4k + 1, size16k, size64k, size256k, size256k + 1}
	for _, s := range sizes {
		b := Get(s)
		require.Len(t, b, s)
		Put(b)
	}
}
