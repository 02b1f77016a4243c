package isofile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiBufferReadAt(t *testing.T) {
	var b multiBuffer
	b.append([]byte{1, 2, 3})
	b.append([]byte{4, 5})
	b.append([]byte{6, 7, 8, 9})

	require.Equal(t, uint64(9), b.end)

	byts, err := b.readAt(2, 5)
	require.NoError(t, err)
	require.Equal(t, []byte{3, 4, 5, 6, 7}, byts)

	require.True(t, b.available(5, 4))
	require.False(t, b.available(5, 5))

	_, err = b.readAt(7, 3)
	require.Error(t, err)
}

func TestMultiBufferRelease(t *testing.T) {
	var b multiBuffer
	b.append([]byte{1, 2, 3})
	b.append([]byte{4, 5})
	b.append([]byte{6, 7, 8, 9})

	b.release(4)
	require.Equal(t, uint64(5), b.size())
	require.Len(t, b.chunks, 2)

	byts, err := b.readAt(4, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{5, 6, 7}, byts)

	_, err = b.readAt(3, 1)
	require.ErrorIs(t, err, errReleased)

	b.release(2)
	require.Equal(t, uint64(4), b.start)

	b.release(100)
	require.Equal(t, uint64(0), b.size())
	require.Empty(t, b.chunks)
}
