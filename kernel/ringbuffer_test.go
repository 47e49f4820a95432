package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteRingRoundsDownToPowerOfTwo(t *testing.T) {
	rb := newByteRing(make([]byte, 4*10), 4, 10)
	assert.Equal(t, 8, rb.Cap())
}

func TestByteRingFIFOOrder(t *testing.T) {
	rb := newByteRing(make([]byte, 4*4), 4, 4)
	require.True(t, rb.Put([]byte("aaaa")))
	require.True(t, rb.Put([]byte("bbbb")))

	dst := make([]byte, 4)
	require.True(t, rb.Get(dst))
	assert.Equal(t, "aaaa", string(dst))
	require.True(t, rb.Get(dst))
	assert.Equal(t, "bbbb", string(dst))
	assert.True(t, rb.Empty())
}

func TestByteRingFullRejectsPut(t *testing.T) {
	rb := newByteRing(make([]byte, 4*2), 4, 2)
	require.True(t, rb.Put([]byte("aaaa")))
	require.True(t, rb.Put([]byte("bbbb")))
	assert.True(t, rb.Full())
	assert.False(t, rb.Put([]byte("cccc")))
}

func TestByteRingEmptyRejectsGet(t *testing.T) {
	rb := newByteRing(make([]byte, 4*2), 4, 2)
	dst := make([]byte, 4)
	assert.False(t, rb.Get(dst))
}

func TestByteRingWrapsAroundCorrectly(t *testing.T) {
	rb := newByteRing(make([]byte, 4*4), 4, 4)
	dst := make([]byte, 4)
	for i := 0; i < 10; i++ {
		require.True(t, rb.Put([]byte{byte(i), byte(i), byte(i), byte(i)}))
		require.True(t, rb.Get(dst))
		assert.Equal(t, byte(i), dst[0])
	}
}

func TestByteRingPeekDoesNotConsume(t *testing.T) {
	rb := newByteRing(make([]byte, 4), 4, 1)
	require.True(t, rb.Put([]byte("abcd")))
	dst := make([]byte, 4)
	require.True(t, rb.Peek(dst))
	assert.Equal(t, "abcd", string(dst))
	assert.Equal(t, 1, rb.Len())
	require.True(t, rb.Get(dst))
	assert.Equal(t, 0, rb.Len())
}

func TestByteRingClear(t *testing.T) {
	rb := newByteRing(make([]byte, 8), 4, 2)
	require.True(t, rb.Put([]byte("abcd")))
	rb.Clear()
	assert.True(t, rb.Empty())
	assert.Equal(t, 0, rb.Len())
}
