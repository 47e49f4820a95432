package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAllocFreeCycle(t *testing.T) {
	p := newPool[int](4)
	assert.Equal(t, 4, p.capacity())

	var got []int
	for i := 0; i < 4; i++ {
		idx, ok := p.alloc()
		require.True(t, ok)
		got = append(got, idx)
	}
	_, ok := p.alloc()
	assert.False(t, ok, "pool should be exhausted")

	assert.True(t, p.free(got[1]))
	idx, ok := p.alloc()
	require.True(t, ok)
	assert.Equal(t, got[1], idx, "freed slot should be reused")
}

func TestPoolFreeRejectsDoubleFreeAndOutOfRange(t *testing.T) {
	p := newPool[int](2)
	idx, ok := p.alloc()
	require.True(t, ok)
	require.True(t, p.free(idx))
	assert.False(t, p.free(idx), "double free must be rejected")
	assert.False(t, p.free(-1))
	assert.False(t, p.free(100))
}

func TestPoolAllocZeroesSlot(t *testing.T) {
	p := newPool[int](1)
	idx, ok := p.alloc()
	require.True(t, ok)
	*p.at(idx) = 42
	require.True(t, p.free(idx))
	idx, ok = p.alloc()
	require.True(t, ok)
	assert.Equal(t, 0, *p.at(idx))
}

func TestPoolGenerationSurvivesAllocZeroFillAndChangesAcrossReuse(t *testing.T) {
	p := newPool[int](1)
	idx, ok := p.alloc()
	require.True(t, ok)
	g1 := p.generation(idx)
	require.True(t, p.free(idx))
	idx2, ok := p.alloc()
	require.True(t, ok)
	require.Equal(t, idx, idx2)
	g2 := p.generation(idx2)
	assert.NotEqual(t, g1, g2, "generation must change across a free/alloc cycle of the same slot")
}

func TestPoolStatsTracksPeak(t *testing.T) {
	p := newPool[int](4)
	a, _ := p.alloc()
	b, _ := p.alloc()
	require.True(t, p.free(a))
	require.True(t, p.free(b))
	st := p.stats()
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 0, st.Used)
	assert.Equal(t, 2, st.Peak)
}

func TestSizeClassPoolPicksSmallestFit(t *testing.T) {
	scp := newSizeClassPool([]int{64, 256, 1024}, []int{2, 2, 2})
	buf, class, _, ok := scp.alloc(100)
	require.True(t, ok)
	assert.Equal(t, 1, class)
	assert.Equal(t, 256, len(buf))
}

func TestSizeClassPoolRejectsOversizeRequest(t *testing.T) {
	scp := newSizeClassPool([]int{64, 256}, []int{2, 2})
	_, _, _, ok := scp.alloc(1000)
	assert.False(t, ok)
}

func TestSizeClassPoolExhaustionFailsClosed(t *testing.T) {
	scp := newSizeClassPool([]int{64}, []int{1})
	_, _, _, ok := scp.alloc(10)
	require.True(t, ok)
	_, _, _, ok = scp.alloc(10)
	assert.False(t, ok, "exhausted class must fail rather than fall back to a larger class")
}
