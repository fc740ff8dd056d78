package ring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/rtvc/internal/ring"
)

func samplesSeq(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

func TestWriteReadFIFO(t *testing.T) {
	b := ring.New(8)
	b.Write([]float32{1, 2, 3})
	assert.Equal(t, 3, b.Size())
	got := b.Read(2)
	assert.Equal(t, []float32{1, 2}, got)
	assert.Equal(t, 1, b.Size())
}

func TestReadMoreThanAvailable(t *testing.T) {
	b := ring.New(8)
	b.Write([]float32{1, 2})
	got := b.Read(10)
	assert.Equal(t, []float32{1, 2}, got)
	assert.Empty(t, b.Read(1))
}

func TestPeekDoesNotAdvance(t *testing.T) {
	b := ring.New(8)
	b.Write([]float32{1, 2, 3})
	p1 := b.Peek(2)
	p2 := b.Peek(2)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 3, b.Size())
}

func TestOverflowShiftsOldest(t *testing.T) {
	b := ring.New(4)
	b.Write([]float32{1, 2, 3, 4})
	b.Write([]float32{5, 6})
	require.Equal(t, 4, b.Size())
	assert.Equal(t, []float32{3, 4, 5, 6}, b.Read(4))
	assert.Equal(t, uint64(2), b.Drops())
}

func TestWriteLargerThanCapacity(t *testing.T) {
	b := ring.New(4)
	b.Write(samplesSeq(10, 0))
	assert.Equal(t, 4, b.Size())
	assert.Equal(t, []float32{6, 7, 8, 9}, b.Read(4))
	assert.Equal(t, uint64(6), b.Drops())
}

func TestBoundedSizeInvariant(t *testing.T) {
	b := ring.New(16)
	for i := 0; i < 100; i++ {
		b.Write(samplesSeq(7, float32(i)))
		if i%3 == 0 {
			b.Read(5)
		}
		size := b.Size()
		assert.GreaterOrEqual(t, size, 0)
		assert.LessOrEqual(t, size, b.Capacity())
	}
}

func TestClearResetsDropsAndSize(t *testing.T) {
	b := ring.New(2)
	b.Write([]float32{1, 2, 3})
	assert.Positive(t, b.Drops())
	b.Clear()
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, uint64(0), b.Drops())
}

func TestTailReturnsMostRecent(t *testing.T) {
	b := ring.New(8)
	b.Write([]float32{1, 2, 3, 4, 5})
	assert.Equal(t, []float32{3, 4, 5}, b.Tail(3))
	// Tail does not consume.
	assert.Equal(t, 5, b.Size())
}

func TestWrapAroundConsistency(t *testing.T) {
	b := ring.New(4)
	b.Write([]float32{1, 2})
	b.Read(2)
	b.Write([]float32{3, 4, 5})
	assert.Equal(t, []float32{3, 4, 5}, b.Read(3))
}
