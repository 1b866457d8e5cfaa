package assembly

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleFragment(t *testing.T) {
	a := New(0)
	payload := []byte("hello world")

	got, done, err := a.Feed("m-1", 0, payload, len(payload))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, payload, got)
}

func TestOutOfOrderTiling(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")

	// Split into uneven fragments and feed in shuffled order.
	bounds := []int{0, 7, 8, 20, 31, len(payload)}
	type frag struct{ start, end int }
	var frags []frag
	for i := 1; i < len(bounds); i++ {
		frags = append(frags, frag{bounds[i-1], bounds[i]})
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		a := New(0)
		order := rng.Perm(len(frags))
		for i, fi := range order {
			f := frags[fi]
			got, done, err := a.Feed("m-1", f.start, payload[f.start:f.end], len(payload))
			require.NoError(t, err)
			if i < len(order)-1 {
				assert.False(t, done, "complete before last fragment (trial %d)", trial)
				assert.Nil(t, got)
			} else {
				require.True(t, done, "not complete after last fragment (trial %d)", trial)
				assert.True(t, bytes.Equal(payload, got))
			}
		}
	}
}

func TestCompletionIsExactlyOnce(t *testing.T) {
	a := New(0)
	payload := []byte("abcd")

	_, done, err := a.Feed("m-1", 0, payload, 4)
	require.NoError(t, err)
	require.True(t, done)

	// Re-delivered fragments after completion are a no-op.
	got, done, err := a.Feed("m-1", 0, payload, 4)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, got)
}

func TestDuplicateFragmentBeforeCompletion(t *testing.T) {
	a := New(0)
	payload := []byte("abcdef")

	_, done, err := a.Feed("m-1", 0, payload[:3], 6)
	require.NoError(t, err)
	require.False(t, done)

	// Same range again, then the rest.
	_, done, err = a.Feed("m-1", 0, payload[:3], 6)
	require.NoError(t, err)
	require.False(t, done)

	got, done, err := a.Feed("m-1", 3, payload[3:], 6)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, payload, got)
}

func TestSizeMismatchDropsBuffer(t *testing.T) {
	a := New(0)

	_, _, err := a.Feed("m-1", 0, []byte("ab"), 10)
	require.NoError(t, err)

	_, _, err = a.Feed("m-1", 2, []byte("cd"), 12)
	assert.ErrorIs(t, err, ErrSizeMismatch)
	assert.False(t, a.Pending("m-1"), "buffer should be dropped on mismatch")
}

func TestFragmentBounds(t *testing.T) {
	a := New(0)

	t.Run("past declared size", func(t *testing.T) {
		_, _, err := a.Feed("m-1", 8, []byte("abcd"), 10)
		assert.ErrorIs(t, err, ErrFragmentBounds)
	})

	t.Run("negative offset", func(t *testing.T) {
		_, _, err := a.Feed("m-1", -1, []byte("ab"), 10)
		assert.ErrorIs(t, err, ErrFragmentBounds)
	})

	t.Run("negative total", func(t *testing.T) {
		_, _, err := a.Feed("m-1", 0, []byte("ab"), -4)
		assert.ErrorIs(t, err, ErrFragmentBounds)
	})

	// An offset near MaxInt must not wrap the bounds arithmetic past
	// the guard and into the copy.
	t.Run("overflowing offset", func(t *testing.T) {
		_, _, err := a.Feed("m-2", 0, []byte("ab"), 10)
		require.NoError(t, err)
		_, _, err = a.Feed("m-2", math.MaxInt-1, []byte("xy"), 10)
		assert.ErrorIs(t, err, ErrFragmentBounds)
	})
}

func TestDeclaredSizeCeiling(t *testing.T) {
	a := New(16)

	// The declared size is remote input; an absurd total must be
	// rejected before the buffer allocation.
	_, _, err := a.Feed("m-1", 0, []byte("x"), 1<<50)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.False(t, a.Pending("m-1"))

	_, _, err = a.Feed("m-2", 0, []byte("x"), 17)
	assert.ErrorIs(t, err, ErrTooLarge)

	got, done, err := a.Feed("m-3", 0, []byte("within limit ok!"), 16)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, []byte("within limit ok!"), got)
}

func TestEvictAndReset(t *testing.T) {
	a := New(0)

	_, _, err := a.Feed("m-1", 0, []byte("ab"), 4)
	require.NoError(t, err)
	require.True(t, a.Pending("m-1"))

	a.Evict("m-1")
	assert.False(t, a.Pending("m-1"))

	// After Reset even completed ids assemble again.
	_, done, err := a.Feed("m-2", 0, []byte("xy"), 2)
	require.NoError(t, err)
	require.True(t, done)
	a.Reset()
	got, done, err := a.Feed("m-2", 0, []byte("xy"), 2)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []byte("xy"), got)
}
