package bitmap

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap1D(t *testing.T) {
	t.Run("Index 255 is the last valid index", func(t *testing.T) {
		b := NewBitmap1D()
		require.False(t, b.IsClaimed(255))
		require.NoError(t, b.SetClaimed(255))
		require.True(t, b.IsClaimed(255))
		require.False(t, b.IsClaimed(254))
	})

	t.Run("Index 256 is out of range", func(t *testing.T) {
		b := NewBitmap1D()
		err := b.SetClaimed(256)
		require.ErrorIs(t, err, ErrIndexOutOfRange)
		require.False(t, b.IsClaimed(256))
		require.True(t, b.Word().IsZero())
	})

	t.Run("Setting twice is a no-op", func(t *testing.T) {
		b := NewBitmap1D()
		require.NoError(t, b.SetClaimed(7))
		before := b.Word()
		require.NoError(t, b.SetClaimed(7))
		require.True(t, b.IsClaimed(7))
		require.Equal(t, before, b.Word())
	})

	t.Run("Bits are independent", func(t *testing.T) {
		b := NewBitmap1D()
		for _, i := range []uint32{0, 63, 64, 127, 128, 200} {
			require.NoError(t, b.SetClaimed(i))
		}
		for i := uint32(0); i < WordBits; i++ {
			expected := i == 0 || i == 63 || i == 64 || i == 127 || i == 128 || i == 200
			assert.Equal(t, expected, b.IsClaimed(i), "index %d", i)
		}
		assert.Equal(t, 6, Count(b))
	})
}

func TestBitmap2D(t *testing.T) {
	t.Run("Indices 1499-1501 land in word 5", func(t *testing.T) {
		b := NewBitmap2D()
		require.NoError(t, b.SetClaimed(1499))
		require.NoError(t, b.SetClaimed(1500))
		require.NoError(t, b.SetClaimed(1501))

		expected := new(uint256.Int)
		for _, bit := range []uint{219, 220, 221} {
			expected.Or(expected, new(uint256.Int).Lsh(uint256.NewInt(1), bit))
		}
		require.Equal(t, expected, b.Word(5))

		words := b.Words()
		require.Len(t, words, 1)
		require.Contains(t, words, uint32(5))

		require.True(t, b.IsClaimed(1499))
		require.True(t, b.IsClaimed(1500))
		require.True(t, b.IsClaimed(1501))
		require.False(t, b.IsClaimed(1502))
		require.False(t, b.IsClaimed(1498))
	})

	t.Run("Large indices", func(t *testing.T) {
		b := NewBitmap2D()
		require.NoError(t, b.SetClaimed(^uint32(0)))
		require.True(t, b.IsClaimed(^uint32(0)))
		word, bit := Position(^uint32(0))
		require.Equal(t, uint32(16777215), word)
		require.Equal(t, uint(255), bit)
	})

	t.Run("Clone is independent", func(t *testing.T) {
		b := NewBitmap2D()
		require.NoError(t, b.SetClaimed(3))
		c := b.Clone()
		require.NoError(t, c.SetClaimed(4))
		require.True(t, c.IsClaimed(3))
		require.False(t, b.IsClaimed(4))
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	testCases := []struct {
		name    string
		bitmap  ClaimBitmap
		indices []uint32
	}{
		{"Single word", NewBitmap1D(), []uint32{0, 1, 255}},
		{"Multi word", NewBitmap2D(), []uint32{0, 256, 1500, 100000}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for _, i := range tc.indices {
				require.NoError(t, tc.bitmap.SetClaimed(i))
			}
			data, err := Marshal(tc.bitmap)
			require.NoError(t, err)

			restored, err := Unmarshal(data)
			require.NoError(t, err)
			require.Equal(t, tc.bitmap.Bounded(), restored.Bounded())
			require.Equal(t, tc.bitmap.Words(), restored.Words())
			for _, i := range tc.indices {
				require.True(t, restored.IsClaimed(i))
			}
		})
	}
}

func TestSnapshotRejectsWideSingleWord(t *testing.T) {
	s := &Snapshot{Bounded: true, Words: map[uint32]common.Hash{1: {0x01}}}
	_, err := s.Restore()
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}
