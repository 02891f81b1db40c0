package tick

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapFlip(t *testing.T) {
	bm := NewBitmap(10)

	require.NoError(t, bm.Flip(-230))
	assert.True(t, bm.IsInitialized(-230))
	assert.False(t, bm.IsInitialized(-220))

	require.NoError(t, bm.Flip(-230))
	assert.False(t, bm.IsInitialized(-230))
	assert.Empty(t, bm.Words())

	require.Error(t, bm.Flip(15))
}

func TestNextInitializedTickWithinOneWord(t *testing.T) {
	bm := NewBitmap(1)
	for _, tick := range []int32{-200, -55, -4, 70, 78, 84, 139, 240, 535} {
		require.NoError(t, bm.Flip(tick))
	}

	cases := []struct {
		name        string
		tick        int32
		lte         bool
		want        int32
		initialized bool
	}{
		{"right of 78", 78, false, 84, true},
		{"right of 77", 77, false, 78, true},
		{"right skips to next word", 255, false, 511, false},
		{"right of negative", -55, false, -4, true},
		{"right from word start", -257, false, -200, true},
		{"left at initialized", 78, true, 78, true},
		{"left of 79", 79, true, 78, true},
		{"left to word start", 258, true, 256, false},
		{"left negative", -5, true, -55, true},
		{"left hits 240", 255, true, 240, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, initialized := bm.NextInitializedTickWithinOneWord(tc.tick, tc.lte)
			assert.Equal(t, tc.want, next)
			assert.Equal(t, tc.initialized, initialized)
		})
	}
}

func TestNextInitializedTickMatchesLinearScan(t *testing.T) {
	for _, spacing := range []int32{1, 10, 60} {
		bm := NewBitmap(spacing)
		set := make(map[int32]bool)
		rng := rand.New(rand.NewSource(int64(spacing)))
		for i := 0; i < 40; i++ {
			tick := (rng.Int31n(2000) - 1000) * spacing
			require.NoError(t, bm.Flip(tick))
			set[tick] = !set[tick]
		}

		for i := 0; i < 500; i++ {
			start := rng.Int31n(2400*spacing) - 1200*spacing
			for _, lte := range []bool{true, false} {
				next, initialized := bm.NextInitializedTickWithinOneWord(start, lte)
				want, wantInit := linearScan(set, start, lte, spacing)
				require.Equal(t, wantInit, initialized, "spacing %d start %d lte %v", spacing, start, lte)
				require.Equal(t, want, next, "spacing %d start %d lte %v", spacing, start, lte)
			}
		}
	}
}

// linearScan walks compressed ticks one at a time inside the starting word.
func linearScan(set map[int32]bool, tick int32, lte bool, spacing int32) (int32, bool) {
	compressed := tick / spacing
	if tick < 0 && tick%spacing != 0 {
		compressed--
	}
	if lte {
		wordStart := (compressed >> 8) << 8
		for c := compressed; c >= wordStart; c-- {
			if set[c*spacing] {
				return c * spacing, true
			}
		}
		return wordStart * spacing, false
	}
	from := compressed + 1
	wordEnd := (from>>8)<<8 + 255
	for c := from; c <= wordEnd; c++ {
		if set[c*spacing] {
			return c * spacing, true
		}
	}
	return wordEnd * spacing, false
}
