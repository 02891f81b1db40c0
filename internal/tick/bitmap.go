package tick

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

var one = uint256.NewInt(1)

// Bitmap packs the initialized state of spacing-compressed ticks into 256-bit words.
type Bitmap struct {
	spacing int32
	words   map[int16]*uint256.Int
}

func NewBitmap(spacing int32) *Bitmap {
	if spacing <= 0 {
		spacing = 1
	}
	return &Bitmap{spacing: spacing, words: make(map[int16]*uint256.Int)}
}

func (b *Bitmap) Spacing() int32 {
	return b.spacing
}

// compress maps a tick onto its spacing bucket, rounding toward negative infinity.
func (b *Bitmap) compress(tick int32) int32 {
	compressed := tick / b.spacing
	if tick < 0 && tick%b.spacing != 0 {
		compressed--
	}
	return compressed
}

func position(compressed int32) (int16, uint8) {
	return int16(compressed >> 8), uint8(compressed & 0xff)
}

// Flip toggles the initialized bit of tick. The tick must be a multiple of the spacing.
func (b *Bitmap) Flip(tick int32) error {
	if tick%b.spacing != 0 {
		return fmt.Errorf("tick %d not a multiple of spacing %d", tick, b.spacing)
	}
	wordPos, bitPos := position(tick / b.spacing)
	word, ok := b.words[wordPos]
	if !ok {
		word = new(uint256.Int)
	}
	mask := new(uint256.Int).Lsh(one, uint(bitPos))
	word = new(uint256.Int).Xor(word, mask)
	if word.IsZero() {
		delete(b.words, wordPos)
		return nil
	}
	b.words[wordPos] = word
	return nil
}

// IsInitialized reports whether the bit of tick is set.
func (b *Bitmap) IsInitialized(tick int32) bool {
	if tick%b.spacing != 0 {
		return false
	}
	wordPos, bitPos := position(tick / b.spacing)
	word, ok := b.words[wordPos]
	if !ok {
		return false
	}
	return new(uint256.Int).Rsh(word, uint(bitPos)).Uint64()&1 == 1
}

// NextInitializedTickWithinOneWord returns the next initialized tick at or below tick
// (lte) or strictly above it, searching only the 256-bit word that contains the start.
// When nothing is initialized the word boundary is returned with initialized=false.
func (b *Bitmap) NextInitializedTickWithinOneWord(tick int32, lte bool) (int32, bool) {
	compressed := b.compress(tick)

	if lte {
		wordPos, bitPos := position(compressed)
		bit := new(uint256.Int).Lsh(one, uint(bitPos))
		mask := new(uint256.Int).Sub(bit, one)
		mask.Add(mask, bit)

		masked := new(uint256.Int)
		if word, ok := b.words[wordPos]; ok {
			masked.And(word, mask)
		}
		if masked.IsZero() {
			return (compressed - int32(bitPos)) * b.spacing, false
		}
		msb := int32(masked.BitLen() - 1)
		return (compressed - (int32(bitPos) - msb)) * b.spacing, true
	}

	wordPos, bitPos := position(compressed + 1)
	bit := new(uint256.Int).Lsh(one, uint(bitPos))
	mask := new(uint256.Int).Not(new(uint256.Int).Sub(bit, one))

	masked := new(uint256.Int)
	if word, ok := b.words[wordPos]; ok {
		masked.And(word, mask)
	}
	if masked.IsZero() {
		return (compressed + 1 + int32(255-bitPos)) * b.spacing, false
	}
	lowest := new(uint256.Int).And(masked, new(uint256.Int).Neg(masked))
	lsb := int32(lowest.BitLen() - 1)
	return (compressed + 1 + (lsb - int32(bitPos))) * b.spacing, true
}

// Words returns the word positions holding at least one initialized tick, ascending.
func (b *Bitmap) Words() []int16 {
	out := make([]int16, 0, len(b.words))
	for pos := range b.words {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy of the bitmap.
func (b *Bitmap) Clone() *Bitmap {
	out := &Bitmap{spacing: b.spacing, words: make(map[int16]*uint256.Int, len(b.words))}
	for pos, word := range b.words {
		out.words[pos] = word.Clone()
	}
	return out
}
