package bitmap

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// WordBits is the number of claim flags packed into one word.
const WordBits = 256

var ErrIndexOutOfRange = errors.New("claim index out of range")

// ClaimBitmap records which leaf indices have been claimed. Bit index%256 of word index/256 is
// set once the leaf is claimed. Bits are never cleared.
//
// SetClaimed is idempotent; refusing a second claim is up to the caller, which must check
// IsClaimed first.
type ClaimBitmap interface {
	IsClaimed(index uint32) bool
	SetClaimed(index uint32) error

	// Words returns copies of every non-zero word keyed by word index.
	Words() map[uint32]*uint256.Int

	// Bounded reports whether the bitmap is limited to a single word.
	Bounded() bool

	Clone() ClaimBitmap
}

// Position splits a claim index into its word index and the bit within that word.
func Position(index uint32) (word uint32, bit uint) {
	return index / WordBits, uint(index % WordBits)
}

func bitMask(bit uint) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), bit)
}

func isSet(word *uint256.Int, bit uint) bool {
	if word == nil {
		return false
	}
	return !new(uint256.Int).And(word, bitMask(bit)).IsZero()
}

// Bitmap1D is a single 256 bit word. Index 255 is the largest index it can hold.
type Bitmap1D struct {
	word uint256.Int
}

var _ ClaimBitmap = (*Bitmap1D)(nil)

func NewBitmap1D() *Bitmap1D {
	return &Bitmap1D{}
}

func (b *Bitmap1D) IsClaimed(index uint32) bool {
	if index >= WordBits {
		return false
	}
	return isSet(&b.word, uint(index))
}

func (b *Bitmap1D) SetClaimed(index uint32) error {
	if index >= WordBits {
		return fmt.Errorf("%w: index %d does not fit in a single %d bit word", ErrIndexOutOfRange, index, WordBits)
	}
	b.word.Or(&b.word, bitMask(uint(index)))
	return nil
}

func (b *Bitmap1D) Words() map[uint32]*uint256.Int {
	words := make(map[uint32]*uint256.Int, 1)
	if !b.word.IsZero() {
		words[0] = new(uint256.Int).Set(&b.word)
	}
	return words
}

func (b *Bitmap1D) Bounded() bool { return true }

func (b *Bitmap1D) Clone() ClaimBitmap {
	c := &Bitmap1D{}
	c.word.Set(&b.word)
	return c
}

// Word returns a copy of the underlying word.
func (b *Bitmap1D) Word() *uint256.Int {
	return new(uint256.Int).Set(&b.word)
}

// Bitmap2D holds one word per 256 contiguous indices, allocated on first use.
type Bitmap2D struct {
	words map[uint32]*uint256.Int
}

var _ ClaimBitmap = (*Bitmap2D)(nil)

func NewBitmap2D() *Bitmap2D {
	return &Bitmap2D{words: make(map[uint32]*uint256.Int)}
}

func (b *Bitmap2D) IsClaimed(index uint32) bool {
	wordIndex, bit := Position(index)
	return isSet(b.words[wordIndex], bit)
}

func (b *Bitmap2D) SetClaimed(index uint32) error {
	wordIndex, bit := Position(index)
	word, ok := b.words[wordIndex]
	if !ok {
		word = new(uint256.Int)
		b.words[wordIndex] = word
	}
	word.Or(word, bitMask(bit))
	return nil
}

func (b *Bitmap2D) Words() map[uint32]*uint256.Int {
	words := make(map[uint32]*uint256.Int, len(b.words))
	for i, w := range b.words {
		if !w.IsZero() {
			words[i] = new(uint256.Int).Set(w)
		}
	}
	return words
}

func (b *Bitmap2D) Bounded() bool { return false }

func (b *Bitmap2D) Clone() ClaimBitmap {
	return &Bitmap2D{words: b.Words()}
}

// Word returns a copy of the word at wordIndex, zero if it was never written.
func (b *Bitmap2D) Word(wordIndex uint32) *uint256.Int {
	if w, ok := b.words[wordIndex]; ok {
		return new(uint256.Int).Set(w)
	}
	return new(uint256.Int)
}

// Count returns the number of set bits.
func Count(b ClaimBitmap) int {
	count := 0
	for _, w := range b.Words() {
		for _, limb := range *w {
			for limb != 0 {
				limb &= limb - 1
				count++
			}
		}
	}
	return count
}
