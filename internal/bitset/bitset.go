package bitset

import (
	"math/bits"
	"sync/atomic"
)

const wordBits = 64

// Bitset is a fixed-length bitset backed by atomic words.
//
// Mutations must be serialized by the caller. Test and the Next* scans may
// run concurrently with a mutation and observe each word atomically.
type Bitset struct {
	words []atomic.Uint64
	n     int
}

// WordsFor returns the number of words needed to hold n bits.
func WordsFor(n int) int {
	return (n + wordBits - 1) / wordBits
}

// New creates a zeroed Bitset holding n bits.
func New(n int) Bitset {
	if n < 0 {
		n = 0
	}
	return Bitset{
		words: make([]atomic.Uint64, WordsFor(n)),
		n:     n,
	}
}

// Wrap creates a Bitset over caller-owned storage. words must hold at least
// WordsFor(n) words; they are used as-is (not cleared).
func Wrap(words []atomic.Uint64, n int) Bitset {
	if need := WordsFor(n); len(words) < need {
		panic("bitset: wrap storage too small")
	}
	return Bitset{words: words[:WordsFor(n)], n: n}
}

// Len returns the number of bits.
func (b *Bitset) Len() int {
	return b.n
}

// Test reports whether bit i is set. Out-of-range indexes report false.
func (b *Bitset) Test(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.words[i/wordBits].Load()&(1<<(uint(i)%wordBits)) != 0
}

// Set sets bit i. Out-of-range indexes are ignored.
func (b *Bitset) Set(i int) {
	if i < 0 || i >= b.n {
		return
	}
	b.words[i/wordBits].Or(1 << (uint(i) % wordBits))
}

// Clear clears bit i. Out-of-range indexes are ignored.
func (b *Bitset) Clear(i int) {
	if i < 0 || i >= b.n {
		return
	}
	b.words[i/wordBits].And(^uint64(1 << (uint(i) % wordBits)))
}

// NextClear returns the first clear bit at or after from.
// It does not wrap around; a second pass from zero is the caller's choice.
func (b *Bitset) NextClear(from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	if from >= b.n {
		return 0, false
	}

	w := from / wordBits
	// Treat bits below from as set so they are skipped.
	val := ^(b.words[w].Load() | (1<<(uint(from)%wordBits) - 1))
	for {
		if val != 0 {
			i := w*wordBits + bits.TrailingZeros64(val)
			if i >= b.n {
				return 0, false
			}
			return i, true
		}
		w++
		if w >= len(b.words) {
			return 0, false
		}
		val = ^b.words[w].Load()
	}
}

// NextSet returns the first set bit at or after from.
func (b *Bitset) NextSet(from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	if from >= b.n {
		return 0, false
	}

	w := from / wordBits
	val := b.words[w].Load() &^ (1<<(uint(from)%wordBits) - 1)
	for {
		if val != 0 {
			i := w*wordBits + bits.TrailingZeros64(val)
			if i >= b.n {
				return 0, false
			}
			return i, true
		}
		w++
		if w >= len(b.words) {
			return 0, false
		}
		val = b.words[w].Load()
	}
}

// GrowTo returns a new Bitset of max(n, Len()) bits containing a copy of
// the receiver's bits. The extension is zero. The receiver is not modified.
func (b *Bitset) GrowTo(n int) Bitset {
	if n < b.n {
		n = b.n
	}
	nb := New(n)
	nb.CopyFrom(b)
	return nb
}

// CopyFrom overwrites the low bits of b with src. src must not be longer
// than b. Bits of b beyond src.Len() are left as they are.
func (b *Bitset) CopyFrom(src *Bitset) {
	if src.n > b.n {
		panic("bitset: copy source longer than destination")
	}
	for i := range src.words {
		b.words[i].Store(src.words[i].Load())
	}
}

// Reset clears every bit.
func (b *Bitset) Reset() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	count := 0
	for i := range b.words {
		if val := b.words[i].Load(); val != 0 {
			count += bits.OnesCount64(val)
		}
	}
	return count
}

// Range calls fn for every set bit in ascending order until fn returns false.
func (b *Bitset) Range(fn func(i int) bool) {
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		if !fn(i) {
			return
		}
	}
}
