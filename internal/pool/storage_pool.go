// Package pool recycles descriptor table storage.
// Uses sync.Pool per power-of-two capacity class so a table that outgrows
// its storage can hand the old arrays to the next table of that size.
//
// Storage must only be returned once no reader can still reference it;
// the descriptor table feeds this pool exclusively from its reclaim queue.
package pool

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/fdtable/internal/bitset"
)

// maxClass bounds the capacity classes (2^0 .. 2^(maxClass-1)).
const maxClass = 32

// Storage is the backing store of one allocated descriptor table.
type Storage[T any] struct {
	Slots       []atomic.Pointer[T]
	InUse       bitset.Bitset
	CloseOnExec bitset.Bitset
}

// Capacity returns the number of slots.
func (s *Storage[T]) Capacity() int {
	return len(s.Slots)
}

// Reset clears every slot and bit.
func (s *Storage[T]) Reset() {
	for i := range s.Slots {
		s.Slots[i].Store(nil)
	}
	s.InUse.Reset()
	s.CloseOnExec.Reset()
}

// Pool hands out zeroed Storage of power-of-two capacities.
type Pool[T any] struct {
	classes [maxClass]sync.Pool
	reused  atomic.Int64
	created atomic.Int64
}

// New creates an empty storage pool.
func New[T any]() *Pool[T] {
	return &Pool[T]{}
}

func class(capacity int) (int, bool) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return 0, false
	}
	c := bits.TrailingZeros(uint(capacity))
	return c, c < maxClass
}

// Get returns zeroed storage with exactly capacity slots.
func (p *Pool[T]) Get(capacity int) *Storage[T] {
	if c, ok := class(capacity); ok {
		if s, _ := p.classes[c].Get().(*Storage[T]); s != nil {
			p.reused.Add(1)
			return s
		}
	}
	p.created.Add(1)
	return &Storage[T]{
		Slots:       make([]atomic.Pointer[T], capacity),
		InUse:       bitset.New(capacity),
		CloseOnExec: bitset.New(capacity),
	}
}

// Put clears s and makes it available to later Get calls of the same
// capacity. Storage of a non-power-of-two capacity is dropped.
func (p *Pool[T]) Put(s *Storage[T]) {
	if s == nil {
		return
	}
	c, ok := class(s.Capacity())
	if !ok {
		return
	}
	s.Reset()
	p.classes[c].Put(s)
}

// Stats reports how many Get calls were served from recycled storage.
type Stats struct {
	Reused  int64
	Created int64
}

// Stats returns a snapshot of pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Reused:  p.reused.Load(),
		Created: p.created.Load(),
	}
}
