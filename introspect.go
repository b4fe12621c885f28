package fdtable

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
)

// Descriptor is one installed descriptor in a consistent snapshot.
type Descriptor struct {
	FD          int
	File        File
	CloseOnExec bool
}

// Stats is a point-in-time view of a table.
type Stats struct {
	Capacity       int   // slots in the current table
	InUse          int   // reserved or installed descriptors
	Installed      int   // descriptors holding a file
	CloseOnExec    int   // descriptors marked close-on-exec
	Refs           int64 // holders sharing the table
	Embedded       bool  // current table uses the embedded storage
	Growths        int64 // tables published by growth or detach
	PendingReclaim int   // superseded tables awaiting their grace period
	MemoryBytes    int64 // heap storage charged by the current table
}

// OpenSet returns the descriptors in use, reserved ones included.
//
// Capacities never exceed MaxCapacityLimit, so every descriptor converts
// to uint32 without loss here and in CloseOnExecSet.
func (t *Table) OpenSet() *roaring.Bitmap {
	g := t.domain.Enter()
	defer g.Exit()

	bm := roaring.New()
	t.current.Load().inUse.Range(func(fd int) bool {
		bm.Add(uint32(fd))
		return true
	})
	return bm
}

// CloseOnExecSet returns the descriptors marked close-on-exec.
func (t *Table) CloseOnExecSet() *roaring.Bitmap {
	g := t.domain.Enter()
	defer g.Exit()

	bm := roaring.New()
	t.current.Load().closeOnExec.Range(func(fd int) bool {
		bm.Add(uint32(fd))
		return true
	})
	return bm
}

// All iterates over installed descriptors in ascending order.
//
// The iteration reads one table version without locking; descriptors
// changed concurrently may or may not be reported. Files are borrowed as
// with Lookup.
func (t *Table) All() iter.Seq2[int, File] {
	return func(yield func(int, File) bool) {
		var batch []Descriptor

		g := t.domain.Enter()
		cur := t.current.Load()
		cur.inUse.Range(func(fd int) bool {
			if e := cur.slots[fd].Load(); e != nil {
				batch = append(batch, Descriptor{FD: fd, File: e.file})
			}
			return true
		})
		g.Exit()

		for _, d := range batch {
			if !yield(d.FD, d.File) {
				return
			}
		}
	}
}

// Descriptors returns a consistent snapshot of every installed descriptor
// in ascending order. It takes the table lock.
func (t *Table) Descriptors() []Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current.Load()
	var out []Descriptor
	cur.inUse.Range(func(fd int) bool {
		if e := cur.slots[fd].Load(); e != nil {
			out = append(out, Descriptor{
				FD:          fd,
				File:        e.file,
				CloseOnExec: cur.closeOnExec.Test(fd),
			})
		}
		return true
	})
	return out
}

// Stats returns a snapshot of the table's shape. It takes the table lock.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current.Load()
	installed := 0
	cur.inUse.Range(func(fd int) bool {
		if cur.slots[fd].Load() != nil {
			installed++
		}
		return true
	})
	return Stats{
		Capacity:       cur.capacity,
		InUse:          cur.inUse.Count(),
		Installed:      installed,
		CloseOnExec:    cur.closeOnExec.Count(),
		Refs:           t.refs.Load(),
		Embedded:       cur.kind == kindEmbedded,
		Growths:        t.growths.Load(),
		PendingReclaim: t.reclaim.Len(),
		MemoryBytes:    cur.charged,
	}
}
