package fdtable

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/hupe1980/fdtable/internal/bitset"
	"github.com/hupe1980/fdtable/internal/pool"
)

// tableKind tags where a descTable's storage lives.
type tableKind uint8

const (
	// kindEmbedded storage is part of the owning Table.
	kindEmbedded tableKind = iota
	// kindAllocated storage comes from the storage pool and is charged
	// against the memory budget.
	kindAllocated
)

func (k tableKind) String() string {
	switch k {
	case kindEmbedded:
		return "embedded"
	case kindAllocated:
		return "allocated"
	default:
		return fmt.Sprintf("tableKind(%d)", uint8(k))
	}
}

// storagePool recycles allocated table storage across all tables. Storage
// only enters it from a table's reclaim queue.
var storagePool = pool.New[entry]()

// embeddedStorage is the inline backing of the small-table fast path.
// EmbeddedSize bits always fit in one word.
type embeddedStorage struct {
	slots       [EmbeddedSize]atomic.Pointer[entry]
	inUse       [1]atomic.Uint64
	closeOnExec [1]atomic.Uint64
}

// descTable is one published version of a descriptor space.
//
// Once a descTable stops being current it is never mutated again until its
// grace period ends and the reclaim queue frees it.
type descTable struct {
	kind        tableKind
	capacity    int
	slots       []atomic.Pointer[entry]
	inUse       bitset.Bitset
	closeOnExec bitset.Bitset

	storage *pool.Storage[entry] // kindAllocated only
	charged int64
}

func newEmbedded(st *embeddedStorage, capacity int) descTable {
	return descTable{
		kind:        kindEmbedded,
		capacity:    capacity,
		slots:       st.slots[:capacity],
		inUse:       bitset.Wrap(st.inUse[:], capacity),
		closeOnExec: bitset.Wrap(st.closeOnExec[:], capacity),
	}
}

func newAllocated(capacity int, charged int64) *descTable {
	st := storagePool.Get(capacity)
	return &descTable{
		kind:        kindAllocated,
		capacity:    capacity,
		slots:       st.Slots,
		inUse:       st.InUse,
		closeOnExec: st.CloseOnExec,
		storage:     st,
		charged:     charged,
	}
}

// growFrom builds a larger copy of old. old is not modified.
func growFrom(old *descTable, capacity int, charged int64) *descTable {
	if capacity <= old.capacity || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("fdtable: invalid growth %d -> %d", old.capacity, capacity))
	}
	nt := newAllocated(capacity, charged)
	for i := 0; i < old.capacity; i++ {
		if e := old.slots[i].Load(); e != nil {
			nt.slots[i].Store(e)
		}
	}
	nt.inUse.CopyFrom(&old.inUse)
	nt.closeOnExec.CopyFrom(&old.closeOnExec)
	return nt
}

// tableBytes is the storage charge of an allocated table.
func tableBytes(capacity int) int64 {
	slot := int64(unsafe.Sizeof(atomic.Pointer[entry]{}))
	words := int64(bitset.WordsFor(capacity))
	return int64(capacity)*slot + 2*words*8
}

// lookup returns the entry at fd, or nil if fd is out of range, free, or
// only reserved.
func (d *descTable) lookup(fd int) *entry {
	if fd < 0 || fd >= d.capacity {
		return nil
	}
	if !d.inUse.Test(fd) {
		return nil
	}
	return d.slots[fd].Load()
}

// clear empties fd and returns the file it held, if any.
// The slot is cleared before the bits so a reader that still sees the bit
// set finds an empty slot rather than a stale one.
func (d *descTable) clear(fd int) File {
	e := d.slots[fd].Swap(nil)
	d.closeOnExec.Clear(fd)
	d.inUse.Clear(fd)
	if e == nil {
		return nil
	}
	return e.file
}

// destroy empties the table and returns every installed file, once each.
func (d *descTable) destroy() []File {
	var files []File
	d.inUse.Range(func(fd int) bool {
		if f := d.clear(fd); f != nil {
			files = append(files, f)
		}
		return true
	})
	return files
}

// reset wipes all slots and bits, reserved descriptors included.
func (d *descTable) reset() {
	for i := range d.slots {
		d.slots[i].Store(nil)
	}
	d.inUse.Reset()
	d.closeOnExec.Reset()
}

// checkInvariants panics on a write-path bug. Compiled out unless built
// with the fdtable_debug tag.
func (d *descTable) checkInvariants(embeddedCapacity int) {
	if !debugChecks {
		return
	}
	if d.inUse.Len() != d.capacity || d.closeOnExec.Len() != d.capacity || len(d.slots) != d.capacity {
		panic(fmt.Sprintf("fdtable: %s table of capacity %d has mismatched storage", d.kind, d.capacity))
	}
	if d.kind == kindAllocated && d.capacity <= embeddedCapacity {
		panic(fmt.Sprintf("fdtable: allocated table of capacity %d does not exceed embedded capacity %d", d.capacity, embeddedCapacity))
	}
	for fd := 0; fd < d.capacity; fd++ {
		if d.closeOnExec.Test(fd) && !d.inUse.Test(fd) {
			panic(fmt.Sprintf("fdtable: close-on-exec set on free descriptor %d", fd))
		}
		if d.slots[fd].Load() != nil && !d.inUse.Test(fd) {
			panic(fmt.Sprintf("fdtable: descriptor %d holds a file but is not in use", fd))
		}
	}
}
