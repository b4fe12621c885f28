package fdtable

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/fdtable/internal/epoch"
)

var tableIDs atomic.Uint64

// Table is a growable, shareable descriptor table.
//
// Lookups are lock-free and never block on writers. Every mutation is
// serialized by a per-table mutex. A Table is shared by Duplicate and
// destroyed by the Drop that releases its last reference.
//
// A Table must not be copied.
type Table struct {
	id   uint64
	refs atomic.Int64

	mu      sync.Mutex
	current atomic.Pointer[descTable]
	next    int  // guarded by mu; every descriptor below it is in use
	closed  bool // guarded by mu

	embedded    embeddedStorage
	embeddedTab descTable

	domain  *epoch.Domain
	reclaim *epoch.Queue[*descTable]

	growths  atomic.Int64
	limitLog rate.Sometimes

	opts options
	log  *Logger
}

// New creates an empty table with a reference count of one.
//
// The table starts on its embedded storage; no heap storage is allocated
// until the embedded capacity is exhausted.
func New(optFns ...Option) (*Table, error) {
	o := applyOptions(optFns)
	if o.maxCapacity < o.embeddedCapacity {
		return nil, fmt.Errorf("fdtable: max capacity %d below embedded capacity %d", o.maxCapacity, o.embeddedCapacity)
	}
	t := newTable(o)
	t.log.Debug("descriptor table created",
		"embedded", o.embeddedCapacity,
		"max", o.maxCapacity,
	)
	return t, nil
}

func newTable(o options) *Table {
	t := &Table{
		id:       tableIDs.Add(1),
		opts:     o,
		limitLog: rate.Sometimes{Interval: time.Second},
	}
	t.refs.Store(1)
	t.log = o.logger.WithTable(t.id)
	t.domain = epoch.NewDomain(o.readerStripes)
	t.reclaim = epoch.NewQueue(t.domain, t.free)
	t.embeddedTab = newEmbedded(&t.embedded, o.embeddedCapacity)
	t.current.Store(&t.embeddedTab)
	return t
}

// free runs once a superseded table can no longer be observed by a reader.
func (t *Table) free(d *descTable) {
	switch d.kind {
	case kindEmbedded:
		// Drops the file pointers so the embedded copy does not pin them.
		d.reset()
	case kindAllocated:
		storagePool.Put(d.storage)
		t.opts.controller.ReleaseMemory(d.charged)
		d.storage = nil
	}
}

// Lookup returns the file installed at fd without taking a reference.
//
// The result is a borrowed capability: it stays valid only while the
// caller otherwise keeps the descriptor open. Use Get to take a reference.
// Lookup never blocks and never allocates.
func (t *Table) Lookup(fd int) (File, bool) {
	g := t.domain.Enter()
	e := t.current.Load().lookup(fd)
	g.Exit()
	if e == nil {
		return nil, false
	}
	return e.file, true
}

// Get returns the file installed at fd with a new reference that the
// caller must drop with DecRef.
//
// Files implementing TryRef are not resurrected: if a concurrent Release
// has just dropped the last reference, Get reports the descriptor as not
// open.
func (t *Table) Get(fd int) (File, bool) {
	g := t.domain.Enter()
	defer g.Exit()

	for {
		cur := t.current.Load()
		e := cur.lookup(fd)
		if e == nil {
			return nil, false
		}
		tr, ok := e.file.(TryRef)
		if !ok {
			e.file.IncRef()
			return e.file, true
		}
		if tr.TryIncRef() {
			return e.file, true
		}
		// A releasing writer empties the slot before dropping its
		// reference, so an unchanged slot means the file is really gone.
		if t.current.Load() == cur && cur.lookup(fd) == e {
			return nil, false
		}
	}
}

// CloseOnExec reports whether fd is marked close-on-exec.
func (t *Table) CloseOnExec(fd int) (bool, error) {
	g := t.domain.Enter()
	defer g.Exit()

	cur := t.current.Load()
	if fd < 0 || fd >= cur.capacity {
		return false, fdErr("close_on_exec", fd, ErrOutOfRange)
	}
	if !cur.inUse.Test(fd) {
		return false, fdErr("close_on_exec", fd, ErrNotOpen)
	}
	return cur.closeOnExec.Test(fd), nil
}

// Refs returns the number of holders sharing the table.
func (t *Table) Refs() int64 {
	return t.refs.Load()
}

// Capacity returns the number of descriptor slots in the current table.
func (t *Table) Capacity() int {
	return t.current.Load().capacity
}

// Len returns the number of descriptors in use, reserved ones included.
func (t *Table) Len() int {
	g := t.domain.Enter()
	defer g.Exit()
	return t.current.Load().inUse.Count()
}

// collect frees superseded tables whose grace period has passed.
func (t *Table) collect() {
	if n := t.reclaim.Collect(); n > 0 {
		t.reclaimed(n)
	}
}

func (t *Table) reclaimed(n int) {
	t.opts.metricsCollector.RecordReclaim(n)
	t.log.LogReclaim(n, t.reclaim.Len())
}
