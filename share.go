package fdtable

import "fmt"

// Duplicate adds a holder to the table and returns the same table, like a
// thread sharing its parent's descriptors. It fails with ErrClosed once the
// last reference is gone.
func (t *Table) Duplicate() (*Table, error) {
	for {
		r := t.refs.Load()
		if r <= 0 {
			return nil, ErrClosed
		}
		if t.refs.CompareAndSwap(r, r+1) {
			return t, nil
		}
	}
}

// Detach returns an independent copy of the table with a reference count
// of one, like a forked process.
//
// Every installed descriptor is copied with its close-on-exec flag and its
// file gains a reference. Descriptors that are only reserved are not
// copied. The copy uses the source's options and has the same capacity.
func (t *Table) Detach() (*Table, error) {
	nt := newTable(t.opts)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	src := t.current.Load()

	dst := nt.current.Load()
	if src.capacity > dst.capacity {
		charge := tableBytes(src.capacity)
		if err := t.opts.controller.AcquireMemory(charge); err != nil {
			t.mu.Unlock()
			err = fmt.Errorf("fdtable: detach %d slots: %w: %w", src.capacity, ErrResourceExhausted, err)
			t.log.LogDetach(0, err)
			return nil, err
		}
		dst = newAllocated(src.capacity, charge)
	}

	copied := 0
	src.inUse.Range(func(fd int) bool {
		e := src.slots[fd].Load()
		if e == nil {
			return true
		}
		e.file.IncRef()
		dst.slots[fd].Store(e)
		dst.inUse.Set(fd)
		if src.closeOnExec.Test(fd) {
			dst.closeOnExec.Set(fd)
		}
		copied++
		return true
	})
	t.mu.Unlock()

	if dst != &nt.embeddedTab {
		nt.current.Store(dst)
		nt.growths.Add(1)
	}
	dst.checkInvariants(nt.opts.embeddedCapacity)
	t.log.LogDetach(copied, nil)
	return nt, nil
}

// Drop releases one holder's reference. The holder must not use the table
// afterwards.
//
// Dropping the last reference releases every installed file, waits for
// in-flight lookups to finish and returns all heap storage. Later calls on
// the table fail with ErrClosed.
func (t *Table) Drop() error {
	for {
		r := t.refs.Load()
		if r <= 0 {
			return ErrClosed
		}
		if t.refs.CompareAndSwap(r, r-1) {
			if r > 1 {
				return nil
			}
			break
		}
	}

	t.mu.Lock()
	t.closed = true
	cur := t.current.Load()
	files := cur.destroy()
	if cur != &t.embeddedTab {
		// Stray lookups after Drop must not reach pooled storage. The
		// embedded copy may still hold entries from before the first growth.
		t.embeddedTab.reset()
		t.current.Store(&t.embeddedTab)
	}
	t.mu.Unlock()

	for _, f := range files {
		f.DecRef()
	}

	reclaimed := t.reclaim.Retire(cur)
	reclaimed += t.reclaim.Flush()
	if reclaimed > 0 {
		t.opts.metricsCollector.RecordReclaim(reclaimed)
	}
	t.log.LogDrop(len(files), reclaimed)
	return nil
}
