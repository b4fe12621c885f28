package fdtable

import (
	"errors"
	"time"
)

// Allocate reserves the lowest free descriptor and returns it.
//
// The descriptor is in use but holds no file until Install. Lookup reports
// it as not open. The table grows if every slot is in use; growth fails with
// ErrLimitReached or ErrResourceExhausted and leaves the table unchanged.
func (t *Table) Allocate() (int, error) {
	return t.allocate("allocate", 0)
}

// AllocateFrom reserves the lowest free descriptor not below lowest, like
// F_DUPFD.
func (t *Table) AllocateFrom(lowest int) (int, error) {
	if lowest < 0 || lowest >= t.opts.maxCapacity {
		return -1, fdErr("allocate_from", lowest, ErrOutOfRange)
	}
	return t.allocate("allocate_from", lowest)
}

func (t *Table) allocate(op string, lowest int) (int, error) {
	start := time.Now()

	t.mu.Lock()
	fd, err := t.allocateLocked(lowest)
	t.mu.Unlock()

	t.collect()
	if err != nil {
		err = fdErr(op, lowest, err)
	}
	t.opts.metricsCollector.RecordAllocate(time.Since(start), err)
	return fd, err
}

func (t *Table) allocateLocked(lowest int) (int, error) {
	if t.closed {
		return -1, ErrClosed
	}
	from := max(lowest, t.next)
	for {
		cur := t.current.Load()
		if fd, ok := cur.inUse.NextClear(from); ok {
			cur.inUse.Set(fd)
			cur.closeOnExec.Clear(fd)
			if lowest <= t.next {
				t.next = fd + 1
			}
			cur.checkInvariants(t.opts.embeddedCapacity)
			return fd, nil
		}
		if err := t.growLocked(max(from, cur.capacity) + 1); err != nil {
			return -1, err
		}
	}
}

// growLocked replaces the current table with one holding at least need
// slots. The superseded table is retired, never freed in place.
func (t *Table) growLocked(need int) error {
	old := t.current.Load()
	if need <= old.capacity {
		return nil
	}

	to := max(old.capacity*GrowthFactor, t.opts.minCapacity, ceilPow2(need))
	if to > t.opts.maxCapacity {
		if need > t.opts.maxCapacity || old.capacity >= t.opts.maxCapacity {
			return t.growFailed(&GrowError{From: old.capacity, To: to, Err: ErrLimitReached})
		}
		to = t.opts.maxCapacity
	}

	charge := tableBytes(to)
	if err := t.opts.controller.AcquireMemory(charge); err != nil {
		return t.growFailed(&GrowError{From: old.capacity, To: to, Err: ErrResourceExhausted, cause: err})
	}

	nt := growFrom(old, to, charge)
	nt.checkInvariants(t.opts.embeddedCapacity)
	t.current.Store(nt)
	t.growths.Add(1)

	t.opts.metricsCollector.RecordGrow(old.capacity, to, nil)
	t.log.LogGrow(old.capacity, to, nil)

	if n := t.reclaim.Retire(old); n > 0 {
		t.reclaimed(n)
	}
	return nil
}

func (t *Table) growFailed(err *GrowError) error {
	t.opts.metricsCollector.RecordGrow(err.From, err.To, err)
	if errors.Is(err, ErrLimitReached) {
		t.limitLog.Do(func() { t.log.LogGrow(err.From, err.To, err) })
	} else {
		t.log.LogGrow(err.From, err.To, err)
	}
	return err
}

// Install stores f at a descriptor previously reserved by Allocate.
//
// The table takes ownership of the caller's reference to f. Installing on
// a free descriptor fails with ErrNotOpen, and on an occupied one with
// ErrBusy; in both cases the reference stays with the caller.
func (t *Table) Install(fd int, f File) error {
	if f == nil {
		panic("fdtable: Install of nil File")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fdErr("install", fd, ErrClosed)
	}
	cur := t.current.Load()
	if fd < 0 || fd >= cur.capacity {
		return fdErr("install", fd, ErrOutOfRange)
	}
	if !cur.inUse.Test(fd) {
		return fdErr("install", fd, ErrNotOpen)
	}
	if !cur.slots[fd].CompareAndSwap(nil, &entry{file: f}) {
		return fdErr("install", fd, ErrBusy)
	}
	cur.checkInvariants(t.opts.embeddedCapacity)
	return nil
}

// InstallAt stores f at fd whether or not fd is in use, like dup2.
//
// A file already installed at fd is replaced and its reference dropped.
// A descriptor reserved by Allocate but not yet installed is left alone and
// ErrBusy is returned. The table grows as needed up to its maximum
// capacity. The table takes ownership of the caller's reference to f on
// success.
func (t *Table) InstallAt(fd int, f File, closeOnExec bool) error {
	if f == nil {
		panic("fdtable: InstallAt of nil File")
	}

	t.mu.Lock()
	old, err := t.installAtLocked(fd, f, closeOnExec)
	t.mu.Unlock()

	t.collect()
	if err != nil {
		return fdErr("install_at", fd, err)
	}
	if old != nil {
		old.DecRef()
	}
	return nil
}

func (t *Table) installAtLocked(fd int, f File, closeOnExec bool) (File, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if fd < 0 || fd >= t.opts.maxCapacity {
		return nil, ErrOutOfRange
	}
	if err := t.growLocked(fd + 1); err != nil {
		return nil, err
	}

	cur := t.current.Load()
	if cur.inUse.Test(fd) && cur.slots[fd].Load() == nil {
		return nil, ErrBusy
	}
	prev := cur.slots[fd].Swap(&entry{file: f})
	cur.inUse.Set(fd)
	if closeOnExec {
		cur.closeOnExec.Set(fd)
	} else {
		cur.closeOnExec.Clear(fd)
	}
	cur.checkInvariants(t.opts.embeddedCapacity)
	if prev == nil {
		return nil, nil
	}
	return prev.file, nil
}

// Release frees fd and drops the table's reference to its file.
//
// A descriptor that was reserved but never installed is simply freed.
// The file's DecRef runs after the table lock is released.
func (t *Table) Release(fd int) error {
	t.mu.Lock()
	f, err := t.releaseLocked(fd)
	t.mu.Unlock()

	if err != nil {
		err = fdErr("release", fd, err)
	}
	t.opts.metricsCollector.RecordRelease(err)
	if f != nil {
		f.DecRef()
	}
	return err
}

func (t *Table) releaseLocked(fd int) (File, error) {
	if t.closed {
		return nil, ErrClosed
	}
	cur := t.current.Load()
	if fd < 0 || fd >= cur.capacity {
		return nil, ErrOutOfRange
	}
	if !cur.inUse.Test(fd) {
		return nil, ErrNotOpen
	}
	f := cur.clear(fd)
	if fd < t.next {
		t.next = fd
	}
	cur.checkInvariants(t.opts.embeddedCapacity)
	return f, nil
}

// SetCloseOnExec sets or clears the close-on-exec flag of an in-use
// descriptor.
func (t *Table) SetCloseOnExec(fd int, on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fdErr("set_close_on_exec", fd, ErrClosed)
	}
	cur := t.current.Load()
	if fd < 0 || fd >= cur.capacity {
		return fdErr("set_close_on_exec", fd, ErrOutOfRange)
	}
	if !cur.inUse.Test(fd) {
		return fdErr("set_close_on_exec", fd, ErrNotOpen)
	}
	if on {
		cur.closeOnExec.Set(fd)
	} else {
		cur.closeOnExec.Clear(fd)
	}
	cur.checkInvariants(t.opts.embeddedCapacity)
	return nil
}

// ExecTransition releases every descriptor marked close-on-exec and
// returns how many were released. Other descriptors are untouched.
func (t *Table) ExecTransition() int {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	cur := t.current.Load()
	var (
		files    []File
		released int
	)
	cur.closeOnExec.Range(func(fd int) bool {
		if f := cur.clear(fd); f != nil {
			files = append(files, f)
		}
		if fd < t.next {
			t.next = fd
		}
		released++
		return true
	})
	cur.checkInvariants(t.opts.embeddedCapacity)
	t.mu.Unlock()

	for _, f := range files {
		f.DecRef()
	}
	t.opts.metricsCollector.RecordExec(released)
	t.log.LogExec(released)
	return released
}
