// Package fdtable provides a concurrent file-descriptor table.
//
// A Table maps small, dense integer descriptors to reference-counted open
// files for one execution context (a process, or a group of threads sharing
// a descriptor space). Lookups are lock-free and never block; mutations are
// serialized by a per-table write lock and never wait for readers.
//
// # Quick Start
//
//	t, _ := fdtable.New()
//	defer t.Drop()
//
//	fd, err := t.Allocate()          // reserve the lowest free descriptor
//	if err != nil {
//	    return err
//	}
//	f, err := openSomething()        // may fail after the number is reserved
//	if err != nil {
//	    t.Release(fd)                // roll the reservation back
//	    return err
//	}
//	t.Install(fd, f)                 // the table now owns f's reference
//
//	if f, ok := t.Lookup(fd); ok {   // lock-free, borrowed reference
//	    use(f)
//	}
//
// # Files
//
// The table does not interpret what a descriptor refers to. Anything that
// implements File (IncRef/DecRef) can be installed. The table drops exactly
// one reference for every slot it clears: on Release, on ExecTransition for
// close-on-exec descriptors, when InstallAt replaces a file, and when the
// last Drop tears the table down.
//
// # Allocation Order
//
// Allocate always returns the lowest descriptor that is not in use.
// Releasing descriptor 5 and allocating again yields 5.
//
// # Growth
//
// A new Table keeps up to EmbeddedSize descriptors in storage embedded in
// the Table itself. Past that, storage is heap allocated and doubles on
// demand up to the configured maximum (WithMaxCapacity). Growth publishes
// a new version of the table atomically; the previous version stays
// readable until every lookup that could have seen it has finished, and is
// then recycled.
//
// # Sharing
//
//	shared, _ := t.Duplicate()  // same descriptor space, refcount+1
//	child, _ := t.Detach()      // independent copy, files IncRef'd
//	_ = t.ExecTransition()      // close all close-on-exec descriptors
//
// Every reference obtained from New, Duplicate, or Detach must be paired
// with one Drop.
//
// # Errors
//
// All errors are recoverable. Per-descriptor failures are *FDError values
// wrapping one of ErrOutOfRange, ErrNotOpen, ErrBusy; allocation failures
// wrap ErrLimitReached or ErrResourceExhausted. Use errors.Is.
package fdtable
