// Package resource implements the memory budget for descriptor table storage.
//
// Every heap-allocated descriptor table charges its slot array and bitsets
// against a Controller before it is published. The charge is returned when
// the table is reclaimed (after its grace period) or destroyed. A refused
// charge surfaces to the caller of Allocate as a resource-exhausted error
// and leaves the table on its previous storage.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 20,
//	})
//
//	if err := rc.AcquireMemory(size); err != nil {
//	    // ErrMemoryLimitExceeded - growth is refused
//	}
//	defer rc.ReleaseMemory(size)
//
// # Thread Safety
//
// All Controller methods are safe for concurrent use.
//
// # Nil Safety
//
// All methods handle nil Controller gracefully - they become no-ops.
// This allows optional limits without nil checks everywhere.
package resource
