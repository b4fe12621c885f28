package epoch

import "sync"

type retired[T any] struct {
	item  T
	epoch uint64
}

// Queue defers freeing retired values until their grace period has passed.
type Queue[T any] struct {
	mu      sync.Mutex
	d       *Domain
	free    func(T)
	entries []retired[T]
}

// NewQueue creates a reclaim queue bound to d. free is called exactly once
// per retired value, after no reader can still reference it.
func NewQueue[T any](d *Domain, free func(T)) *Queue[T] {
	return &Queue[T]{d: d, free: free}
}

// Retire enqueues item, tagged with the current epoch, and frees whatever
// has already expired. It never waits for readers.
// It returns the number of values freed by this call.
func (q *Queue[T]) Retire(item T) int {
	q.mu.Lock()
	q.entries = append(q.entries, retired[T]{item: item, epoch: q.d.Epoch()})
	q.mu.Unlock()
	return q.Collect()
}

// Collect advances the domain where possible and frees expired entries.
// It returns the number of values freed.
func (q *Queue[T]) Collect() int {
	q.mu.Lock()
	if len(q.entries) == 0 {
		q.mu.Unlock()
		return 0
	}
	// Two attempts: the oldest entry needs at most two advances.
	for i := 0; i < 2 && !q.d.Safe(q.entries[0].epoch); i++ {
		if !q.d.TryAdvance() {
			break
		}
	}

	n := 0
	for n < len(q.entries) && q.d.Safe(q.entries[n].epoch) {
		n++
	}
	expired := make([]T, n)
	for i := 0; i < n; i++ {
		expired[i] = q.entries[i].item
	}
	q.entries = append(q.entries[:0], q.entries[n:]...)
	q.mu.Unlock()

	for _, item := range expired {
		q.free(item)
	}
	return n
}

// Flush waits out the grace period of every pending entry and frees them.
// It returns the number of values freed.
func (q *Queue[T]) Flush() int {
	q.mu.Lock()
	pending := len(q.entries)
	q.mu.Unlock()
	if pending == 0 {
		return 0
	}
	q.d.Synchronize()
	return q.Collect()
}

// Len returns the number of entries awaiting reclamation.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
