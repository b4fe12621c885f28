package fdtable

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Lookup and Get are not instrumented.
type MetricsCollector interface {
	// RecordAllocate is called after each Allocate/AllocateFrom.
	// duration includes any growth the call triggered.
	RecordAllocate(duration time.Duration, err error)

	// RecordRelease is called after each Release.
	RecordRelease(err error)

	// RecordGrow is called after each growth attempt.
	RecordGrow(from, to int, err error)

	// RecordExec is called after each ExecTransition with the number of
	// descriptors it released.
	RecordExec(released int)

	// RecordReclaim is called when superseded tables are freed.
	RecordReclaim(freed int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAllocate(time.Duration, error) {}
func (NoopMetricsCollector) RecordRelease(error)                 {}
func (NoopMetricsCollector) RecordGrow(int, int, error)          {}
func (NoopMetricsCollector) RecordExec(int)                      {}
func (NoopMetricsCollector) RecordReclaim(int)                   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocateCount      atomic.Int64
	AllocateErrors     atomic.Int64
	AllocateTotalNanos atomic.Int64
	ReleaseCount       atomic.Int64
	ReleaseErrors      atomic.Int64
	GrowCount          atomic.Int64
	GrowErrors         atomic.Int64
	MaxCapacity        atomic.Int64
	ExecCount          atomic.Int64
	ExecReleased       atomic.Int64
	ReclaimedTables    atomic.Int64
}

// RecordAllocate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAllocate(duration time.Duration, err error) {
	b.AllocateCount.Add(1)
	b.AllocateTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AllocateErrors.Add(1)
	}
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(err error) {
	b.ReleaseCount.Add(1)
	if err != nil {
		b.ReleaseErrors.Add(1)
	}
}

// RecordGrow implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGrow(_, to int, err error) {
	if err != nil {
		b.GrowErrors.Add(1)
		return
	}
	b.GrowCount.Add(1)
	for {
		cur := b.MaxCapacity.Load()
		if int64(to) <= cur || b.MaxCapacity.CompareAndSwap(cur, int64(to)) {
			return
		}
	}
}

// RecordExec implements MetricsCollector.
func (b *BasicMetricsCollector) RecordExec(released int) {
	b.ExecCount.Add(1)
	b.ExecReleased.Add(int64(released))
}

// RecordReclaim implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReclaim(freed int) {
	b.ReclaimedTables.Add(int64(freed))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AllocateCount:    b.AllocateCount.Load(),
		AllocateErrors:   b.AllocateErrors.Load(),
		AllocateAvgNanos: b.getAvgAllocateNanos(),
		ReleaseCount:     b.ReleaseCount.Load(),
		ReleaseErrors:    b.ReleaseErrors.Load(),
		GrowCount:        b.GrowCount.Load(),
		GrowErrors:       b.GrowErrors.Load(),
		MaxCapacity:      b.MaxCapacity.Load(),
		ExecCount:        b.ExecCount.Load(),
		ExecReleased:     b.ExecReleased.Load(),
		ReclaimedTables:  b.ReclaimedTables.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgAllocateNanos() int64 {
	count := b.AllocateCount.Load()
	if count == 0 {
		return 0
	}
	return b.AllocateTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AllocateCount    int64
	AllocateErrors   int64
	AllocateAvgNanos int64
	ReleaseCount     int64
	ReleaseErrors    int64
	GrowCount        int64
	GrowErrors       int64
	MaxCapacity      int64
	ExecCount        int64
	ExecReleased     int64
	ReclaimedTables  int64
}
