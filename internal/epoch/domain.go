package epoch

import (
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"
)

// DefaultStripes is the reader stripe count used when none is configured.
const DefaultStripes = 16

// stripe holds the reader counts for both epoch parities.
type stripe struct {
	_      cpu.CacheLinePad
	active [2]atomic.Int64
	_      cpu.CacheLinePad
}

// Domain is an epoch-based reader registry.
type Domain struct {
	mu      sync.Mutex // serializes advances
	epoch   atomic.Uint64
	stripes []stripe
	mask    uint32
}

// Guard is an active reader registration returned by Enter.
type Guard struct {
	s      *stripe
	parity uint64
}

// NewDomain creates a Domain with the given number of reader stripes,
// rounded up to a power of two. Values below 1 select DefaultStripes.
func NewDomain(stripes int) *Domain {
	if stripes < 1 {
		stripes = DefaultStripes
	}
	n := 1
	for n < stripes {
		n <<= 1
	}
	return &Domain{
		stripes: make([]stripe, n),
		mask:    uint32(n - 1),
	}
}

// Epoch returns the current global epoch.
func (d *Domain) Epoch() uint64 {
	return d.epoch.Load()
}

// Enter registers a reader in the current epoch.
// It never blocks and never allocates.
func (d *Domain) Enter() Guard {
	s := &d.stripes[rand.Uint32()&d.mask]
	for {
		e := d.epoch.Load()
		p := e & 1
		s.active[p].Add(1)
		// An advance between the load and the increment would leave us
		// counted under a parity the advancer may already have drained.
		if d.epoch.Load() == e {
			return Guard{s: s, parity: p}
		}
		s.active[p].Add(-1)
	}
}

// Exit ends the reader registration.
func (g Guard) Exit() {
	g.s.active[g.parity].Add(-1)
}

// TryAdvance moves the epoch forward by one if no reader is registered in
// the previous epoch. It reports whether the epoch advanced.
func (d *Domain) TryAdvance() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tryAdvanceLocked()
}

func (d *Domain) tryAdvanceLocked() bool {
	e := d.epoch.Load()
	// Readers of epoch e-1 share the parity of e+1.
	prev := (e + 1) & 1
	for i := range d.stripes {
		if d.stripes[i].active[prev].Load() != 0 {
			return false
		}
	}
	d.epoch.Store(e + 1)
	return true
}

// Active returns the number of registered readers across both parities.
// The value is a racy snapshot intended for introspection.
func (d *Domain) Active() int64 {
	var n int64
	for i := range d.stripes {
		n += d.stripes[i].active[0].Load() + d.stripes[i].active[1].Load()
	}
	return n
}

// Synchronize blocks until every reader that was active when it was called
// has exited. It is bounded by the longest such reader.
func (d *Domain) Synchronize() {
	target := d.Epoch() + 2
	for spins := 0; d.Epoch() < target; spins++ {
		if d.TryAdvance() {
			continue
		}
		if spins < 64 {
			runtime.Gosched()
			continue
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// Safe reports whether a value retired at epoch retired can no longer be
// referenced by any reader.
func (d *Domain) Safe(retired uint64) bool {
	return d.Epoch() >= retired+2
}
