package testutil

import "github.com/bits-and-blooms/bitset"

// Model tracks which descriptors are in use with a plain bitset and picks
// the lowest free one, with no growth or capacity limits.
type Model struct {
	used *bitset.BitSet
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{used: bitset.New(0)}
}

// Allocate marks and returns the lowest free descriptor.
func (m *Model) Allocate() int {
	return m.AllocateFrom(0)
}

// AllocateFrom marks and returns the lowest free descriptor not below lowest.
func (m *Model) AllocateFrom(lowest int) int {
	fd := uint(lowest)
	if next, ok := m.used.NextClear(fd); ok {
		fd = next
	} else {
		fd = max(fd, m.used.Len())
	}
	m.used.Set(fd)
	return int(fd)
}

// Set marks fd in use, as InstallAt does.
func (m *Model) Set(fd int) {
	m.used.Set(uint(fd))
}

// Release frees fd and reports whether it was in use.
func (m *Model) Release(fd int) bool {
	if !m.used.Test(uint(fd)) {
		return false
	}
	m.used.Clear(uint(fd))
	return true
}

// InUse reports whether fd is in use.
func (m *Model) InUse(fd int) bool {
	return m.used.Test(uint(fd))
}

// Len returns the number of descriptors in use.
func (m *Model) Len() int {
	return int(m.used.Count())
}

// Used returns the in-use descriptors in ascending order.
func (m *Model) Used() []int {
	out := make([]int, 0, m.used.Count())
	for i, ok := m.used.NextSet(0); ok; i, ok = m.used.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}
