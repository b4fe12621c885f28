// Package bitset provides the dense, growable bitset used for descriptor
// bookkeeping.
//
// Words are atomic.Uint64 so a single writer (holding the owning table's
// write lock) can set and clear bits while any number of readers test them
// without locks. A Bitset never shrinks; GrowTo returns a new Bitset with a
// fresh backing array and leaves the receiver untouched, which is what lets
// a superseded descriptor table stay readable until it is reclaimed.
package bitset
