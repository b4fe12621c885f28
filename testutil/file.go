package testutil

import (
	"fmt"
	"sync/atomic"
)

// File is a reference-counted fake that satisfies fdtable.File and
// fdtable.TryRef.
type File struct {
	name   string
	refs   atomic.Int64
	closed atomic.Int64
	onZero func(*File)
}

// NewFile returns a file holding one reference.
func NewFile(name string) *File {
	f := &File{name: name}
	f.refs.Store(1)
	return f
}

// OnClose registers fn to run when the last reference is dropped.
func (f *File) OnClose(fn func(*File)) *File {
	f.onZero = fn
	return f
}

// Name returns the name given to NewFile.
func (f *File) Name() string { return f.name }

// Refs returns the current reference count.
func (f *File) Refs() int64 { return f.refs.Load() }

// Closed returns how many times the count has dropped to zero. Anything
// above one is a double release.
func (f *File) Closed() int64 { return f.closed.Load() }

// IncRef takes a reference.
func (f *File) IncRef() {
	if f.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("testutil: IncRef on released file %q", f.name))
	}
}

// TryIncRef takes a reference unless the count has reached zero.
func (f *File) TryIncRef() bool {
	for {
		r := f.refs.Load()
		if r <= 0 {
			return false
		}
		if f.refs.CompareAndSwap(r, r+1) {
			return true
		}
	}
}

// DecRef drops a reference.
func (f *File) DecRef() {
	r := f.refs.Add(-1)
	switch {
	case r == 0:
		f.closed.Add(1)
		if f.onZero != nil {
			f.onZero(f)
		}
	case r < 0:
		panic(fmt.Sprintf("testutil: DecRef below zero on file %q", f.name))
	}
}

func (f *File) String() string {
	return fmt.Sprintf("File(%s, refs=%d)", f.name, f.refs.Load())
}
