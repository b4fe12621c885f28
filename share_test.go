package fdtable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fdtable"
	"github.com/hupe1980/fdtable/testutil"
)

func TestDuplicateThenDrop(t *testing.T) {
	tbl := newTable(t)

	var files []*testutil.File
	for i := 0; i < 3; i++ {
		_, f := open(t, tbl, "f")
		files = append(files, f)
	}

	shared, err := tbl.Duplicate()
	require.NoError(t, err)
	assert.Same(t, tbl, shared)
	assert.Equal(t, int64(2), tbl.Refs())

	require.NoError(t, tbl.Drop())
	for fd, f := range files {
		got, ok := shared.Lookup(fd)
		require.True(t, ok)
		assert.Same(t, f, got)
		assert.Zero(t, f.Closed())
	}

	fd, err := shared.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3, fd)

	require.NoError(t, shared.Drop())
	for _, f := range files {
		assert.Equal(t, int64(1), f.Closed(), "each file released exactly once")
	}
}

func TestDropReleasesGrownTable(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(4), fdtable.WithMemoryLimit(1<<20))

	var files []*testutil.File
	for i := 0; i < 100; i++ {
		_, f := open(t, tbl, "f")
		files = append(files, f)
	}
	require.Positive(t, tbl.Stats().MemoryBytes)

	require.NoError(t, tbl.Drop())
	for _, f := range files {
		assert.Equal(t, int64(1), f.Closed())
	}
	st := tbl.Stats()
	assert.Zero(t, st.PendingReclaim)
	assert.Zero(t, st.InUse)
}

func TestDropSharedController(t *testing.T) {
	rc := fdtable.NewResourceController(1 << 20)

	a := newTable(t, fdtable.WithEmbeddedCapacity(4), fdtable.WithResourceController(rc))
	b := newTable(t, fdtable.WithEmbeddedCapacity(4), fdtable.WithResourceController(rc))
	for i := 0; i < 40; i++ {
		_, err := a.Allocate()
		require.NoError(t, err)
		_, err = b.Allocate()
		require.NoError(t, err)
	}
	assert.Positive(t, rc.MemoryUsage())

	require.NoError(t, a.Drop())
	require.NoError(t, b.Drop())
	assert.Zero(t, rc.MemoryUsage(), "every table's storage is returned to the budget")
}

func TestClosedTable(t *testing.T) {
	tbl := newTable(t)
	fd, f := open(t, tbl, "a")
	require.NoError(t, tbl.Drop())
	require.Equal(t, int64(1), f.Closed())

	_, err := tbl.Allocate()
	assert.ErrorIs(t, err, fdtable.ErrClosed)
	assert.ErrorIs(t, tbl.Release(fd), fdtable.ErrClosed)
	assert.ErrorIs(t, tbl.SetCloseOnExec(fd, true), fdtable.ErrClosed)

	g := testutil.NewFile("g")
	assert.ErrorIs(t, tbl.InstallAt(fd, g, false), fdtable.ErrClosed)
	assert.Equal(t, int64(1), g.Refs())

	_, err = tbl.Duplicate()
	assert.ErrorIs(t, err, fdtable.ErrClosed)
	_, err = tbl.Detach()
	assert.ErrorIs(t, err, fdtable.ErrClosed)
	assert.ErrorIs(t, tbl.Drop(), fdtable.ErrClosed)

	_, ok := tbl.Lookup(fd)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.ExecTransition())
}

func TestDetach(t *testing.T) {
	parent := newTable(t)

	fd0, a := open(t, parent, "a")
	require.NoError(t, parent.SetCloseOnExec(fd0, true))
	reserved, err := parent.Allocate()
	require.NoError(t, err)
	fd2, b := open(t, parent, "b")

	child, err := parent.Detach()
	require.NoError(t, err)
	assert.NotSame(t, parent, child)
	assert.Equal(t, int64(1), child.Refs())
	assert.Equal(t, parent.Capacity(), child.Capacity())

	got, ok := child.Lookup(fd0)
	require.True(t, ok)
	assert.Same(t, a, got)
	on, err := child.CloseOnExec(fd0)
	require.NoError(t, err)
	assert.True(t, on)

	got, ok = child.Lookup(fd2)
	require.True(t, ok)
	assert.Same(t, b, got)

	_, err = child.CloseOnExec(reserved)
	assert.ErrorIs(t, err, fdtable.ErrNotOpen, "reserved descriptors are not copied")

	assert.Equal(t, int64(2), a.Refs())
	assert.Equal(t, int64(2), b.Refs())

	// The copies are independent.
	require.NoError(t, child.Release(fd2))
	_, ok = parent.Lookup(fd2)
	assert.True(t, ok)
	assert.Equal(t, int64(1), b.Refs())

	fd, err := child.Allocate()
	require.NoError(t, err)
	assert.Equal(t, reserved, fd)

	assert.Equal(t, 1, child.ExecTransition())
	_, ok = parent.Lookup(fd0)
	assert.True(t, ok)

	require.NoError(t, child.Drop())
	require.NoError(t, parent.Drop())
	assert.Equal(t, int64(1), a.Closed())
	assert.Equal(t, int64(1), b.Closed())
}

func TestDetachGrown(t *testing.T) {
	parent := newTable(t, fdtable.WithEmbeddedCapacity(4))
	defer parent.Drop()

	for i := 0; i < 50; i++ {
		open(t, parent, "f")
	}
	require.Equal(t, 64, parent.Capacity())

	child, err := parent.Detach()
	require.NoError(t, err)
	defer child.Drop()

	st := child.Stats()
	assert.Equal(t, 64, st.Capacity)
	assert.False(t, st.Embedded)
	assert.Equal(t, 50, st.Installed)
	assert.True(t, parent.OpenSet().Equals(child.OpenSet()))
}

func TestDetachResourceExhausted(t *testing.T) {
	rc := fdtable.NewResourceController(1 << 10)
	parent := newTable(t, fdtable.WithEmbeddedCapacity(4), fdtable.WithResourceController(rc))
	defer parent.Drop()

	for i := 0; i < 60; i++ {
		_, err := parent.Allocate()
		require.NoError(t, err)
	}

	_, err := parent.Detach()
	assert.ErrorIs(t, err, fdtable.ErrResourceExhausted)
}
