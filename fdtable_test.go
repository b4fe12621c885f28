package fdtable_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fdtable"
	"github.com/hupe1980/fdtable/testutil"
)

func newTable(t *testing.T, opts ...fdtable.Option) *fdtable.Table {
	t.Helper()
	tbl, err := fdtable.New(opts...)
	require.NoError(t, err)
	return tbl
}

// open allocates a descriptor and installs a fresh file on it.
func open(t *testing.T, tbl *fdtable.Table, name string) (int, *testutil.File) {
	t.Helper()
	fd, err := tbl.Allocate()
	require.NoError(t, err)
	f := testutil.NewFile(name)
	require.NoError(t, tbl.Install(fd, f))
	return fd, f
}

func TestNew(t *testing.T) {
	tbl := newTable(t)

	assert.Equal(t, fdtable.EmbeddedSize, tbl.Capacity())
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, int64(1), tbl.Refs())

	st := tbl.Stats()
	assert.True(t, st.Embedded)
	assert.Zero(t, st.MemoryBytes)
	assert.Zero(t, st.Growths)

	require.NoError(t, tbl.Drop())
}

func TestNewContradictoryLimits(t *testing.T) {
	_, err := fdtable.New(
		fdtable.WithEmbeddedCapacity(32),
		fdtable.WithMaxCapacity(16),
	)
	require.Error(t, err)
}

func TestAllocateLowestFirst(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Drop()

	for want := 0; want < 5; want++ {
		fd, err := tbl.Allocate()
		require.NoError(t, err)
		assert.Equal(t, want, fd)
	}

	require.NoError(t, tbl.Release(1))
	require.NoError(t, tbl.Release(3))

	fd, err := tbl.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 1, fd)

	fd, err = tbl.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3, fd)

	fd, err = tbl.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 5, fd)
}

func TestInstallLookupRelease(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Drop()

	fd, err := tbl.Allocate()
	require.NoError(t, err)

	_, ok := tbl.Lookup(fd)
	assert.False(t, ok, "reserved descriptor must not be visible")

	f := testutil.NewFile("a")
	require.NoError(t, tbl.Install(fd, f))

	got, ok := tbl.Lookup(fd)
	require.True(t, ok)
	assert.Same(t, f, got)
	assert.Equal(t, int64(1), f.Refs(), "lookup must not take a reference")

	require.NoError(t, tbl.Release(fd))
	_, ok = tbl.Lookup(fd)
	assert.False(t, ok)
	assert.Equal(t, int64(1), f.Closed())
}

func TestLookupOutOfRange(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Drop()

	for _, fd := range []int{-1, tbl.Capacity(), 1 << 30} {
		_, ok := tbl.Lookup(fd)
		assert.False(t, ok, "fd %d", fd)
	}
}

func TestLookupDoesNotAllocate(t *testing.T) {
	tests := []struct {
		name  string
		files int
	}{
		{"embedded", 2},
		{"allocated", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := newTable(t, fdtable.WithEmbeddedCapacity(4))
			defer tbl.Drop()

			fd, _ := open(t, tbl, "a")
			for i := 1; i < tt.files; i++ {
				open(t, tbl, "b")
			}
			free := tbl.Capacity() - 1

			allocs := testing.AllocsPerRun(1000, func() {
				if _, ok := tbl.Lookup(fd); !ok {
					t.Fatal("installed descriptor not found")
				}
				if _, ok := tbl.Lookup(free); ok {
					t.Fatal("free descriptor found")
				}
			})
			assert.Zero(t, allocs)
		})
	}
}

func TestInstallErrors(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Drop()

	f := testutil.NewFile("a")

	err := tbl.Install(3, f)
	assert.ErrorIs(t, err, fdtable.ErrNotOpen)

	err = tbl.Install(-1, f)
	assert.ErrorIs(t, err, fdtable.ErrOutOfRange)

	err = tbl.Install(tbl.Capacity(), f)
	assert.ErrorIs(t, err, fdtable.ErrOutOfRange)

	fd, g := open(t, tbl, "b")
	err = tbl.Install(fd, f)
	assert.ErrorIs(t, err, fdtable.ErrBusy)

	got, ok := tbl.Lookup(fd)
	require.True(t, ok)
	assert.Same(t, g, got)
	assert.Equal(t, int64(1), f.Refs(), "failed install must leave the reference with the caller")

	assert.Panics(t, func() { _ = tbl.Install(fd, nil) })
}

func TestReleaseErrors(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Drop()

	err := tbl.Release(5)
	require.ErrorIs(t, err, fdtable.ErrNotOpen)

	var fdErr *fdtable.FDError
	require.True(t, errors.As(err, &fdErr))
	assert.Equal(t, "release", fdErr.Op)
	assert.Equal(t, 5, fdErr.FD)

	assert.ErrorIs(t, tbl.Release(-1), fdtable.ErrOutOfRange)
	assert.ErrorIs(t, tbl.Release(tbl.Capacity()), fdtable.ErrOutOfRange)
}

func TestReleaseReserved(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Drop()

	fd, err := tbl.Allocate()
	require.NoError(t, err)
	require.NoError(t, tbl.Release(fd))
	assert.Equal(t, 0, tbl.Len())

	again, err := tbl.Allocate()
	require.NoError(t, err)
	assert.Equal(t, fd, again)
}

func TestEmbeddedGrowth(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(32))
	defer tbl.Drop()

	files := make([]*testutil.File, 40)
	for i := range files {
		fd, f := open(t, tbl, "f")
		require.Equal(t, i, fd)
		files[i] = f
	}

	st := tbl.Stats()
	assert.Equal(t, 64, st.Capacity)
	assert.Equal(t, int64(1), st.Growths)
	assert.False(t, st.Embedded)
	assert.Positive(t, st.MemoryBytes)

	for fd, f := range files {
		got, ok := tbl.Lookup(fd)
		require.True(t, ok)
		assert.Same(t, f, got)
	}

	require.NoError(t, tbl.Release(5))
	fd, err := tbl.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 5, fd)
	assert.Equal(t, 64, tbl.Capacity())
}

func TestGrowthPreservesCloseOnExec(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(4))
	defer tbl.Drop()

	fd, _ := open(t, tbl, "a")
	require.NoError(t, tbl.SetCloseOnExec(fd, true))

	for i := 0; i < 20; i++ {
		open(t, tbl, "b")
	}
	assert.Equal(t, 32, tbl.Capacity())

	on, err := tbl.CloseOnExec(fd)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestMinCapacity(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(2), fdtable.WithMinCapacity(100))
	defer tbl.Drop()

	for i := 0; i < 3; i++ {
		_, err := tbl.Allocate()
		require.NoError(t, err)
	}
	assert.Equal(t, 128, tbl.Capacity())
}

func TestLimitReached(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(4), fdtable.WithMaxCapacity(8))
	defer tbl.Drop()

	for i := 0; i < 8; i++ {
		_, err := tbl.Allocate()
		require.NoError(t, err)
	}

	_, err := tbl.Allocate()
	require.ErrorIs(t, err, fdtable.ErrLimitReached)

	var growErr *fdtable.GrowError
	require.True(t, errors.As(err, &growErr))
	assert.Equal(t, 8, growErr.From)

	assert.Equal(t, 8, tbl.Capacity())
	assert.Equal(t, 8, tbl.Len())

	require.NoError(t, tbl.Release(6))
	fd, err := tbl.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 6, fd)
}

func TestGrowthClampedToMax(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(4), fdtable.WithMinCapacity(64), fdtable.WithMaxCapacity(16))
	defer tbl.Drop()

	for i := 0; i < 5; i++ {
		_, err := tbl.Allocate()
		require.NoError(t, err)
	}
	assert.Equal(t, 16, tbl.Capacity())
}

func TestMaxCapacityLimit(t *testing.T) {
	tbl := newTable(t, fdtable.WithMaxCapacity(math.MaxInt))
	defer tbl.Drop()

	_, err := tbl.AllocateFrom(fdtable.MaxCapacityLimit)
	require.ErrorIs(t, err, fdtable.ErrOutOfRange)

	f := testutil.NewFile("far")
	err = tbl.InstallAt(fdtable.MaxCapacityLimit, f, true)
	require.ErrorIs(t, err, fdtable.ErrOutOfRange)
	assert.Equal(t, int64(1), f.Refs())
	assert.Equal(t, fdtable.EmbeddedSize, tbl.Capacity())
}

func TestResourceExhausted(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(8), fdtable.WithMemoryLimit(1))
	defer tbl.Drop()

	for i := 0; i < 8; i++ {
		_, err := tbl.Allocate()
		require.NoError(t, err)
	}

	_, err := tbl.Allocate()
	require.ErrorIs(t, err, fdtable.ErrResourceExhausted)
	assert.NotErrorIs(t, err, fdtable.ErrLimitReached)

	var growErr *fdtable.GrowError
	require.True(t, errors.As(err, &growErr))
	assert.Equal(t, 8, growErr.From)
	assert.Equal(t, 16, growErr.To)

	assert.Equal(t, 8, tbl.Capacity())
	assert.True(t, tbl.Stats().Embedded)
}

func TestExecTransition(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Drop()

	for i := 0; i < 3; i++ {
		open(t, tbl, "keep")
	}
	fd, f := open(t, tbl, "exec")
	require.Equal(t, 3, fd)
	f.IncRef()
	require.NoError(t, tbl.SetCloseOnExec(fd, true))

	assert.Equal(t, 1, tbl.ExecTransition())

	_, ok := tbl.Lookup(3)
	assert.False(t, ok)
	assert.Equal(t, int64(1), f.Refs())
	for i := 0; i < 3; i++ {
		_, ok := tbl.Lookup(i)
		assert.True(t, ok)
	}

	assert.Equal(t, 0, tbl.ExecTransition())

	next, err := tbl.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3, next)
	f.DecRef()
}

func TestExecTransitionReleasesExactlyMarked(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(8))
	defer tbl.Drop()

	marked := map[int]bool{1: true, 4: true, 9: true, 17: true}
	files := make(map[int]*testutil.File)
	for i := 0; i < 20; i++ {
		fd, f := open(t, tbl, "f")
		files[fd] = f
		if marked[fd] {
			require.NoError(t, tbl.SetCloseOnExec(fd, true))
		}
	}
	require.NoError(t, tbl.SetCloseOnExec(4, false))
	delete(marked, 4)

	assert.Equal(t, len(marked), tbl.ExecTransition())
	for fd, f := range files {
		_, ok := tbl.Lookup(fd)
		assert.Equal(t, !marked[fd], ok, "fd %d", fd)
		if marked[fd] {
			assert.Equal(t, int64(1), f.Closed())
		}
	}
	assert.True(t, tbl.CloseOnExecSet().IsEmpty())
}

func TestCloseOnExecErrors(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Drop()

	assert.ErrorIs(t, tbl.SetCloseOnExec(2, true), fdtable.ErrNotOpen)
	assert.ErrorIs(t, tbl.SetCloseOnExec(-3, true), fdtable.ErrOutOfRange)
	assert.ErrorIs(t, tbl.SetCloseOnExec(tbl.Capacity(), true), fdtable.ErrOutOfRange)

	_, err := tbl.CloseOnExec(2)
	assert.ErrorIs(t, err, fdtable.ErrNotOpen)
	_, err = tbl.CloseOnExec(tbl.Capacity())
	assert.ErrorIs(t, err, fdtable.ErrOutOfRange)

	fd, err := tbl.Allocate()
	require.NoError(t, err)
	require.NoError(t, tbl.SetCloseOnExec(fd, true))
	require.NoError(t, tbl.Release(fd))

	fd, err = tbl.Allocate()
	require.NoError(t, err)
	on, err := tbl.CloseOnExec(fd)
	require.NoError(t, err)
	assert.False(t, on, "a reused descriptor starts without close-on-exec")
}

func TestAllocateFrom(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(8))
	defer tbl.Drop()

	fd, err := tbl.AllocateFrom(10)
	require.NoError(t, err)
	assert.Equal(t, 10, fd)
	assert.Equal(t, 16, tbl.Capacity())

	fd, err = tbl.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 0, fd, "allocating above the hint must not move it")

	fd, err = tbl.AllocateFrom(10)
	require.NoError(t, err)
	assert.Equal(t, 11, fd)

	fd, err = tbl.AllocateFrom(0)
	require.NoError(t, err)
	assert.Equal(t, 1, fd)

	_, err = tbl.AllocateFrom(-1)
	assert.ErrorIs(t, err, fdtable.ErrOutOfRange)
	_, err = tbl.AllocateFrom(fdtable.DefaultMaxCapacity)
	assert.ErrorIs(t, err, fdtable.ErrOutOfRange)
}

func TestInstallAt(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(8))
	defer tbl.Drop()

	f := testutil.NewFile("f")
	require.NoError(t, tbl.InstallAt(20, f, true))
	assert.Equal(t, 32, tbl.Capacity())

	got, ok := tbl.Lookup(20)
	require.True(t, ok)
	assert.Same(t, f, got)
	on, err := tbl.CloseOnExec(20)
	require.NoError(t, err)
	assert.True(t, on)

	fd, err := tbl.Allocate()
	require.NoError(t, err)
	require.Equal(t, 0, fd)

	g := testutil.NewFile("g")
	assert.ErrorIs(t, tbl.InstallAt(0, g, false), fdtable.ErrBusy)
	assert.Equal(t, int64(1), g.Refs())

	h := testutil.NewFile("h")
	require.NoError(t, tbl.Install(0, h))
	require.NoError(t, tbl.InstallAt(0, g, false))
	assert.Equal(t, int64(1), h.Closed(), "replaced file must be released")

	got, ok = tbl.Lookup(0)
	require.True(t, ok)
	assert.Same(t, g, got)

	require.NoError(t, tbl.InstallAt(20, testutil.NewFile("f2"), false))
	assert.Equal(t, int64(1), f.Closed())
	on, err = tbl.CloseOnExec(20)
	require.NoError(t, err)
	assert.False(t, on)

	x := testutil.NewFile("x")
	assert.ErrorIs(t, tbl.InstallAt(-1, x, false), fdtable.ErrOutOfRange)
	assert.ErrorIs(t, tbl.InstallAt(fdtable.DefaultMaxCapacity, x, false), fdtable.ErrOutOfRange)
}

func TestInstallAtLimit(t *testing.T) {
	tbl := newTable(t, fdtable.WithEmbeddedCapacity(4), fdtable.WithMaxCapacity(8))
	defer tbl.Drop()

	f := testutil.NewFile("f")
	assert.ErrorIs(t, tbl.InstallAt(8, f, false), fdtable.ErrOutOfRange)
	require.NoError(t, tbl.InstallAt(7, f, false))
	assert.Equal(t, 8, tbl.Capacity())
}

func TestGet(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Drop()

	fd, f := open(t, tbl, "a")

	got, ok := tbl.Get(fd)
	require.True(t, ok)
	assert.Same(t, f, got)
	assert.Equal(t, int64(2), f.Refs())

	require.NoError(t, tbl.Release(fd))
	assert.Equal(t, int64(1), f.Refs(), "reference taken by Get outlives the descriptor")
	got.DecRef()
	assert.Equal(t, int64(1), f.Closed())

	_, ok = tbl.Get(fd)
	assert.False(t, ok)
}

// plainFile does not implement TryRef.
type plainFile struct{ refs int }

func (p *plainFile) IncRef() { p.refs++ }
func (p *plainFile) DecRef() { p.refs-- }

// dyingFile has already lost its last reference.
type dyingFile struct{ decs int }

func (d *dyingFile) IncRef()         { panic("resurrected") }
func (d *dyingFile) TryIncRef() bool { return false }
func (d *dyingFile) DecRef()         { d.decs++ }

func TestGetWithoutTryRef(t *testing.T) {
	tbl := newTable(t)

	fd, err := tbl.Allocate()
	require.NoError(t, err)
	p := &plainFile{refs: 1}
	require.NoError(t, tbl.Install(fd, p))

	_, ok := tbl.Get(fd)
	require.True(t, ok)
	assert.Equal(t, 2, p.refs)

	require.NoError(t, tbl.Drop())
	assert.Equal(t, 1, p.refs)
}

func TestGetDoesNotResurrect(t *testing.T) {
	tbl := newTable(t)

	fd, err := tbl.Allocate()
	require.NoError(t, err)
	d := &dyingFile{}
	require.NoError(t, tbl.Install(fd, d))

	_, ok := tbl.Get(fd)
	assert.False(t, ok)

	_, ok = tbl.Lookup(fd)
	assert.True(t, ok)

	require.NoError(t, tbl.Drop())
	assert.Equal(t, 1, d.decs)
}
