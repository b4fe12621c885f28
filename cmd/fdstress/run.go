package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/fdtable"
	"github.com/hupe1980/fdtable/checkpoint"
	"github.com/hupe1980/fdtable/codec"
	"github.com/hupe1980/fdtable/testutil"
)

const checkpointName = "fdstress.ckpt"

// counters are shared by the workers of one run.
type counters struct {
	refused atomic.Int64
	execs   atomic.Int64
	lookups atomic.Int64
	hits    atomic.Int64
}

// result summarizes a stress run.
type result struct {
	Files     int
	Refused   int64
	Execs     int64
	Lookups   int64
	Hits      int64
	Restored  int
	Stats     fdtable.Stats
	Metrics   fdtable.BasicMetricsStats
	Elapsed   time.Duration
	Leaked    int
	DoubleRel int
}

// tableOptions returns the sizing options of s.
func tableOptions(s Scenario) []fdtable.Option {
	var opts []fdtable.Option
	if s.EmbeddedCapacity > 0 {
		opts = append(opts, fdtable.WithEmbeddedCapacity(s.EmbeddedCapacity))
	}
	if s.MaxCapacity > 0 {
		opts = append(opts, fdtable.WithMaxCapacity(s.MaxCapacity))
	}
	if s.MemoryLimit > 0 {
		opts = append(opts, fdtable.WithMemoryLimit(s.MemoryLimit))
	}
	if s.ReaderStripes > 0 {
		opts = append(opts, fdtable.WithReaderStripes(s.ReaderStripes))
	}
	return opts
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	s, err := parseFlags(errOut, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}

	res, err := stress(ctx, s, errOut)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	report(out, s, res)

	if res.Leaked > 0 || res.DoubleRel > 0 {
		fmt.Fprintf(errOut, "error: %d files leaked, %d released more than once\n", res.Leaked, res.DoubleRel)
		return 1
	}
	return 0
}

func newLogger(level string, errOut io.Writer) (*fdtable.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return fdtable.NewLogger(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: lvl})), nil
}

func stress(ctx context.Context, s Scenario, errOut io.Writer) (*result, error) {
	logger, err := newLogger(s.LogLevel, errOut)
	if err != nil {
		return nil, err
	}

	if s.Timeout != "" {
		d, _ := time.ParseDuration(s.Timeout)
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	metrics := &fdtable.BasicMetricsCollector{}
	opts := append(tableOptions(s),
		fdtable.WithLogger(logger),
		fdtable.WithMetricsCollector(metrics),
	)

	tbl, err := fdtable.New(opts...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var cnt counters
	files := make([][]*testutil.File, s.Writers)
	var writersDone atomic.Bool

	writers, wctx := errgroup.WithContext(ctx)
	for i := range s.Writers {
		// Only one writer marks close-on-exec so an exec transition never
		// releases a descriptor another writer believes it owns.
		w := &writer{
			id:        i,
			tbl:       tbl,
			rng:       testutil.NewRNG(s.Seed + int64(i)),
			maxOpen:   s.MaxOpen,
			execEvery: s.ExecEvery * boolInt(i == 0),
			cnt:       &cnt,
		}
		writers.Go(func() error {
			err := w.run(wctx, s.Ops)
			files[w.id] = w.files
			return err
		})
	}

	readers, rctx := errgroup.WithContext(ctx)
	for r := range s.Readers {
		rng := testutil.NewRNG(s.Seed + 1000 + int64(r))
		readers.Go(func() error {
			return read(rctx, tbl, rng, &writersDone, &cnt)
		})
	}

	werr := writers.Wait()
	writersDone.Store(true)
	rerr := readers.Wait()
	if err := errors.Join(werr, rerr); err != nil {
		_ = tbl.Drop()
		return nil, err
	}

	res := &result{
		Refused: cnt.refused.Load(),
		Execs:   cnt.execs.Load(),
		Lookups: cnt.lookups.Load(),
		Hits:    cnt.hits.Load(),
		Stats:   tbl.Stats(),
	}

	if s.storeURL() != "" {
		n, err := roundTrip(ctx, tbl, s)
		if err != nil {
			_ = tbl.Drop()
			return nil, err
		}
		res.Restored = n
	}

	if err := tbl.Drop(); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	res.Metrics = metrics.GetStats()

	for _, fs := range files {
		for _, f := range fs {
			res.Files++
			switch {
			case f.Refs() != 0:
				res.Leaked++
			case f.Closed() != 1:
				res.DoubleRel++
			}
		}
	}
	return res, nil
}

type writer struct {
	id        int
	tbl       *fdtable.Table
	rng       *testutil.RNG
	maxOpen   int
	execEvery int
	cnt       *counters

	open  []int
	files []*testutil.File
}

func (w *writer) run(ctx context.Context, ops int) error {
	for i := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}

		if w.execEvery > 0 && i > 0 && i%w.execEvery == 0 {
			w.exec()
			continue
		}

		if len(w.open) == 0 || (len(w.open) < w.maxOpen && w.rng.Intn(3) != 0) {
			if err := w.open1(); err != nil {
				return err
			}
			continue
		}
		if err := w.release(); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) open1() error {
	fd, err := w.tbl.Allocate()
	switch {
	case errors.Is(err, fdtable.ErrLimitReached), errors.Is(err, fdtable.ErrResourceExhausted):
		w.cnt.refused.Add(1)
		if len(w.open) == 0 {
			return nil
		}
		return w.release()
	case err != nil:
		return fmt.Errorf("writer %d: %w", w.id, err)
	}

	f := testutil.NewFile(fmt.Sprintf("w%d-%d", w.id, len(w.files)))
	if err := w.tbl.Install(fd, f); err != nil {
		return fmt.Errorf("writer %d: %w", w.id, err)
	}
	w.files = append(w.files, f)
	w.open = append(w.open, fd)

	if w.execEvery > 0 && w.rng.Intn(4) == 0 {
		if err := w.tbl.SetCloseOnExec(fd, true); err != nil {
			return fmt.Errorf("writer %d: %w", w.id, err)
		}
	}
	return nil
}

func (w *writer) release() error {
	i := w.rng.Intn(len(w.open))
	fd := w.open[i]
	w.open[i] = w.open[len(w.open)-1]
	w.open = w.open[:len(w.open)-1]
	if err := w.tbl.Release(fd); err != nil {
		return fmt.Errorf("writer %d: %w", w.id, err)
	}
	return nil
}

func (w *writer) exec() {
	marked := make(map[int]bool, len(w.open))
	for _, fd := range w.open {
		if on, err := w.tbl.CloseOnExec(fd); err == nil && on {
			marked[fd] = true
		}
	}
	w.tbl.ExecTransition()
	w.cnt.execs.Add(1)

	kept := w.open[:0]
	for _, fd := range w.open {
		if !marked[fd] {
			kept = append(kept, fd)
		}
	}
	w.open = kept
}

func read(ctx context.Context, tbl *fdtable.Table, rng *testutil.RNG, done *atomic.Bool, cnt *counters) error {
	var lookups, hits int64
	defer func() {
		cnt.lookups.Add(lookups)
		cnt.hits.Add(hits)
	}()

	for !done.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fd := rng.Intn(tbl.Capacity())
		lookups++

		if rng.Bool() {
			if _, ok := tbl.Lookup(fd); ok {
				hits++
			}
			continue
		}
		f, ok := tbl.Get(fd)
		if !ok {
			continue
		}
		hits++
		if tf, isFake := f.(*testutil.File); isFake && tf.Refs() < 1 {
			return fmt.Errorf("reader: fd %d returned released file %s", fd, tf.Name())
		}
		f.DecRef()
	}
	return nil
}

// roundTrip checkpoints tbl into the scenario's store, loads it back and
// restores it into a fresh table. It returns the number of restored
// descriptors.
func roundTrip(ctx context.Context, tbl *fdtable.Table, s Scenario) (int, error) {
	c, ok := codec.ByName(s.Codec)
	if !ok {
		return 0, fmt.Errorf("unknown codec %q (want one of %v)", s.Codec, codec.Names())
	}
	comp, err := checkpoint.ParseCompression(s.Compression)
	if err != nil {
		return 0, err
	}

	img, err := checkpoint.Capture(tbl, func(f fdtable.File) (string, error) {
		tf, ok := f.(*testutil.File)
		if !ok {
			return "", fmt.Errorf("unexpected file type %T", f)
		}
		return tf.Name(), nil
	})
	if err != nil {
		return 0, err
	}

	target, err := parseStoreURL(s.storeURL())
	if err != nil {
		return 0, err
	}
	store, err := openStore(ctx, target, os.Getenv)
	if err != nil {
		return 0, err
	}
	if err := checkpoint.Save(ctx, store, checkpointName, img,
		checkpoint.WithCodec(c), checkpoint.WithCompression(comp)); err != nil {
		return 0, err
	}

	loaded, err := checkpoint.Load(ctx, store, checkpointName)
	if err != nil {
		return 0, err
	}

	restored, err := checkpoint.Restore(loaded, func(id string) (fdtable.File, error) {
		return testutil.NewFile(id), nil
	}, tableOptions(s)...)
	if err != nil {
		return 0, err
	}
	defer restored.Drop()

	if got, want := restored.Stats().Installed, len(img.Entries); got != want {
		return 0, fmt.Errorf("restored %d descriptors, captured %d", got, want)
	}
	return len(img.Entries), nil
}

func report(out io.Writer, s Scenario, r *result) {
	fmt.Fprintf(out, "writers=%d readers=%d ops=%d elapsed=%s\n", s.Writers, s.Readers, s.Ops, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "files=%d refused=%d execs=%d lookups=%d hits=%d\n", r.Files, r.Refused, r.Execs, r.Lookups, r.Hits)
	fmt.Fprintf(out, "capacity=%d in_use=%d installed=%d growths=%d memory=%dB\n",
		r.Stats.Capacity, r.Stats.InUse, r.Stats.Installed, r.Stats.Growths, r.Stats.MemoryBytes)
	m := r.Metrics
	fmt.Fprintf(out, "allocate=%d (errors %d, avg %dns) release=%d grow=%d (errors %d) reclaimed=%d\n",
		m.AllocateCount, m.AllocateErrors, m.AllocateAvgNanos, m.ReleaseCount, m.GrowCount, m.GrowErrors, m.ReclaimedTables)
	if raw := s.storeURL(); raw != "" {
		fmt.Fprintf(out, "checkpoint=%s restored=%d\n", raw, r.Restored)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
