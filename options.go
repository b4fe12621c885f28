package fdtable

import (
	"log/slog"
	"math/bits"

	"github.com/hupe1980/fdtable/internal/epoch"
	"github.com/hupe1980/fdtable/internal/resource"
)

const (
	// EmbeddedSize is the number of descriptors held in storage embedded in
	// the Table itself: the bit width of a machine word.
	EmbeddedSize = bits.UintSize

	// DefaultMaxCapacity is the default upper bound on descriptors per table.
	DefaultMaxCapacity = 1 << 20

	// MaxCapacityLimit is the largest capacity WithMaxCapacity accepts.
	// Every descriptor fits in a uint32, the key type of the roaring
	// bitmaps returned by OpenSet and CloseOnExecSet.
	MaxCapacityLimit = 1 << 30

	// GrowthFactor is the capacity multiplier applied on each growth.
	GrowthFactor = 2
)

type options struct {
	embeddedCapacity int
	minCapacity      int
	maxCapacity      int
	readerStripes    int
	memoryLimit      int64
	controller       *resource.Controller
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures a Table.
//
// Options are applied by New and inherited by tables created with Detach.
type Option func(*options)

// WithEmbeddedCapacity limits how many descriptors live in the embedded
// storage before the first heap allocation. n is rounded down to a power of
// two and clamped to [1, EmbeddedSize].
//
// The embedded storage itself is always EmbeddedSize slots; this only moves
// the point at which the table switches to heap storage.
func WithEmbeddedCapacity(n int) Option {
	return func(o *options) {
		o.embeddedCapacity = n
	}
}

// WithMinCapacity sets the capacity of the first heap-allocated table.
// It is rounded up to a power of two; values not above the embedded
// capacity fall back to twice the embedded capacity.
func WithMinCapacity(n int) Option {
	return func(o *options) {
		o.minCapacity = n
	}
}

// WithMaxCapacity bounds the number of descriptors (like RLIMIT_NOFILE).
// It is clamped to MaxCapacityLimit and rounded down to a power of two.
// Allocation beyond it fails with ErrLimitReached.
func WithMaxCapacity(n int) Option {
	return func(o *options) {
		o.maxCapacity = n
	}
}

// WithReaderStripes sets the number of reader counter stripes used by the
// lock-free lookup path. More stripes reduce contention between many
// concurrent readers at the cost of a slower grace-period check.
func WithReaderStripes(n int) Option {
	return func(o *options) {
		o.readerStripes = n
	}
}

// WithMemoryLimit creates a private resource controller that caps the bytes
// of heap storage the table may hold, superseded versions included. Growth
// beyond it fails with ErrResourceExhausted.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// ResourceController is a memory budget that several tables can share.
type ResourceController = resource.Controller

// NewResourceController returns a budget of limitBytes for table storage.
// A limit of zero only tracks usage.
func NewResourceController(limitBytes int64) *ResourceController {
	return resource.NewController(resource.Config{MemoryLimitBytes: limitBytes})
}

// WithResourceController charges table storage to a shared controller, so
// several tables can draw on one budget. It takes precedence over
// WithMemoryLimit.
func WithResourceController(rc *ResourceController) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// WithMetricsCollector configures a metrics collector for table operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &fdtable.BasicMetricsCollector{}
//	t, _ := fdtable.New(fdtable.WithMetricsCollector(metrics))
//	// ... use t ...
//	stats := metrics.GetStats()
//	fmt.Printf("Allocations: %d, Growths: %d\n", stats.AllocateCount, stats.GrowCount)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for table operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := fdtable.NewJSONLogger(slog.LevelDebug)
//	t, _ := fdtable.New(fdtable.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		embeddedCapacity: EmbeddedSize,
		maxCapacity:      DefaultMaxCapacity,
		readerStripes:    epoch.DefaultStripes,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	o.normalize()
	return o
}

func (o *options) normalize() {
	o.embeddedCapacity = clamp(floorPow2(o.embeddedCapacity), 1, EmbeddedSize)
	o.maxCapacity = floorPow2(min(o.maxCapacity, MaxCapacityLimit))

	if o.minCapacity <= o.embeddedCapacity {
		o.minCapacity = o.embeddedCapacity * GrowthFactor
	}
	o.minCapacity = ceilPow2(o.minCapacity)
	if o.maxCapacity > 0 && o.minCapacity > o.maxCapacity {
		o.minCapacity = o.maxCapacity
	}

	if o.controller == nil && o.memoryLimit > 0 {
		o.controller = resource.NewController(resource.Config{
			MemoryLimitBytes: o.memoryLimit,
		})
	}
}

func floorPow2(n int) int {
	if n <= 0 {
		return 0
	}
	return 1 << (bits.Len(uint(n)) - 1)
}

func ceilPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func clamp(n, lo, hi int) int {
	return min(max(n, lo), hi)
}
