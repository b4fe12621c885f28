package fdtable_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fdtable"
)

func TestLoggerGrowthAndLimit(t *testing.T) {
	var buf bytes.Buffer
	logger := fdtable.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tbl := newTable(t,
		fdtable.WithEmbeddedCapacity(2),
		fdtable.WithMaxCapacity(4),
		fdtable.WithLogger(logger),
	)

	for i := 0; i < 4; i++ {
		_, err := tbl.Allocate()
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		_, err := tbl.Allocate()
		require.ErrorIs(t, err, fdtable.ErrLimitReached)
	}
	require.NoError(t, tbl.Drop())

	out := buf.String()
	assert.Contains(t, out, `"msg":"descriptor table grown"`)
	assert.Contains(t, out, `"table":`)
	assert.Equal(t, 1, strings.Count(out, "descriptor table growth refused"), "limit warnings are throttled")
	assert.Contains(t, out, `"msg":"descriptor table destroyed"`)
}

func TestNoopLogger(t *testing.T) {
	tbl := newTable(t, fdtable.WithLogger(nil), fdtable.WithMetricsCollector(nil))
	_, err := tbl.Allocate()
	require.NoError(t, err)
	require.NoError(t, tbl.Drop())
}
