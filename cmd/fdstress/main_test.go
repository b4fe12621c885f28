package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenarioJSONC(t *testing.T) {
	s, err := parseScenario([]byte(`{
		// small table, lots of growth
		"writers": 3,
		"embedded_capacity": 4,
		"compression": "lz4", // trailing comma below
	}`))
	require.NoError(t, err)

	assert.Equal(t, 3, s.Writers)
	assert.Equal(t, 4, s.EmbeddedCapacity)
	assert.Equal(t, "lz4", s.Compression)
	assert.Equal(t, defaultScenario().Readers, s.Readers)
}

func TestParseScenarioInvalid(t *testing.T) {
	_, err := parseScenario([]byte(`{"writers": `))
	require.Error(t, err)
}

func TestParseFlagsOverrideScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"writers": 5, "ops": 10}`), 0o600))

	var errOut bytes.Buffer
	s, err := parseFlags(&errOut, []string{"--scenario", path, "--ops", "7"})
	require.NoError(t, err)

	assert.Equal(t, 5, s.Writers)
	assert.Equal(t, 7, s.Ops)
}

func TestParseFlagsValidation(t *testing.T) {
	var errOut bytes.Buffer

	_, err := parseFlags(&errOut, []string{"--writers", "0"})
	require.ErrorIs(t, err, errInvalidScenario)

	_, err = parseFlags(&errOut, []string{"--max-open", "0"})
	require.ErrorIs(t, err, errInvalidScenario)

	_, err = parseFlags(&errOut, []string{"--store", "gs://bucket"})
	require.ErrorIs(t, err, errInvalidScenario)
	require.ErrorIs(t, err, errInvalidStore)
}

func TestRun(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{
		"--writers", "3",
		"--readers", "4",
		"--ops", "2000",
		"--max-open", "50",
		"--exec-every", "100",
		"--embedded", "8",
	}, &out, &errOut)

	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "writers=3 readers=4 ops=2000")
	assert.Contains(t, out.String(), "grow=")
}

func TestRunWithLimit(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{
		"--writers", "2",
		"--readers", "1",
		"--ops", "500",
		"--max-open", "100",
		"--embedded", "4",
		"--max-capacity", "32",
		"--log-level", "error",
	}, &out, &errOut)

	require.Equal(t, 0, code, errOut.String())
	assert.NotContains(t, out.String(), "refused=0 ")
}

func TestRunCheckpoint(t *testing.T) {
	dir := t.TempDir()

	for _, comp := range []string{"none", "lz4", "zstd"} {
		t.Run(comp, func(t *testing.T) {
			var out, errOut bytes.Buffer
			code := run(context.Background(), []string{
				"--writers", "2",
				"--readers", "2",
				"--ops", "300",
				"--checkpoint-dir", dir,
				"--compression", comp,
				"--codec", "json",
			}, &out, &errOut)

			require.Equal(t, 0, code, errOut.String())
			assert.Contains(t, out.String(), "restored=")
			assert.FileExists(t, filepath.Join(dir, checkpointName))
		})
	}
}

func TestRunCheckpointStoreURL(t *testing.T) {
	dir := t.TempDir()

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{
		"--writers", "2",
		"--readers", "1",
		"--ops", "200",
		"--store", "file://" + filepath.ToSlash(dir) + "/nested",
	}, &out, &errOut)

	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "checkpoint=file://")
	assert.FileExists(t, filepath.Join(dir, "nested", checkpointName))
}

func TestRunBadFlags(t *testing.T) {
	var out, errOut bytes.Buffer

	assert.Equal(t, 2, run(context.Background(), []string{"--nope"}, &out, &errOut))
	assert.Equal(t, 0, run(context.Background(), []string{"--help"}, &out, &errOut))
	assert.Equal(t, 1, run(context.Background(), []string{"--codec", "xml", "--checkpoint-dir", t.TempDir(), "--ops", "10"}, &out, &errOut))
	assert.Equal(t, 1, run(context.Background(), []string{"--log-level", "loud"}, &out, &errOut))
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run(ctx, []string{"--ops", "1000"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "context canceled")
}
