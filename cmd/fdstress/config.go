package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

var errInvalidScenario = errors.New("invalid scenario")

// Scenario describes one stress run. It can be loaded from a JSONC file
// and overridden by flags.
type Scenario struct {
	Readers          int    `json:"readers"`
	Writers          int    `json:"writers"`
	Ops              int    `json:"ops"`
	MaxOpen          int    `json:"max_open"`
	ExecEvery        int    `json:"exec_every"`
	EmbeddedCapacity int    `json:"embedded_capacity"`
	MaxCapacity      int    `json:"max_capacity"`
	MemoryLimit      int64  `json:"memory_limit"`
	ReaderStripes    int    `json:"reader_stripes"`
	Seed             int64  `json:"seed"`
	CheckpointDir    string `json:"checkpoint_dir"`
	Store            string `json:"store"`
	Codec            string `json:"codec"`
	Compression      string `json:"compression"`
	LogLevel         string `json:"log_level"`
	Timeout          string `json:"timeout"`
}

func defaultScenario() Scenario {
	return Scenario{
		Readers:     4,
		Writers:     2,
		Ops:         20000,
		MaxOpen:     512,
		ExecEvery:   1000,
		Seed:        1,
		Codec:       "go-json",
		Compression: "zstd",
		LogLevel:    "warn",
	}
}

func (s Scenario) validate() error {
	switch {
	case s.Readers < 0:
		return fmt.Errorf("%w: readers must be non-negative", errInvalidScenario)
	case s.Writers < 1:
		return fmt.Errorf("%w: at least one writer is required", errInvalidScenario)
	case s.Ops < 0:
		return fmt.Errorf("%w: ops must be non-negative", errInvalidScenario)
	case s.MaxOpen < 1:
		return fmt.Errorf("%w: max_open must be positive", errInvalidScenario)
	case s.ExecEvery < 0:
		return fmt.Errorf("%w: exec_every must be non-negative", errInvalidScenario)
	}
	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return fmt.Errorf("%w: timeout: %w", errInvalidScenario, err)
		}
	}
	if raw := s.storeURL(); raw != "" {
		if _, err := parseStoreURL(raw); err != nil {
			return fmt.Errorf("%w: store: %w", errInvalidScenario, err)
		}
	}
	return nil
}

// storeURL returns where checkpoints go, or "" when checkpointing is off.
// Store takes precedence over CheckpointDir.
func (s Scenario) storeURL() string {
	if s.Store != "" {
		return s.Store
	}
	return s.CheckpointDir
}

// parseScenario reads a JSONC scenario on top of the defaults.
func parseScenario(data []byte) (Scenario, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Scenario{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	s := defaultScenario()
	if err := json.Unmarshal(standardized, &s); err != nil {
		return Scenario{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return s, nil
}

// parseFlags builds the scenario: defaults, then the scenario file, then
// explicitly set flags.
func parseFlags(errOut io.Writer, args []string) (Scenario, error) {
	flagSet := flag.NewFlagSet("fdstress", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	def := defaultScenario()
	scenarioPath := flagSet.String("scenario", "", "JSONC scenario file")
	readers := flagSet.Int("readers", def.Readers, "Concurrent lookup goroutines")
	writers := flagSet.Int("writers", def.Writers, "Concurrent mutating goroutines")
	ops := flagSet.Int("ops", def.Ops, "Mutations per writer")
	maxOpen := flagSet.Int("max-open", def.MaxOpen, "Descriptors each writer keeps open at most")
	execEvery := flagSet.Int("exec-every", def.ExecEvery, "Run an exec transition every N mutations per writer, 0=never")
	embedded := flagSet.Int("embedded", 0, "Embedded capacity, 0=machine word size")
	maxCap := flagSet.Int("max-capacity", 0, "Maximum table capacity, 0=default")
	memLimit := flagSet.Int64("memory-limit", 0, "Table storage budget in bytes, 0=unlimited")
	stripes := flagSet.Int("stripes", 0, "Reader counter stripes, 0=default")
	seed := flagSet.Int64("seed", def.Seed, "Random seed")
	cpDir := flagSet.String("checkpoint-dir", "", "Checkpoint the final table into this directory and verify a restore")
	storeFlag := flagSet.String("store", "", "Checkpoint store URL: a path, file://, s3://bucket/prefix or minio://host/bucket/prefix")
	codecName := flagSet.String("codec", def.Codec, "Checkpoint codec: json or go-json")
	compression := flagSet.String("compression", def.Compression, "Checkpoint compression: none, lz4 or zstd")
	logLevel := flagSet.String("log-level", def.LogLevel, "Log level: debug, info, warn or error")
	timeout := flagSet.Duration("timeout", 0, "Abort the run after this duration, 0=no limit")

	if err := flagSet.Parse(args); err != nil {
		return Scenario{}, err
	}

	s := def
	if *scenarioPath != "" {
		data, err := os.ReadFile(*scenarioPath)
		if err != nil {
			return Scenario{}, fmt.Errorf("read scenario: %w", err)
		}
		if s, err = parseScenario(data); err != nil {
			return Scenario{}, fmt.Errorf("%w %s: %w", errInvalidScenario, *scenarioPath, err)
		}
	}

	overrides := map[string]func(){
		"readers":        func() { s.Readers = *readers },
		"writers":        func() { s.Writers = *writers },
		"ops":            func() { s.Ops = *ops },
		"max-open":       func() { s.MaxOpen = *maxOpen },
		"exec-every":     func() { s.ExecEvery = *execEvery },
		"embedded":       func() { s.EmbeddedCapacity = *embedded },
		"max-capacity":   func() { s.MaxCapacity = *maxCap },
		"memory-limit":   func() { s.MemoryLimit = *memLimit },
		"stripes":        func() { s.ReaderStripes = *stripes },
		"seed":           func() { s.Seed = *seed },
		"checkpoint-dir": func() { s.CheckpointDir = *cpDir },
		"store":          func() { s.Store = *storeFlag },
		"codec":          func() { s.Codec = *codecName },
		"compression":    func() { s.Compression = *compression },
		"log-level":      func() { s.LogLevel = *logLevel },
		"timeout":        func() { s.Timeout = timeout.String() },
	}
	for name, apply := range overrides {
		if flagSet.Changed(name) {
			apply()
		}
	}

	if err := s.validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}
