// Package testutil provides testing utilities for fdtable.
//
// This package is intended for use in tests and benchmarks only.
//
// # Fake Files
//
//	f := testutil.NewFile("a")  // one reference, owned by the caller
//	_ = tbl.Install(fd, f)      // ownership moves to the table
//	f.Refs()                    // observe the count
//
// # Allocation Model
//
// Model is a plain bitset reference implementation of lowest-free-first
// allocation, used to check a Table's choices in property tests.
//
//	m := testutil.NewModel()
//	want := m.Allocate()
//
// # Deterministic Randomness
//
//	rng := testutil.NewRNG(seed)
//	op := rng.Intn(3)
package testutil
