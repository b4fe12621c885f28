// Package main provides fdstress, a stress driver for descriptor tables.
//
// Writers allocate, install, release and exec against one shared table
// while readers hammer the lock-free lookup path. At the end every file
// must have been released exactly once.
//
//	fdstress --readers 8 --writers 2 --ops 100000
//	fdstress --scenario scenario.jsonc --checkpoint-dir /tmp/fd
//	fdstress --store s3://bucket/fdstress?region=eu-west-1
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
