package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
)

// options holds the G1 configuration surface (spec.md §6): exactly four
// recognized flags, everything else rejected by flag.Parse's own
// unknown-flag handling (matching the teacher's cmd/zoekt-* mains, which
// all parse flags with the standard library rather than a third-party
// flag package).
type options struct {
	numThreads        int
	dirtyMaxIndexSize int
	lockFD            int
	sigwinchPID       int
}

const defaultDirtyMaxIndexSize = 1 << 30 // "large sentinel" per spec.md §6

func parseOptions(args []string) (options, error) {
	fs := flag.NewFlagSet("statusd", flag.ContinueOnError)

	opts := options{}
	fs.IntVar(&opts.numThreads, "num-threads", runtime.NumCPU(), "worker thread count")
	fs.IntVar(&opts.dirtyMaxIndexSize, "dirty-max-index-size", defaultDirtyMaxIndexSize,
		"indexes with more entries than this skip the worktree scan")
	fs.IntVar(&opts.lockFD, "lock-fd", -1, "fd to watch for parent liveness; -1 disables")
	fs.IntVar(&opts.sigwinchPID, "sigwinch-pid", -1, "pid to forward SIGWINCH to; -1 disables")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("statusd: unrecognized arguments: %v", fs.Args())
	}
	if opts.numThreads <= 0 {
		opts.numThreads = runtime.NumCPU()
	}
	if opts.dirtyMaxIndexSize < 0 {
		return options{}, fmt.Errorf("statusd: dirty-max-index-size must be non-negative")
	}
	return opts, nil
}

func mustParseOptions() options {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return opts
}
