// Command heapprofdigest drives heapprof.BuildDigest from the command
// line: it reads a {.hpm,.hpd} pair and writes the corresponding .hpc
// digest, with optional tail-precision aggregation. An interrupt
// (SIGINT) cancels the build and keeps the partial digest.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/humu/go-heapprof/heapprof"
)

func main() {
	flagBase := flag.String("i", "", "input/output file `base` (reads base.hpm/base.hpd, writes base.hpc)")
	flagInterval := flag.Uint64("interval", 1000, "snapshot interval in `milliseconds`")
	flagPrecision := flag.Float64("precision", 0, "tail-aggregation `precision` in [0,1); 0 disables peeling")
	flagVerbose := flag.Bool("v", false, "print a line per emitted snapshot")
	flag.Parse()
	if *flagBase == "" || flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	opts := []heapprof.DigestOption{heapprof.WithDigestPrecision(*flagPrecision)}
	if *flagVerbose {
		opts = append(opts, heapprof.WithDigestProgress(os.Stderr))
	}

	// SIGINT cancels cleanly: BuildDigest finalizes whatever it has
	// accumulated rather than leaving a half-written .hpc.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	opts = append(opts, heapprof.WithCancel(func() bool {
		return ctx.Err() != nil
	}))

	start := time.Now()
	err := heapprof.BuildDigest(*flagBase, *flagInterval, opts...)
	if err != nil && err != heapprof.ErrCancelled {
		log.Fatal(err)
	}
	if err == heapprof.ErrCancelled {
		fmt.Fprintf(os.Stderr, "digest cancelled after %v; partial digest kept\n", time.Since(start))
		return
	}
	fmt.Fprintf(os.Stderr, "wrote %s.hpc in %v\n", *flagBase, time.Since(start))
}
