// Command heapprofdump prints the contents of a {.hpm,.hpd} pair:
// the metadata header, the raw traces, and the event stream.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ianlancetaylor/demangle"

	"github.com/humu/go-heapprof/heapprof"
)

func main() {
	flagBase := flag.String("i", "", "input file `base` (reads base.hpm and base.hpd)")
	flag.Parse()
	if *flagBase == "" || flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	metaFile, err := os.Open(*flagBase + ".hpm")
	if err != nil {
		log.Fatal(err)
	}
	defer metaFile.Close()

	meta, err := heapprof.ReadMetadata(metaFile)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("start time: %v\n", meta.StartTime)
	fmt.Printf("sampling table:\n")
	for _, r := range meta.SamplingTable {
		fmt.Printf("  max_bytes=%d probability=%v\n", r.MaxBytes, r.Probability)
	}

	fmt.Printf("raw traces:\n")
	traceIndex := 1
	for {
		frames, err := heapprof.ReadRawTraceTopDown(metaFile)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("  #%d:\n", traceIndex)
		for _, f := range frames {
			// A frame's filename is ordinarily a source path, but a host
			// embedding a C/C++ runtime can surface a mangled symbol here
			// instead; demangle
			// it on a best-effort basis, leaving anything else untouched.
			fmt.Printf("    %s:%d\n", demangle.Filter(f.Filename), f.Line)
		}
		traceIndex++
	}

	dataFile, err := os.Open(*flagBase + ".hpd")
	if err != nil {
		log.Fatal(err)
	}
	defer dataFile.Close()

	fmt.Printf("events:\n")
	for {
		ev, err := heapprof.ReadEvent(dataFile)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		op := "malloc"
		if ev.IsFree {
			op = "free"
		}
		fmt.Printf("  +%v trace=%d %s size=%d\n", ev.Delta, ev.TraceIndex, op, ev.Size)
	}
}
