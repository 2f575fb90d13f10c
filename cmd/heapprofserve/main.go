// Command heapprofserve starts a read-only HTTP server over a single
// .hpc digest file, exposing its metadata and snapshots as JSON.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/humu/go-heapprof/heapprofsrv"
)

func main() {
	flagDigest := flag.String("digest", "", "path to the `.hpc` digest file to serve")
	flagAddr := flag.String("addr", "localhost:8081", "listen `address`")
	flag.Parse()
	if *flagDigest == "" || flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	srv, err := heapprofsrv.Open(*flagDigest)
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Close()

	log.Printf("serving %s on %s", *flagDigest, *flagAddr)
	log.Fatal(http.ListenAndServe(*flagAddr, srv.Routes()))
}
