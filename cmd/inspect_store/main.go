// Inspect the rope trees of a store.
// Usage: go run ./cmd/inspect_store [--preview N] <main> <wal> [variable...]
// Example: go run ./cmd/inspect_store sample/seed.db sample/seed.wal text
package main

import (
	"fmt"
	"io"
	"os"

	storageengine "nsfslite/storage_engine"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
)

type options struct {
	Preview int  `long:"preview" default:"16" description:"Bytes of each leaf to print"`
	Quiet   bool `long:"quiet" short:"q" description:"Only check the trees, do not dump them"`
	Args    struct {
		Main      string   `positional-arg-name:"MAIN" required:"yes"`
		WAL       string   `positional-arg-name:"WAL" required:"yes"`
		Variables []string `positional-arg-name:"VARIABLE"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if err := inspect(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func inspect(opts options) error {
	conn, err := storageengine.Open(opts.Args.Main, opts.Args.WAL, storageengine.Options{})
	if err != nil {
		return err
	}
	defer conn.Close()

	names := opts.Args.Variables
	if len(names) == 0 {
		entries, err := conn.List()
		if err != nil {
			return err
		}
		for _, e := range entries {
			names = append(names, e.Name)
		}
	}

	for _, name := range names {
		fmt.Printf("== %s\n", name)
		var w io.Writer = os.Stdout
		if opts.Quiet {
			w = nil
		}
		stats, err := conn.Inspect(name, w, opts.Preview)
		if err != nil {
			return err
		}
		fmt.Printf("   %s bytes, height %d, %d leaves, %d internal nodes\n",
			humanize.Comma(int64(stats.Bytes)), stats.Height, stats.Leaves, stats.InnerNodes)
	}
	return nil
}
