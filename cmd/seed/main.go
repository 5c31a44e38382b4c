// Seed program: creates a sample store with a few variables.
// Run: go run ./cmd/seed
// Then inspect: go run ./cmd/inspect_store sample/seed.db sample/seed.wal
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	storageengine "nsfslite/storage_engine"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

type options struct {
	Dir   string `long:"dir" default:"sample" description:"Directory to create the store in"`
	Ints  int    `long:"ints" default:"10000" description:"Number of uint32 values in \"data\""`
	Fresh bool   `long:"fresh" description:"Remove an existing store first"`
	storageengine.Options
}

const text = "The quick brown fox jumps over the lazy dog. "

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	mainPath := filepath.Join(opts.Dir, "seed.db")
	walPath := filepath.Join(opts.Dir, "seed.wal")
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		log.Fatalf("mkdir: %v", err)
	}
	if opts.Fresh {
		os.Remove(mainPath)
		os.Remove(walPath)
	}

	conn, err := storageengine.Open(mainPath, walPath, opts.Options)
	if err != nil {
		log.Fatalf("open: %v", err)
	}

	// "data": little-endian uint32 counters, appended in chunks.
	data, err := conn.Create("data")
	if err != nil {
		log.Fatalf("create data: %v", err)
	}
	chunk := make([]byte, 0, 4*1024)
	for i := 0; i < opts.Ints; i++ {
		chunk = binary.LittleEndian.AppendUint32(chunk, uint32(i))
		if len(chunk) == cap(chunk) || i == opts.Ints-1 {
			n, _ := data.Len()
			if err := data.Insert(int64(n), chunk); err != nil {
				log.Fatalf("insert data: %v", err)
			}
			chunk = chunk[:0]
		}
	}

	// "text": built from the middle out, then every fifth byte upper-cased.
	greeting, err := conn.Create("text")
	if err != nil {
		log.Fatalf("create text: %v", err)
	}
	for i := 0; i < 20; i++ {
		n, _ := greeting.Len()
		if err := greeting.Insert(int64(n/2), []byte(text)); err != nil {
			log.Fatalf("insert text: %v", err)
		}
	}
	n, _ := greeting.Len()
	stride := storageengine.Stride{Start: 0, Step: 5, Count: int64((n + 4) / 5)}
	start, stop, step := stride.Bounds()
	b, err := greeting.Read(start, stop, step)
	if err != nil {
		log.Fatalf("read text: %v", err)
	}
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	if err := greeting.WriteStride(stride, b); err != nil {
		log.Fatalf("write text: %v", err)
	}

	// One transaction: move the first kilobyte of "data" into "scratch".
	err = conn.Update(context.Background(), func(tx *storageengine.Transaction) error {
		scratch, err := tx.Create("scratch")
		if err != nil {
			return err
		}
		moved, err := tx.Remove(data.ID(), 0, 1024, 1, true)
		if err != nil {
			return err
		}
		return tx.Insert(scratch.ID(), 0, moved)
	})
	if err != nil {
		log.Fatalf("move: %v", err)
	}

	// An aborted transaction leaves nothing behind.
	tx, err := conn.Begin(context.Background())
	if err != nil {
		log.Fatalf("begin: %v", err)
	}
	if _, err := tx.Create("abandoned"); err != nil {
		log.Fatalf("create abandoned: %v", err)
	}
	if err := tx.Abort(); err != nil {
		log.Fatalf("abort: %v", err)
	}

	if err := conn.Checkpoint(context.Background()); err != nil {
		log.Fatalf("checkpoint: %v", err)
	}
	entries, err := conn.List()
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	for _, e := range entries {
		fmt.Printf("  %-8s id=%d %s\n", e.Name, e.ID, humanize.IBytes(e.Length))
	}
	stats, err := conn.Stat()
	if err != nil {
		log.Fatalf("stat: %v", err)
	}
	if err := conn.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}

	fmt.Printf("Done. %s in %s blocks of %s; WAL %s.\n",
		humanize.IBytes(stats.Blocks*uint64(stats.BlockSize)),
		humanize.Comma(int64(stats.Blocks)),
		humanize.IBytes(uint64(stats.BlockSize)),
		humanize.IBytes(uint64(stats.WALBytes)))
	fmt.Printf("Inspect with: go run ./cmd/inspect_store %s %s\n", mainPath, walPath)
}
