package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	storageengine "nsfslite/storage_engine"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
)

// stdout receives command output.
var stdout io.Writer = os.Stdout

// addVariableCommands registers the commands shared by the program and the
// shell.
func addVariableCommands(parser *flags.Parser) {
	parser.AddCommand("create", "Create an empty variable", "", &cmdCreate{})
	parser.AddCommand("delete", "Delete a variable", "", &cmdDelete{})
	parser.AddCommand("len", "Print the length of a variable", "", &cmdLen{})
	parser.AddCommand("insert", "Insert bytes into a variable", `
insert puts DATA before --offset, or appends it when the offset is -1.
`, &cmdInsert{})
	parser.AddCommand("read", "Read bytes of a variable", `
read prints the bytes at positions start, start+step, ... below stop.
A stop of -1 reads to the end.
`, &cmdRead{})
	parser.AddCommand("write", "Overwrite bytes of a variable", `
write replaces the positions start, start+step, ... with the bytes of DATA,
one byte per position.
`, &cmdWrite{})
	parser.AddCommand("remove", "Remove bytes from a variable", `
remove deletes the positions start, start+step, ... below stop as one edit.
A stop of -1 removes to the end.
`, &cmdRemove{})
	parser.AddCommand("list", "List variables", "", &cmdList{})
	parser.AddCommand("stat", "Print store statistics", "", &cmdStat{})
	parser.AddCommand("checkpoint", "Fold the WAL into the main store", "", &cmdCheckpoint{})
}

type nameArg struct {
	Name string `positional-arg-name:"NAME" required:"yes"`
}

type dataArgs struct {
	Name string `positional-arg-name:"NAME" required:"yes"`
	Data string `positional-arg-name:"DATA" required:"yes"`
}

// HexOption switches DATA and printed bytes to hex.
type HexOption struct {
	Hex bool `long:"hex" description:"DATA and output are hex encoded"`
}

func (e HexOption) decode(s string) ([]byte, error) {
	if e.Hex {
		return hex.DecodeString(s)
	}
	return []byte(s), nil
}

func (e HexOption) print(b []byte) {
	if e.Hex {
		fmt.Fprint(stdout, hex.Dump(b))
		return
	}
	stdout.Write(b)
	fmt.Fprintln(stdout)
}

// resolveEnd maps a stop of -1 to the variable's length.
func resolveEnd(v *storageengine.Variable, stop int64) (int64, error) {
	if stop != -1 {
		return stop, nil
	}
	n, err := v.Len()
	return int64(n), err
}

type cmdCreate struct {
	Args nameArg `positional-args:"yes"`
}

func (cmd *cmdCreate) Execute([]string) error {
	return withConnection(func(c *storageengine.Connection) error {
		v, err := c.Create(cmd.Args.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "created %q (id %d)\n", v.Name(), v.ID())
		return nil
	})
}

type cmdDelete struct {
	Args nameArg `positional-args:"yes"`
}

func (cmd *cmdDelete) Execute([]string) error {
	return withConnection(func(c *storageengine.Connection) error {
		return c.Delete(cmd.Args.Name)
	})
}

type cmdLen struct {
	Args nameArg `positional-args:"yes"`
}

func (cmd *cmdLen) Execute([]string) error {
	return withConnection(func(c *storageengine.Connection) error {
		v, err := c.Get(cmd.Args.Name)
		if err != nil {
			return err
		}
		n, err := v.Len()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, n)
		return nil
	})
}

type cmdInsert struct {
	HexOption
	Offset int64    `long:"offset" short:"o" default:"-1" description:"Position to insert before; -1 appends"`
	Args   dataArgs `positional-args:"yes"`
}

func (cmd *cmdInsert) Execute([]string) error {
	data, err := cmd.decode(cmd.Args.Data)
	if err != nil {
		return err
	}
	return withConnection(func(c *storageengine.Connection) error {
		v, err := c.Get(cmd.Args.Name)
		if err != nil {
			return err
		}
		offset, err := resolveEnd(v, cmd.Offset)
		if err != nil {
			return err
		}
		return v.Insert(offset, data)
	})
}

type cmdRead struct {
	HexOption
	Start int64   `long:"start" default:"0" description:"First position"`
	Stop  int64   `long:"stop" default:"-1" description:"Exclusive bound; -1 is the end"`
	Step  int64   `long:"step" default:"1" description:"Distance between positions"`
	Args  nameArg `positional-args:"yes"`
}

func (cmd *cmdRead) Execute([]string) error {
	return withConnection(func(c *storageengine.Connection) error {
		v, err := c.Get(cmd.Args.Name)
		if err != nil {
			return err
		}
		stop, err := resolveEnd(v, cmd.Stop)
		if err != nil {
			return err
		}
		b, err := v.Read(cmd.Start, stop, cmd.Step)
		if err != nil {
			return err
		}
		cmd.print(b)
		return nil
	})
}

type cmdWrite struct {
	HexOption
	Start int64    `long:"start" default:"0" description:"First position"`
	Step  int64    `long:"step" default:"1" description:"Distance between positions"`
	Args  dataArgs `positional-args:"yes"`
}

func (cmd *cmdWrite) Execute([]string) error {
	data, err := cmd.decode(cmd.Args.Data)
	if err != nil {
		return err
	}
	return withConnection(func(c *storageengine.Connection) error {
		v, err := c.Get(cmd.Args.Name)
		if err != nil {
			return err
		}
		return v.WriteStride(storageengine.Stride{Start: cmd.Start, Step: cmd.Step, Count: int64(len(data))}, data)
	})
}

type cmdRemove struct {
	HexOption
	Start int64   `long:"start" default:"0" description:"First position"`
	Stop  int64   `long:"stop" default:"-1" description:"Exclusive bound; -1 is the end"`
	Step  int64   `long:"step" default:"1" description:"Distance between positions"`
	Print bool    `long:"print" short:"p" description:"Print the removed bytes"`
	Args  nameArg `positional-args:"yes"`
}

func (cmd *cmdRemove) Execute([]string) error {
	return withConnection(func(c *storageengine.Connection) error {
		v, err := c.Get(cmd.Args.Name)
		if err != nil {
			return err
		}
		stop, err := resolveEnd(v, cmd.Stop)
		if err != nil {
			return err
		}
		removed, err := v.Remove(cmd.Start, stop, cmd.Step, cmd.Print)
		if err != nil {
			return err
		}
		if cmd.Print {
			cmd.print(removed)
		}
		return nil
	})
}

type cmdList struct{}

func (cmdList) Execute([]string) error {
	return withConnection(func(c *storageengine.Connection) error {
		entries, err := c.List()
		if err != nil {
			return err
		}
		var table = tablewriter.NewWriter(stdout)
		table.Header("ID", "Name", "Length")
		for _, e := range entries {
			if err := table.Append(strconv.FormatUint(e.ID, 10), e.Name, humanize.IBytes(e.Length)); err != nil {
				return err
			}
		}
		return table.Render()
	})
}

type cmdStat struct{}

func (cmdStat) Execute([]string) error {
	return withConnection(func(c *storageengine.Connection) error {
		s, err := c.Stat()
		if err != nil {
			return err
		}
		var table = tablewriter.NewWriter(stdout)
		table.Header("Stat", "Value")
		err = table.Bulk([][]string{
			{"Main", s.MainPath},
			{"WAL", s.WALPath},
			{"Block size", humanize.IBytes(uint64(s.BlockSize))},
			{"Blocks", fmt.Sprintf("%s (%s)", humanize.Comma(int64(s.Blocks)), humanize.IBytes(s.Blocks*uint64(s.BlockSize)))},
			{"Free blocks", humanize.Comma(int64(s.FreeBlocks))},
			{"Pending blocks", humanize.Comma(int64(s.PendingBlocks))},
			{"Dirty blocks", humanize.Comma(int64(s.DirtyBlocks))},
			{"Cache hits / misses", humanize.Comma(int64(s.CacheHits)) + " / " + humanize.Comma(int64(s.CacheMisses))},
			{"WAL size", humanize.IBytes(uint64(s.WALBytes))},
			{"Checkpoint LSN", strconv.FormatUint(s.CheckpointLSN, 10)},
			{"Next LSN", strconv.FormatUint(s.NextLSN, 10)},
			{"Variables", humanize.Comma(int64(s.Variables))},
		})
		if err != nil {
			return err
		}
		return table.Render()
	})
}

type cmdCheckpoint struct{}

func (cmdCheckpoint) Execute([]string) error {
	return withConnection(func(c *storageengine.Connection) error {
		return c.Checkpoint(context.Background())
	})
}
