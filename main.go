package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	storageengine "nsfslite/storage_engine"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const iniFilename = "nsfslite.ini"

// Config is the top-level configuration object of nsfslite.
var Config = new(struct {
	Store struct {
		Main string `long:"main" env:"MAIN" default:"nsfslite.db" description:"Path of the main store file"`
		WAL  string `long:"wal" env:"WAL" default:"nsfslite.wal" description:"Path of the write-ahead log"`
		storageengine.Options
	} `group:"Store" namespace:"store" env-namespace:"NSFSLITE_STORE"`

	Log LogConfig `group:"Logging" namespace:"log" env-namespace:"NSFSLITE_LOG"`
})

// shellConn is the connection shared by commands run from the shell. One-shot
// commands open and close their own.
var shellConn *storageengine.Connection

func withConnection(fn func(c *storageengine.Connection) error) error {
	if shellConn != nil {
		return fn(shellConn)
	}
	c, err := storageengine.Open(Config.Store.Main, Config.Store.WAL, Config.Store.Options)
	if err != nil {
		return err
	}
	err = fn(c)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

type cmdShell struct{}

func (cmdShell) Execute([]string) error {
	c, err := storageengine.Open(Config.Store.Main, Config.Store.WAL, Config.Store.Options)
	if err != nil {
		return err
	}
	shellConn = c
	defer func() {
		shellConn = nil
		if err := c.Close(); err != nil {
			log.WithError(err).Error("closing store")
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	// REPL
	for {
		fmt.Print("nsfs> ")
		if !scanner.Scan() { // Ctrl+D pressed
			fmt.Println()
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}
		if line == "" {
			continue
		}

		args, err := splitLine(line)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		parser := flags.NewNamedParser("nsfs>", flags.HelpFlag|flags.PrintErrors)
		addVariableCommands(parser)
		// PrintErrors has already reported any failure.
		parser.ParseArgs(args)
	}
}

// splitLine cuts a shell line at spaces. Double-quoted words may contain
// spaces and Go escapes.
func splitLine(line string) ([]string, error) {
	var out []string
	for line = strings.TrimSpace(line); line != ""; line = strings.TrimSpace(line) {
		if line[0] != '"' {
			word, rest, _ := strings.Cut(line, " ")
			out = append(out, word)
			line = rest
			continue
		}
		end := 1
		for ; end < len(line); end++ {
			if line[end] == '\\' {
				end++
			} else if line[end] == '"' {
				break
			}
		}
		if end >= len(line) {
			return nil, errors.New("unterminated quote")
		}
		word, err := strconv.Unquote(line[:end+1])
		if err != nil {
			return nil, err
		}
		out = append(out, word)
		line = line[end+1:]
	}
	return out, nil
}

func main() {
	parser := flags.NewParser(Config, flags.Default)
	parser.LongDescription = `nsfslite stores named byte sequences ("variables") in a main store file
backed by a write-ahead log. Every command runs in its own transaction;
"shell" keeps the store open and reads commands from stdin.

Options are read from ` + iniFilename + ` (or the file named by NSFSLITE_CONFIG),
then the environment, then flags.`

	addVariableCommands(parser)
	parser.AddCommand("shell", "Run commands interactively", `
shell opens the store once and reads commands, one per line, until "exit"
or end of input. Words may be double-quoted.
`, &cmdShell{})
	parser.AddCommand("print-config", "Print the combined configuration", `
print-config writes the options in effect, in INI format.
`, &cmdPrintConfig{parser: parser})

	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if err := InitLog(Config.Log); err != nil {
			return err
		}
		return cmd.Execute(args)
	}

	path, required := configPath()
	if err := loadINI(parser, path, required); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	_, err := parser.ParseArgs(os.Args[1:])
	os.Exit(exitCode(parser, err))
}
