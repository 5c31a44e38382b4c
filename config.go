package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// configPath names the INI file read before the environment and flags.
// NSFSLITE_CONFIG overrides the default, and then the file must exist.
func configPath() (path string, required bool) {
	if p := os.Getenv("NSFSLITE_CONFIG"); p != "" {
		return p, true
	}
	return iniFilename, false
}

// loadINI applies an INI file to the parser's options. Sections the parser
// doesn't know are skipped.
func loadINI(parser *flags.Parser, path string, required bool) error {
	saved := parser.Options
	parser.Options |= flags.IgnoreUnknown
	defer func() { parser.Options = saved }()

	err := flags.NewIniParser(parser).ParseFile(path)
	if os.IsNotExist(err) && !required {
		return nil
	}
	return errors.WithMessagef(err, "config %s", path)
}

// exitCode maps the result of ParseArgs to a process status. go-flags has
// already printed the error.
func exitCode(parser *flags.Parser, err error) int {
	if err == nil {
		return 0
	}
	var flagErr *flags.Error
	if !errors.As(err, &flagErr) {
		return 1
	}
	switch flagErr.Type {
	case flags.ErrHelp:
		return 0
	case flags.ErrCommandRequired:
		parser.WriteHelp(os.Stderr)
		return 2
	default:
		return 2
	}
}

type cmdPrintConfig struct {
	parser *flags.Parser
}

// Execute writes the configuration after the INI file, environment and flags
// were applied, in a form loadINI reads back.
func (cmd cmdPrintConfig) Execute([]string) error {
	flags.NewIniParser(cmd.parser).Write(stdout, flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
