package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// cliConfig holds the command line. Zero values mean "not given".
type cliConfig struct {
	ConfigPath string
	Entry      string
	Host       string
	Port       int
	Workers    int
	WorkDir    string
	Database   string
	LogLevel   string
	LogFormat  string
	Validate   bool
	Routes     bool
	Version    bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*cliConfig, error) {
	cli := &cliConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cli.ConfigPath, "config", os.Getenv("TURBOX_CONFIG"), "Path to YAML configuration file (env: TURBOX_CONFIG)")
	fs.StringVar(&cli.ConfigPath, "c", os.Getenv("TURBOX_CONFIG"), "Shorthand for -config")
	fs.StringVar(&cli.Host, "host", "", "Listen host, overrides config and script")
	fs.IntVar(&cli.Port, "port", 0, "Listen port, overrides config and script")
	fs.IntVar(&cli.Workers, "workers", 0, "Worker count, overrides config and script")
	fs.StringVar(&cli.WorkDir, "workdir", "", "Module root; defaults to the current directory")
	fs.StringVar(&cli.Database, "db", "", "SQLite database backing the db binding")
	fs.StringVar(&cli.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cli.LogFormat, "log-format", "", "Log format: json, console")
	fs.BoolVar(&cli.Validate, "validate", false, "Load configuration and entry script, then exit")
	fs.BoolVar(&cli.Routes, "routes", false, "Print the registered routes and exit")
	fs.BoolVar(&cli.Version, "version", false, "Show version information")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: %s [options] <entry.js>\n\nOptions:\n", appName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cli.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { cli.set[f.Name] = true })

	if cli.Version {
		return cli, nil
	}
	switch fs.NArg() {
	case 1:
		cli.Entry = fs.Arg(0)
	case 0:
		fs.Usage()
		return nil, fmt.Errorf("missing entry script")
	default:
		return nil, fmt.Errorf("expected one entry script, got %d arguments", fs.NArg())
	}
	if cli.Port < 0 || cli.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cli.Port)
	}
	if cli.Workers < 0 {
		return nil, fmt.Errorf("invalid worker count: %d", cli.Workers)
	}
	return cli, nil
}

// given reports whether the named flag was on the command line.
func (c *cliConfig) given(name string) bool {
	return c.set[name]
}
