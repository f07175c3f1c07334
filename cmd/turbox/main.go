// Command turbox serves a JavaScript entry script over HTTP.
//
// The entry script registers routes through require('turbox') and may
// pick the bind address and worker count with the server object.
// Settings are layered, highest first: command-line flags, TURBOX_*
// environment variables, the configuration file, the entry script and
// the built-in defaults.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/cryguy/turbox"
	"github.com/cryguy/turbox/internal/config"
	"github.com/cryguy/turbox/internal/server"
	"go.uber.org/zap"
)

const appName = "turbox"

// Version is set at link time with -X main.Version.
var Version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if cli.Version {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger, err := setupLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	turbox.SetLogger(logger)

	bridge, err := turbox.New(turbox.Config{
		Workers:         cfg.Server.Workers,
		MemoryLimitMB:   cfg.Runtime.MemoryLimitMB,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		WorkDir:         cfg.Runtime.WorkDir,
		SearchPath:      cfg.Runtime.SearchPath,
		CheckExtensions: cfg.Runtime.CheckExtensions,
		DatabasePath:    cfg.Runtime.Database,
	}, turbox.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = bridge.Close() }()

	settings, err := bridge.LoadEntry(cli.Entry)
	if err != nil {
		return fmt.Errorf("loading %s: %w", cli.Entry, err)
	}
	mergeScript(&cfg.Server, settings)
	applyServerFlags(cli, &cfg.Server)

	if cli.Routes {
		return printRoutes(stdout, bridge.Routes())
	}
	if cli.Validate {
		logger.Info("configuration and entry script are valid", zap.Int("routes", len(bridge.Routes())))
		return nil
	}
	if !settings.Run {
		logger.Debug("entry script did not call server.run(), serving anyway")
	}

	if err := bridge.Start(); err != nil {
		return err
	}
	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		MaxConnections:  cfg.Server.MaxConnections,
		Backlog:         cfg.Server.Backlog,
		KeepAlive:       cfg.Server.KeepAlive,
		Compression:     cfg.Server.Compression,
		H2C:             cfg.Server.H2C,
		MetricsPath:     cfg.Server.MetricsPath,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, bridge, bridge.Gatherer(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		zap.String("entry", cli.Entry),
		zap.String("addr", server.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}.Addr()),
		zap.Int("workers", bridge.Config().Workers))
	return srv.Run(ctx)
}

// loadConfig reads the file, applies the environment and the flags that
// must be known before the bridge exists.
func loadConfig(cli *cliConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if cli.given("workers") {
		cfg.Server.Workers = cli.Workers
	}
	if cli.given("workdir") {
		cfg.Runtime.WorkDir = cli.WorkDir
	}
	if cli.given("db") {
		cfg.Runtime.Database = cli.Database
	}
	if cli.given("log-level") {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.given("log-format") {
		cfg.Log.Format = cli.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// mergeScript takes what the entry script asked for wherever the file and
// environment left the built-in default in place. Workers are handled by
// the bridge.
func mergeScript(dst *config.ServerConfig, s *turbox.ServerSettings) {
	def := config.Default().Server
	if s.IsSet("host") && dst.Host == def.Host {
		dst.Host = s.Host
	}
	if s.IsSet("port") && dst.Port == def.Port {
		dst.Port = s.Port
	}
	if s.IsSet("max_connections") && dst.MaxConnections == def.MaxConnections {
		dst.MaxConnections = s.MaxConnections
	}
	if s.IsSet("backlog") && dst.Backlog == def.Backlog {
		dst.Backlog = s.Backlog
	}
	if s.IsSet("keep_alive") && dst.KeepAlive == def.KeepAlive {
		dst.KeepAlive = s.KeepAlive
	}
}

func applyServerFlags(cli *cliConfig, dst *config.ServerConfig) {
	if cli.given("host") {
		dst.Host = cli.Host
	}
	if cli.given("port") {
		dst.Port = cli.Port
	}
}

func printRoutes(w io.Writer, routes []turbox.Route) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "METHOD\tPATH\tHANDLER")
	for _, r := range routes {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Method, r.Path, r.Key)
	}
	return tw.Flush()
}
