package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mdpeek/mdpeek/pkg/config"
	"github.com/mdpeek/mdpeek/pkg/render"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	flag.Usage = usage
	configPath := flag.String("config", "", "path to config file (default: layered ~/.mdpeek + ./.mdpeek)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var exitCode int
	switch args[0] {
	case "serve":
		exitCode = runServe(cfg, newLogger(os.Stdout, *logLevel, "serve"), args[1:])
	case "worker":
		// The worker speaks the wire protocol on stdout; logs go to stderr.
		exitCode = runWorker(cfg, newLogger(os.Stderr, *logLevel, "worker"), args[1:])
	case "render":
		exitCode = runRender(cfg, newLogger(os.Stderr, *logLevel, "render"), args[1:])
	case "version":
		fmt.Printf("mdpeek %s (%s, built %s)\n", version, commit, buildDate)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		usage()
		exitCode = 2
	}
	os.Exit(exitCode)
}

func usage() {
	fmt.Fprintf(os.Stderr, `mdpeek - live markdown preview with scroll sync

Usage:
  mdpeek [flags] serve -doc <file>    start the preview server
  mdpeek [flags] worker               run a render worker on stdio
  mdpeek [flags] render <file>        render a file to HTML once
  mdpeek version                      print version information

Flags:
`)
	flag.PrintDefaults()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("MDPEEK_CONFIG")
	}
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func newLogger(w io.Writer, level, component string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "mdpeek"),
	)
}

func newRegistry() (*render.Registry, error) {
	reg := render.NewRegistry()
	if err := reg.Register(render.NewMarkdownRenderer()); err != nil {
		return nil, err
	}
	if err := reg.Register(render.NewCodeRenderer()); err != nil {
		return nil, err
	}
	return reg, nil
}

func themeFromConfig(cfg *config.Config) render.ThemeConfig {
	return render.ThemeConfig{
		Name:      cfg.Render.Theme,
		CodeStyle: cfg.Render.CodeStyle,
		Dark:      cfg.Render.Dark,
	}
}
