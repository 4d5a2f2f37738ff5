package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdpeek/mdpeek/pkg/config"
	"github.com/mdpeek/mdpeek/pkg/renderhost"
	"github.com/mdpeek/mdpeek/pkg/transport"
)

// runWorker serves render requests over stdin/stdout until the parent closes
// the pipe or sends a signal.
func runWorker(cfg *config.Config, log *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	fs.Parse(args)

	reg, err := newRegistry()
	if err != nil {
		log.Error("build renderer registry", "error", err)
		return 1
	}

	pipe := transport.NewPipe(os.Stdin, os.Stdout)
	worker := renderhost.ServeWorker(pipe, reg, renderhost.WorkerOptions{
		Source: "mdpeek-worker",
		Logger: log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker ready on stdio")
	<-ctx.Done()

	if err := worker.Close(); err != nil {
		log.Warn("worker close", "error", err)
	}
	return 0
}
