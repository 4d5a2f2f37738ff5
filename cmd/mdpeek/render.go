package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mdpeek/mdpeek/pkg/config"
	"github.com/mdpeek/mdpeek/pkg/render"
)

// runRender renders one file to HTML and prints it. Debugging aid for the
// render pipeline; the preview path goes through serve.
func runRender(cfg *config.Config, log *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	out := fs.String("out", "", "write HTML to file instead of stdout")
	blocks := fs.Bool("blocks", false, "print block line spans to stderr")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: render requires exactly one file argument")
		return 2
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error("read document", "path", path, "error", err)
		return 1
	}

	reg, err := newRegistry()
	if err != nil {
		log.Error("build renderer registry", "error", err)
		return 1
	}

	input, err := json.Marshal(render.MarkdownInput{Source: string(data)})
	if err != nil {
		log.Error("marshal input", "error", err)
		return 1
	}

	result, err := reg.Render(context.Background(), "markdown", input, themeFromConfig(cfg))
	if err != nil {
		log.Error("render failed", "path", path, "error", err)
		return 1
	}

	if *blocks {
		for _, b := range result.Blocks {
			fmt.Fprintf(os.Stderr, "%s\tlines %g-%g\n", b.BlockID, b.StartLine, b.EndLine)
		}
	}

	if *out != "" {
		if err := os.WriteFile(*out, []byte(result.HTML), 0o644); err != nil {
			log.Error("write output", "path", *out, "error", err)
			return 1
		}
		return 0
	}
	fmt.Print(result.HTML)
	return 0
}
