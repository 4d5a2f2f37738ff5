package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/mdpeek/mdpeek/pkg/linemap"
)

// MarkdownInput is the payload for the markdown renderer.
type MarkdownInput struct {
	Source string `json:"source"`
}

// MarkdownRenderer converts GFM markdown to HTML. Each top-level block is
// wrapped in a div carrying a stable block id, and the renderer reports the
// source-line span of every block so the preview can build a line map as
// content streams in.
type MarkdownRenderer struct {
	md goldmark.Markdown
}

// NewMarkdownRenderer creates a GFM markdown renderer.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
	}
}

func (r *MarkdownRenderer) Type() string { return "markdown" }

func (r *MarkdownRenderer) ValidateInput(input json.RawMessage) error {
	if len(input) == 0 {
		return errors.New("missing input")
	}
	var params MarkdownInput
	if err := json.Unmarshal(input, &params); err != nil {
		return err
	}
	return nil
}

func (r *MarkdownRenderer) Render(ctx context.Context, input json.RawMessage, theme ThemeConfig) (*Result, error) {
	var params MarkdownInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("unmarshal markdown input: %w", err)
	}

	source := []byte(params.Source)
	doc := r.md.Parser().Parse(text.NewReader(source))
	lineStarts := computeLineStarts(source)

	var buf bytes.Buffer
	var blocks []linemap.Span
	lastLine := 1.0

	index := 0
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		blockID := fmt.Sprintf("block-%d", index)
		index++

		startLine, endLine := lastLine, lastLine
		if lo, hi, ok := nodeByteRange(node); ok {
			startLine = float64(lineForOffset(lineStarts, lo))
			endLine = float64(lineForOffset(lineStarts, hi-1))
			lastLine = endLine
		}

		var nodeBuf bytes.Buffer
		if err := r.md.Renderer().Render(&nodeBuf, source, node); err != nil {
			return nil, fmt.Errorf("render block %s: %w", blockID, err)
		}

		fmt.Fprintf(&buf, "<div class=\"md-block\" data-block-id=%q>", blockID)
		buf.Write(nodeBuf.Bytes())
		buf.WriteString("</div>\n")

		blocks = append(blocks, linemap.Span{
			BlockID:   blockID,
			StartLine: startLine,
			EndLine:   endLine,
		})
	}

	return &Result{HTML: buf.String(), Blocks: blocks}, nil
}

// nodeByteRange finds the byte extent of a block node's source text,
// descending into children because container nodes (lists, quotes) carry no
// lines of their own.
func nodeByteRange(node ast.Node) (int, int, bool) {
	lo, hi := -1, -1
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		lines := n.Lines()
		if lines == nil || lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		start := lines.At(0).Start
		stop := lines.At(lines.Len() - 1).Stop
		if lo == -1 || start < lo {
			lo = start
		}
		if stop > hi {
			hi = stop
		}
		return ast.WalkContinue, nil
	})
	if lo == -1 {
		return 0, 0, false
	}
	return lo, hi, true
}

// computeLineStarts returns the byte offset of each line start, first line
// included.
func computeLineStarts(source []byte) []int {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' && i+1 < len(source) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineForOffset maps a byte offset to a 1-based line number.
func lineForOffset(lineStarts []int, offset int) int {
	if offset < 0 {
		offset = 0
	}
	return sort.Search(len(lineStarts), func(i int) bool {
		return lineStarts[i] > offset
	})
}

// BuildIndex folds block spans into a line-map index.
func BuildIndex(blocks []linemap.Span) *linemap.Index {
	ix := linemap.NewIndex()
	for _, span := range blocks {
		ix.Add(span)
	}
	return ix
}
