package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// CodeInput is the payload for the code renderer.
type CodeInput struct {
	Source   string `json:"source"`
	Language string `json:"language,omitempty"`
}

// CodeRenderer highlights a source snippet as standalone HTML. Unknown
// languages fall back to plain-text tokenization rather than failing the
// request.
type CodeRenderer struct{}

func NewCodeRenderer() *CodeRenderer { return &CodeRenderer{} }

func (r *CodeRenderer) Type() string { return "code" }

func (r *CodeRenderer) ValidateInput(input json.RawMessage) error {
	if len(input) == 0 {
		return errors.New("missing input")
	}
	var params CodeInput
	if err := json.Unmarshal(input, &params); err != nil {
		return err
	}
	return nil
}

func (r *CodeRenderer) Render(ctx context.Context, input json.RawMessage, theme ThemeConfig) (*Result, error) {
	var params CodeInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("unmarshal code input: %w", err)
	}

	lexer := lexers.Get(params.Language)
	if lexer == nil {
		lexer = lexers.Analyse(params.Source)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get(theme.CodeStyle)
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, params.Source)
	if err != nil {
		return nil, fmt.Errorf("tokenise: %w", err)
	}

	var buf bytes.Buffer
	formatter := chromahtml.New(chromahtml.WithLineNumbers(false))
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}
	return &Result{HTML: buf.String()}, nil
}
