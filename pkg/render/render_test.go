package render

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustInput(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewMarkdownRenderer()))
	require.NoError(t, reg.Register(NewCodeRenderer()))

	assert.Equal(t, []string{"code", "markdown"}, reg.Types())

	err := reg.Register(NewCodeRenderer())
	assert.ErrorContains(t, err, "already registered")

	_, err = reg.Render(context.Background(), "mermaid", nil, ThemeConfig{})
	assert.ErrorContains(t, err, `no renderer for type "mermaid"`)
}

func TestRegistryValidatesInput(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewMarkdownRenderer()))

	_, err := reg.Render(context.Background(), "markdown", nil, ThemeConfig{})
	assert.ErrorContains(t, err, "invalid")

	_, err = reg.Render(context.Background(), "markdown", json.RawMessage(`{bad`), ThemeConfig{})
	assert.Error(t, err)
}

func TestMarkdownBlocksAndSpans(t *testing.T) {
	source := "# Title\n\nfirst paragraph\nsecond line\n\n- a\n- b\n"
	input := mustInput(t, MarkdownInput{Source: source})

	res, err := NewMarkdownRenderer().Render(context.Background(), input, ThemeConfig{})
	require.NoError(t, err)

	assert.Contains(t, res.HTML, `data-block-id="block-0"`)
	assert.Contains(t, res.HTML, `data-block-id="block-1"`)
	assert.Contains(t, res.HTML, `data-block-id="block-2"`)
	assert.Contains(t, res.HTML, "<h1>Title</h1>")
	assert.Contains(t, res.HTML, "<li>a</li>")

	require.Len(t, res.Blocks, 3)
	assert.Equal(t, "block-0", res.Blocks[0].BlockID)
	assert.Equal(t, 1.0, res.Blocks[0].StartLine)
	assert.Equal(t, 1.0, res.Blocks[0].EndLine)

	assert.Equal(t, 3.0, res.Blocks[1].StartLine)
	assert.Equal(t, 4.0, res.Blocks[1].EndLine)

	assert.Equal(t, 6.0, res.Blocks[2].StartLine)
	assert.Equal(t, 7.0, res.Blocks[2].EndLine)
}

func TestMarkdownEmptySource(t *testing.T) {
	input := mustInput(t, MarkdownInput{Source: ""})
	res, err := NewMarkdownRenderer().Render(context.Background(), input, ThemeConfig{})
	require.NoError(t, err)
	assert.Empty(t, res.Blocks)
	assert.Equal(t, "", res.HTML)
}

func TestMarkdownBuildIndex(t *testing.T) {
	source := "para one\n\npara two\n"
	input := mustInput(t, MarkdownInput{Source: source})
	res, err := NewMarkdownRenderer().Render(context.Background(), input, ThemeConfig{})
	require.NoError(t, err)

	ix := BuildIndex(res.Blocks)
	pos, ok := ix.BlockFromLine(3)
	require.True(t, ok)
	assert.Equal(t, "block-1", pos.BlockID)
}

func TestCodeHighlighting(t *testing.T) {
	input := mustInput(t, CodeInput{Source: "package main\n", Language: "go"})
	res, err := NewCodeRenderer().Render(context.Background(), input, ThemeConfig{CodeStyle: "monokai"})
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "package")
	assert.True(t, strings.Contains(res.HTML, "<pre"))
}

func TestCodeUnknownLanguageFallsBack(t *testing.T) {
	input := mustInput(t, CodeInput{Source: "???", Language: "no-such-language"})
	res, err := NewCodeRenderer().Render(context.Background(), input, ThemeConfig{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.HTML)
}
