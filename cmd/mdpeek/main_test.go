package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdpeek/mdpeek/pkg/channel"
	"github.com/mdpeek/mdpeek/pkg/config"
	"github.com/mdpeek/mdpeek/pkg/render"
)

func TestNewRegistryHasBothRenderers(t *testing.T) {
	reg, err := newRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{"code", "markdown"}, reg.Types())
}

func TestThemeFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Render.Theme = "solar"
	cfg.Render.CodeStyle = "dracula"
	cfg.Render.Dark = true

	theme := themeFromConfig(cfg)
	assert.Equal(t, render.ThemeConfig{Name: "solar", CodeStyle: "dracula", Dark: true}, theme)
}

func TestRunRenderWritesHTML(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.md")
	out := filepath.Join(dir, "doc.html")
	require.NoError(t, os.WriteFile(doc, []byte("# Hi\n\nbody text\n"), 0o644))

	cfg := config.DefaultConfig()
	code := runRender(cfg, newLogger(os.Stderr, "error", "render"), []string{"-out", out, doc})
	require.Equal(t, 0, code)

	html, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>Hi</h1>")
	assert.Contains(t, string(html), `data-block-id="block-1"`)
}

func TestRunRenderMissingFile(t *testing.T) {
	cfg := config.DefaultConfig()
	code := runRender(cfg, newLogger(os.Stderr, "error", "render"), []string{filepath.Join(t.TempDir(), "absent.md")})
	assert.Equal(t, 1, code)
}

func TestRenderDocumentReadsCurrentContent(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "served.md")
	require.NoError(t, os.WriteFile(doc, []byte("first version\n"), 0o644))

	reg, err := newRegistry()
	require.NoError(t, err)
	srv := &previewServer{
		cfg:      config.DefaultConfig(),
		reg:      reg,
		log:      newLogger(os.Stderr, "error", "serve"),
		docPath:  doc,
		sessions: make(map[string]*channel.Channel),
	}

	res, err := srv.renderDocument(context.Background(), render.ThemeConfig{})
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "first version")

	require.NoError(t, os.WriteFile(doc, []byte("second version\n"), 0o644))
	res, err = srv.renderDocument(context.Background(), render.ThemeConfig{})
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "second version")

	srv.docPath = filepath.Join(dir, "gone.md")
	_, err = srv.renderDocument(context.Background(), render.ThemeConfig{})
	var ce *channel.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "DOC_UNREADABLE", ce.Code)
}
