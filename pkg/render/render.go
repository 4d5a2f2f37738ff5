// Package render provides the renderer registry for the preview pipeline.
// Renderers are flat strategy values selected by type string; there is no
// inheritance chain. Payload shapes are stringly-typed on the wire and
// validated immediately after receipt, at the registry boundary.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mdpeek/mdpeek/pkg/linemap"
)

// ThemeConfig carries presentation settings through to renderers. The
// channel and host layers forward it without interpreting it.
type ThemeConfig struct {
	Name      string `json:"name,omitempty"`
	CodeStyle string `json:"codeStyle,omitempty"`
	Dark      bool   `json:"dark,omitempty"`
}

// Result is a renderer's output: HTML plus the source-line spans of the
// emitted blocks, when the renderer tracks them.
type Result struct {
	HTML   string         `json:"html"`
	Blocks []linemap.Span `json:"blocks,omitempty"`
}

// Renderer turns an input payload into HTML. Implementations are value-like
// and stateless; per-call state stays on the stack.
type Renderer interface {
	// Type is the registry key, e.g. "markdown" or "code".
	Type() string

	// Render produces the result for input under the given theme.
	Render(ctx context.Context, input json.RawMessage, theme ThemeConfig) (*Result, error)
}

// InputValidator is an optional renderer capability: reject malformed input
// before rendering starts.
type InputValidator interface {
	ValidateInput(input json.RawMessage) error
}

// Inliner is an optional renderer capability: inline renderers produce
// fragments meant to be embedded within a block rather than standalone
// blocks.
type Inliner interface {
	Inline() bool
}

// Registry is a strategy table of renderers keyed by type string.
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Renderer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Renderer)}
}

// Register adds a renderer. Registering a duplicate type is an error.
func (r *Registry) Register(renderer Renderer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	typ := renderer.Type()
	if _, exists := r.byType[typ]; exists {
		return fmt.Errorf("renderer %q already registered", typ)
	}
	r.byType[typ] = renderer
	return nil
}

// Lookup returns the renderer for typ.
func (r *Registry) Lookup(typ string) (Renderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	renderer, ok := r.byType[typ]
	return renderer, ok
}

// Types returns the registered renderer types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.byType))
	for typ := range r.byType {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Render validates and dispatches input to the renderer for typ.
func (r *Registry) Render(ctx context.Context, typ string, input json.RawMessage, theme ThemeConfig) (*Result, error) {
	renderer, ok := r.Lookup(typ)
	if !ok {
		return nil, fmt.Errorf("no renderer for type %q", typ)
	}
	if v, ok := renderer.(InputValidator); ok {
		if err := v.ValidateInput(input); err != nil {
			return nil, fmt.Errorf("invalid %q input: %w", typ, err)
		}
	}
	return renderer.Render(ctx, input, theme)
}
