package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"github.com/mdpeek/mdpeek/pkg/channel"
	"github.com/mdpeek/mdpeek/pkg/config"
	"github.com/mdpeek/mdpeek/pkg/docwatch"
	"github.com/mdpeek/mdpeek/pkg/render"
	"github.com/mdpeek/mdpeek/pkg/renderhost"
	"github.com/mdpeek/mdpeek/pkg/transport"
)

// TypeDocumentUpdated is pushed to every connected client when the served
// document changes on disk.
const TypeDocumentUpdated = "DOCUMENT_UPDATED"

// TypeLoadDocument asks the server for the served document rendered from its
// current on-disk content.
const TypeLoadDocument = "LOAD_DOCUMENT"

type documentUpdate struct {
	Path    string `json:"path"`
	Change  string `json:"change"`
	ModTime int64  `json:"modTime,omitempty"`
}

type loadDocumentResult struct {
	Path string `json:"path"`
	*render.Result
}

type previewServer struct {
	cfg     *config.Config
	reg     *render.Registry
	log     *slog.Logger
	docPath string

	mu       sync.Mutex
	sessions map[string]*channel.Channel
}

func runServe(cfg *config.Config, log *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	docPath := fs.String("doc", "", "markdown document to serve")
	bind := fs.String("bind", "", "listen address (overrides config)")
	fs.Parse(args)

	if *docPath == "" {
		fmt.Fprintln(os.Stderr, "Error: serve requires -doc <file>")
		return 2
	}
	abs, err := filepath.Abs(*docPath)
	if err != nil {
		log.Error("resolve document path", "error", err)
		return 1
	}
	if _, err := os.Stat(abs); err != nil {
		log.Error("document not readable", "path", abs, "error", err)
		return 1
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}

	reg, err := newRegistry()
	if err != nil {
		log.Error("build renderer registry", "error", err)
		return 1
	}

	srv := &previewServer{
		cfg:      cfg,
		reg:      reg,
		log:      log,
		docPath:  abs,
		sessions: make(map[string]*channel.Channel),
	}

	if err := srv.run(); err != nil {
		log.Error("server failed", "error", err)
		return 1
	}
	return 0
}

func (s *previewServer) run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := docwatch.New(docwatch.Options{
		Debounce: s.cfg.WatchDebounce(),
		Logger:   s.log,
	})
	if err != nil {
		return fmt.Errorf("create document watcher: %w", err)
	}
	defer watcher.Close()

	watcher.Subscribe("", s.onDocumentChange)
	if err := watcher.Watch(s.docPath); err != nil {
		return fmt.Errorf("watch %s: %w", s.docPath, err)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/ws", s.handleWS)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	httpServer := &http.Server{
		Addr:              s.cfg.Server.Bind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.log.Info("listening", "bind", s.cfg.Server.Bind, "doc", s.docPath)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeSessions()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func (s *previewServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	wst := transport.NewWebSocket(context.Background(), conn, transport.WSOptions{
		Source: sessionID,
		Ping:   true,
	})

	ch := channel.New(wst, channel.Options{
		Timeout: s.cfg.ChannelTimeout(),
		Source:  "mdpeek-server",
		Logger:  s.log.With("session", sessionID),
	})
	s.registerHandlers(ch)

	s.mu.Lock()
	s.sessions[sessionID] = ch
	s.mu.Unlock()
	s.log.Info("client connected", "session", sessionID)

	<-wst.Done()

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	ch.Close()
	s.log.Info("client disconnected", "session", sessionID)
}

func (s *previewServer) registerHandlers(ch *channel.Channel) {
	theme := themeFromConfig(s.cfg)

	ch.Handle(renderhost.TypeRender, func(ctx context.Context, msg *channel.Message) (any, error) {
		var req renderhost.RenderRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, channel.NewError("BAD_REQUEST", "malformed render request", nil)
		}
		if req.Theme == (render.ThemeConfig{}) {
			req.Theme = theme
		}
		return s.reg.Render(ctx, req.Renderer, req.Input, req.Theme)
	})
	ch.Handle(renderhost.TypePing, func(context.Context, *channel.Message) (any, error) {
		return "PONG", nil
	})
	ch.Handle(renderhost.TypeListRenderers, func(context.Context, *channel.Message) (any, error) {
		return s.reg.Types(), nil
	})
	ch.Handle(TypeLoadDocument, func(ctx context.Context, msg *channel.Message) (any, error) {
		return s.renderDocument(ctx, theme)
	})
}

// renderDocument renders the served document from its current disk content.
func (s *previewServer) renderDocument(ctx context.Context, theme render.ThemeConfig) (*loadDocumentResult, error) {
	data, err := os.ReadFile(s.docPath)
	if err != nil {
		return nil, channel.NewError("DOC_UNREADABLE", err.Error(), nil)
	}

	input, err := json.Marshal(render.MarkdownInput{Source: string(data)})
	if err != nil {
		return nil, err
	}
	result, err := s.reg.Render(ctx, "markdown", input, theme)
	if err != nil {
		return nil, err
	}
	return &loadDocumentResult{Path: s.docPath, Result: result}, nil
}

func (s *previewServer) onDocumentChange(c docwatch.Change) {
	update := documentUpdate{
		Path:   c.Path,
		Change: string(c.Type),
	}
	if !c.ModTime.IsZero() {
		update.ModTime = c.ModTime.UnixMilli()
	}

	s.mu.Lock()
	sessions := make([]*channel.Channel, 0, len(s.sessions))
	for _, ch := range s.sessions {
		sessions = append(sessions, ch)
	}
	s.mu.Unlock()

	s.log.Debug("document changed", "path", c.Path, "change", c.Type, "clients", len(sessions))
	for _, ch := range sessions {
		if err := ch.Post(TypeDocumentUpdated, update); err != nil {
			s.log.Warn("push document update failed", "error", err)
		}
	}
}

func (s *previewServer) closeSessions() {
	s.mu.Lock()
	sessions := make([]*channel.Channel, 0, len(s.sessions))
	for _, ch := range s.sessions {
		sessions = append(sessions, ch)
	}
	s.sessions = make(map[string]*channel.Channel)
	s.mu.Unlock()

	for _, ch := range sessions {
		ch.Close()
	}
}
