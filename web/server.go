// Package web serves Drive Docket to browsers: a single page rendered from
// the session state, form actions, a small JSON API and a websocket pushing
// the state on every change.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/etnz/docket/docketapp"
	"github.com/etnz/docket/identity"
	"github.com/etnz/docket/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Options configures a Server.
type Options struct {
	// RedirectURL is the public URL of the /oauth2/callback route.
	RedirectURL string
	// Session is the base configuration of every user session. Identity and
	// RedirectURL are set by the server.
	Session docketapp.SessionOptions
	// IdleTimeout is how long a session without requests is kept.
	// Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// DefaultIdleTimeout is the lifetime of an unused session.
const DefaultIdleTimeout = 30 * time.Minute

// sessionEntry is a retained session. active counts the requests using it,
// open websockets included.
type sessionEntry struct {
	sess     *docketapp.Session
	active   int
	lastUsed time.Time
}

// Server is the HTTP surface of Drive Docket. It keeps one session per
// anonymous identity.
type Server struct {
	app       *docketapp.App
	opts      Options
	router    chi.Router
	templates *template.Template

	ctx    context.Context
	cancel context.CancelFunc

	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// New creates a new server.
func New(app *docketapp.App, opts Options) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatTime": formatTime,
		"snippet":    snippet,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		app:       app,
		opts:      opts,
		templates: tmpl,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		sessions:  make(map[string]*sessionEntry),
	}
	s.setupRoutes()
	go s.evictLoop()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.withIdentity)
	r.Use(s.withSession)

	// Pages and form actions.
	r.Get("/", s.handleHome)
	r.Post("/connect", s.handleConnect)
	r.Get("/oauth2/callback", s.handleCallback)
	r.Post("/fetch", s.handleFetch)
	r.Post("/preview/clear", s.handleClearPreview)
	r.Post("/documents/close", s.handleCloseDocument)
	r.Get("/documents/{id}", s.handleViewDocument)
	r.Post("/documents/{id}/delete", s.handleDeleteDocument)

	// API.
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/documents", s.handleDocuments)
	})
	r.Get("/ws", s.handleWebsocket)

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Sugar.Infow("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// session returns the session attached by withSession.
func (s *Server) session(r *http.Request) *docketapp.Session {
	return r.Context().Value(sessionKey).(*docketapp.Session)
}

// acquire returns the session of the request identity and the function
// releasing it. Only identities the browser sent back are kept: a request
// signing in, or failing to, gets a session closed at the end of the
// request.
func (s *Server) acquire(r *http.Request) (*docketapp.Session, func()) {
	res := identityFrom(r.Context())
	if res.err != nil || res.ident.UserID == "" || res.fresh {
		ident, err := res.ident, res.err
		if err == nil && ident.UserID == "" {
			err = identity.ErrInvalidToken
		}
		sess := s.newSession(func(context.Context) (identity.Identity, error) { return ident, err })
		sess.Start(r.Context())
		_ = sess.WaitReady(r.Context())
		return sess, sess.Close
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[res.ident.UserID]
	if !ok {
		ident := res.ident
		sess := s.newSession(func(context.Context) (identity.Identity, error) { return ident, nil })
		sess.Start(s.ctx)
		e = &sessionEntry{sess: sess}
		s.sessions[ident.UserID] = e
	}
	e.active++
	e.lastUsed = s.now()
	return e.sess, func() {
		s.mu.Lock()
		e.active--
		e.lastUsed = s.now()
		s.mu.Unlock()
	}
}

func (s *Server) evictLoop() {
	ticker := time.NewTicker(s.opts.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.ctx.Done():
			return
		}
	}
}

// evictIdle closes the sessions unused for longer than the idle timeout.
func (s *Server) evictIdle() int {
	now := s.now()
	var idle []*docketapp.Session
	s.mu.Lock()
	for uid, e := range s.sessions {
		if e.active == 0 && now.Sub(e.lastUsed) > s.opts.IdleTimeout {
			idle = append(idle, e.sess)
			delete(s.sessions, uid)
		}
	}
	s.mu.Unlock()
	for _, sess := range idle {
		sess.Close()
	}
	if len(idle) > 0 {
		logger.Sugar.Debugw("evicted idle sessions", "count", len(idle))
	}
	return len(idle)
}

func (s *Server) newSession(ident func(context.Context) (identity.Identity, error)) *docketapp.Session {
	opts := s.opts.Session
	opts.Identity = ident
	opts.Tokens = nil
	if s.opts.RedirectURL != "" {
		opts.RedirectURL = s.opts.RedirectURL
	}
	return s.app.NewSession(opts)
}

// Close stops every session.
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()
	for _, e := range sessions {
		e.sess.Close()
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "pending"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// snippet returns the first n runes of s.
func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
