package server

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sunbk201/clickrelay/internal/config"
	"github.com/sunbk201/clickrelay/internal/relay"
	"github.com/sunbk201/clickrelay/internal/session"
	"github.com/sunbk201/clickrelay/internal/statistics"
)

// Server hosts the landing page. Every request gets its own relay.Client.
type Server struct {
	cfg        *config.Config
	transport  relay.Transport
	ips        *relay.IPResolver
	sessions   *session.Manager
	recorder   *statistics.Recorder
	limiter    *rateLimiter
	landing    *template.Template
	handler    http.Handler
	httpServer *http.Server
}

type Option func(*Server)

// WithTransport replaces the tracker transport built from the config.
func WithTransport(t relay.Transport) Option {
	return func(s *Server) { s.transport = t }
}

// WithSessions shares a session manager, e.g. with the admin API.
func WithSessions(m *session.Manager) Option {
	return func(s *Server) { s.sessions = m }
}

func New(cfg *config.Config, recorder *statistics.Recorder, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		recorder: recorder,
	}
	for _, opt := range opts {
		opt(s)
	}

	ips, err := relay.NewIPResolver(cfg.IP.MobileProxyMarker)
	if err != nil {
		return nil, fmt.Errorf("relay.NewIPResolver: %w", err)
	}
	s.ips = ips

	if s.transport == nil {
		s.transport = relay.NewHTTPTransport(relay.TransportOptions{
			InsecureSkipVerify: cfg.Tracker.InsecureSkipVerify,
		})
	}
	if s.sessions == nil && cfg.Session.Enabled {
		store := session.NewStore(cfg.Session.MaxSessions, cfg.Session.IdleTimeout())
		s.sessions = session.NewManager(store, cfg.Session.CookieName)
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	s.landing, err = loadLanding(cfg.Landing.Template)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	if s.limiter != nil {
		r.Use(s.rateLimit)
	}
	r.Get("/*", s.handleLanding)
	r.Post("/*", s.handleLanding)
	s.handler = r

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the visitor session manager, nil when sessions are disabled.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		// one tracker exchange plus rendering
		WriteTimeout: relay.TotalTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("landing server listen failed: %w", err)
	}

	slog.Info("landing server started", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("landing server error", slog.Any("error", err))
		}
	}()

	return nil
}

func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("landing server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func slogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("landing request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}
