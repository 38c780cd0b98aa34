package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"attendcal/internal/cache"
	"attendcal/internal/config"
	appLog "attendcal/internal/log"
	"attendcal/internal/refresh"
)

// Snapshots is satisfied by *refresh.Refresher.
type Snapshots interface {
	Snapshot() *refresh.Snapshot
}

// Server provides the HTTP API over the current event snapshot and the
// stateless recurrence helpers used by the event editor.
type Server struct {
	cfg    *config.Config
	snaps  Snapshots
	store  cache.Store
	ttl    time.Duration
	now    func() time.Time
	router chi.Router
}

// NewServer constructs a new Server. store may be nil, in which case an
// in-memory store is used.
func NewServer(cfg *config.Config, snaps Snapshots, store cache.Store) *Server {
	if store == nil {
		store = cache.NewMemoryStore(nil)
	}
	s := &Server{
		cfg:   cfg,
		snaps: snaps,
		store: store,
		ttl:   time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		now:   time.Now,
	}
	s.setupRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, s.requestLogger, middleware.Recoverer, middleware.StripSlashes)
	r.NotFound(s.notFoundResponse)
	r.MethodNotAllowed(s.methodNotAllowedResponse)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
			r.Use(s.basicAuth)
		}

		r.Get("/calendar.ics", s.handleCalendar)
		r.Route("/api", func(r chi.Router) {
			r.Get("/occurrences", s.handleOccurrences)
			r.Route("/recurrence", func(r chi.Router) {
				r.Post("/expand", s.handleExpand)
				r.Post("/classify", s.handleClassify)
				r.Post("/dates", s.handleDates)
				r.Post("/dates/list", s.handleDatesList)
			})
		})
	})

	s.router = r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appLog.Debug(r.URL.RequestURI(),
			"request_id", middleware.GetReqID(r.Context()),
			"addr", r.RemoteAddr,
			"method", r.Method,
		)
		next.ServeHTTP(w, r)
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="attendcal", charset="UTF-8"`)
			s.clientErrorResponse(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves h on addr until ctx is canceled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
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
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
