// Package portal serves the on-device configuration UI and API while the
// node is in configuration mode.
package portal

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/mycyclingcity/tachod/internal/config"
)

// Server is the captive configuration portal. It only runs while the device
// is in configuration mode; leaving that mode stops it. Handlers talk to the
// store exclusively — the control loop owns the resolved configuration and
// re-reads the store when it needs the portal's edits.
type Server struct {
	store *config.Store
	auth  *authManager

	// ApplyFirmware stages an uploaded image. Restart reboots the device;
	// the handlers call it after a short delay so the response gets out.
	ApplyFirmware func(data []byte) error
	Restart       func()

	httpServer *http.Server
}

func NewServer(store *config.Store) *Server {
	return &Server{
		store:         store,
		auth:          newAuthManager(store),
		ApplyFirmware: func([]byte) error { return nil },
		Restart:       func() {},
	}
}

// Start begins serving on addr in the background. Errors from the listener
// (other than a clean shutdown) are logged, not fatal: a broken portal should
// not take down the controller.
func (s *Server) Start(addr string) {
	router := s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srv := s.httpServer
	go func() {
		log.Info().Str("addr", addr).Msg("configuration portal listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("portal server error")
		}
	}()
}

// Stop shuts the portal down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("portal shutdown")
	}
	s.httpServer = nil
}

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleIndex)
	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/api/config", s.handleGetConfig)
		r.Post("/api/config", s.handleSaveConfig)
		r.Post("/api/password", s.handleSetPassword)
		r.Post("/api/reboot", s.handleReboot)
		r.Post("/api/update", s.handleFirmwareUpload)
	})

	return r
}

// requireToken guards the configuration API behind a valid session token.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if err := s.auth.validateToken(token); err != nil {
			respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
