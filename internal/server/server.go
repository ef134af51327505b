// Package server sets up the HTTP server, the router and every long-lived
// component.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - Which background components (registry mirror, client hub) run, and
//     how they start and stop together with the HTTP listener
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go reads Config
//	Server.New creates:
//	  sqlite.DB ─┬─▶ registry.Registry ──────────────┐
//	             ├─▶ SectorService, ProfileService ──┼─▶ client.Hub ─▶ LiveHandler
//	             └─▶ history.Store ──────────────────┘
//	  TokenService + GoogleProvider ─▶ AuthService ─▶ AuthHandler
//	  media.Cache ─▶ MediaHandler (and the hub's preloader)
//
// This is the "composition root" pattern: all dependencies are wired in
// one place.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/crono-esfera/internal/auth"
	"github.com/sakif/crono-esfera/internal/client"
	"github.com/sakif/crono-esfera/internal/feedback"
	"github.com/sakif/crono-esfera/internal/handler"
	"github.com/sakif/crono-esfera/internal/history"
	"github.com/sakif/crono-esfera/internal/media"
	"github.com/sakif/crono-esfera/internal/middleware"
	"github.com/sakif/crono-esfera/internal/registry"
	sqliteRepo "github.com/sakif/crono-esfera/internal/repository/sqlite"
	"github.com/sakif/crono-esfera/internal/service"
)

// SeederUID is the identity a server writes the generated world as.
const SeederUID = "system"

// Config holds server configuration.
type Config struct {
	Port        int
	TemplateDir string
	StaticDir   string
	DBPath      string

	// JWTSecret signs session cookies. When empty a random secret is used
	// and sessions do not survive a restart.
	JWTSecret string

	// Google sign-in. Without a client id the /auth/google routes are not
	// registered and every visitor stays anonymous.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	// Feedback. Without an API key claims get the fixed fallback message.
	GeminiAPIKey string
	GeminiModel  string

	// SeedWorld lets this process write the generated world to an empty
	// store. Exactly one writer should do that; extra seeders are harmless
	// but wasteful.
	SeedWorld bool
}

// Server owns the database, the registry mirror and the client hub.
//
// RESOURCE MANAGEMENT:
// Start brings the background components up before listening and takes
// them down after the listener stops: hub (closes websockets), registry
// subscription, then the database.
type Server struct {
	router   *chi.Mux
	config   Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	registry *registry.Registry
	hub      *client.Hub
}

// New creates a Server with the given config.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes builds every component and route.
//
// ROUTE STRUCTURE:
// GET    /                          → page (HTML)
// GET    /static/*                  → static files
// GET    /ws                        → client session websocket
// GET    /auth/google/login         → start Google sign-in
// GET    /auth/google/callback      → finish Google sign-in
// POST   /auth/logout               → sign out (all tabs)
// GET    /api/me                    → signed-in profile     [auth]
// GET    /api/sectors               → every sector
// GET    /api/sectors/{id}          → one sector with media
// POST   /api/sectors/{id}/like     → like the current reign [auth]
// GET    /api/leaderboard           → longest reigns
// GET    /api/stats                 → global counters
// GET    /media/{id}                → the frame on screen right now
// GET    /media/{id}/{frame}        → one media frame
func (s *Server) setupRoutes() error {
	logger := s.logger

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(logger))
	s.router.Use(chimiddleware.Recoverer)

	// === Core components ===
	tokens, err := s.tokenService()
	if err != nil {
		return err
	}

	var opts []registry.Option
	if s.config.SeedWorld {
		opts = append(opts, registry.WithSeeder(SeederUID))
	}
	s.registry = registry.New(s.db, logger, opts...)

	sectors := service.NewSectorService(s.db, logger)
	profiles := service.NewProfileService(s.db, logger)
	authService := service.NewAuthService(profiles, tokens, logger)
	cache := media.NewCache(&http.Client{Timeout: 10 * time.Second}, logger)

	s.hub = client.NewHub(client.Deps{
		Store:    s.db,
		Sectors:  s.registry,
		Actions:  sectors,
		Profiles: profiles,
		History:  history.NewStore(s.db, logger),
		Feedback: s.feedbackGenerator(),
		Cache:    cache,
		Logger:   logger,
	})

	// === Static Files ===
	fileServer := http.FileServer(http.Dir(s.config.StaticDir))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	// === Page ===
	pageHandler, err := handler.NewPageHandler(s.config.TemplateDir, logger)
	if err != nil {
		return fmt.Errorf("creating page handler: %w", err)
	}
	s.router.Get("/", pageHandler.HandleIndex)

	// === Live session ===
	liveHandler := handler.NewLiveHandler(s.hub, tokens, logger)
	s.router.Get("/ws", liveHandler.HandleLive)

	// === Auth ===
	var provider handler.OAuthProvider
	if s.config.GoogleClientID != "" {
		provider = auth.NewGoogleProvider(s.config.GoogleClientID, s.config.GoogleClientSecret, s.config.GoogleCallbackURL)
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set, sign-in is disabled")
	}
	authHandler := handler.NewAuthHandler(provider, authService, profiles, s.hub, logger)

	if provider != nil {
		s.router.Get("/auth/google/login", authHandler.HandleGoogleLogin)
		s.router.Get("/auth/google/callback", authHandler.HandleGoogleCallback)
	}
	s.router.With(auth.OptionalAuth(tokens)).Post("/auth/logout", authHandler.HandleLogout)

	// === API ===
	sectorHandler := handler.NewSectorHandler(s.registry, sectors, profiles, logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.OptionalAuth(tokens))
		r.Get("/sectors", sectorHandler.HandleList)
		r.Get("/sectors/{id}", sectorHandler.HandleGet)
		r.Get("/leaderboard", sectorHandler.HandleLeaderboard)
		r.Get("/stats", sectorHandler.HandleStats)

		// Protected routes: RequireAuth returns 401 without a valid cookie.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authHandler.HandleMe)
			r.Post("/sectors/{id}/like", sectorHandler.HandleLike)
		})
	})

	// === Media ===
	mediaHandler := handler.NewMediaHandler(s.registry, cache, logger)
	s.router.Get("/media/{id}", mediaHandler.HandleCurrent)
	s.router.Get("/media/{id}/{frame}", mediaHandler.HandleFrame)

	return nil
}

func (s *Server) tokenService() (*auth.TokenService, error) {
	secret := s.config.JWTSecret
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
		secret = hex.EncodeToString(b)
		s.logger.Warn("JWT_SECRET not set, sessions will not survive a restart")
	}
	tokens, err := auth.NewTokenService(secret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	return tokens, nil
}

// feedbackGenerator returns Gemini when configured. Any failure falls back
// to the fixed message; feedback never blocks startup.
func (s *Server) feedbackGenerator() feedback.Generator {
	if s.config.GeminiAPIKey == "" {
		s.logger.Info("GEMINI_API_KEY not set, using fixed claim feedback")
		return feedback.Static{}
	}
	g, err := feedback.NewGemini(context.Background(), s.config.GeminiAPIKey, s.config.GeminiModel, s.logger)
	if err != nil {
		s.logger.Warn("feedback unavailable", slog.String("error", err.Error()))
		return feedback.Static{}
	}
	return g
}

// Start runs until SIGINT or SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Close every client session. http.Server.Shutdown does not track
//     websockets, so they go first.
//  2. Stop accepting connections and wait up to 30s for in-flight requests.
//  3. Stop the registry subscription, then close the database.
func (s *Server) Start() error {
	defer s.db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.registry.Start(ctx); err != nil {
		return fmt.Errorf("starting registry: %w", err)
	}
	defer s.registry.Stop()

	if err := s.hub.Start(ctx); err != nil {
		return fmt.Errorf("starting client hub: %w", err)
	}
	defer s.hub.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
		// Websockets set their own deadlines after the upgrade.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down", slog.Int("sessions", s.hub.Len()))

		s.hub.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
