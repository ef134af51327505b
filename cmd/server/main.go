// Package main is the entry point for the Crono Esfera server.
//
// MAIN PACKAGE:
// main stays minimal. Its job is to:
//  1. Read configuration from environment variables
//  2. Create the logger
//  3. Start the server
//
// All actual logic lives in internal/ packages.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sakif/crono-esfera/internal/server"
)

func main() {
	// === 1. SET UP LOGGING ===
	// LOG_LEVEL=debug shows per-session detail (dropped frames, ignored
	// commands). Default is info.
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// === 2. READ CONFIGURATION ===
	port := 8080
	if portStr := os.Getenv("PORT"); portStr != "" {
		var err error
		port, err = strconv.Atoi(portStr)
		if err != nil {
			logger.Error("invalid PORT value", slog.String("value", portStr))
			os.Exit(1)
		}
	}

	templateDir := envOr("TEMPLATE_DIR", "web/templates")
	staticDir := envOr("STATIC_DIR", "web/static")
	templateDir, _ = filepath.Abs(templateDir)
	staticDir, _ = filepath.Abs(staticDir)

	// === 3. DATABASE PATH ===
	// One SQLite file holds both the shared documents and the local
	// key/value data.
	dbPath := envOr("DB_PATH", "data/crono.db")
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", dbDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 4. SEEDING ===
	// On by default; set SEED_WORLD=false on every replica but one.
	seed := true
	if v := os.Getenv("SEED_WORLD"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Error("invalid SEED_WORLD value", slog.String("value", v))
			os.Exit(1)
		}
		seed = b
	}

	// === 5. CREATE AND START THE SERVER ===
	cfg := server.Config{
		Port:               port,
		TemplateDir:        templateDir,
		StaticDir:          staticDir,
		DBPath:             dbPath,
		JWTSecret:          os.Getenv("JWT_SECRET"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:  envOr("GOOGLE_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/auth/google/callback", port)),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        os.Getenv("GEMINI_MODEL"),
		SeedWorld:          seed,
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
