package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr/funcr"

	"github.com/sso-tools/cascade/internal/core"
	"github.com/sso-tools/cascade/internal/mockcas"
)

func main() {
	// Load configuration
	cfg := core.LoadConfig()
	if cfg.MockCasEnabled {
		cfg.CasServerURL = cfg.BaseURL + "/cas"
	}

	logger := funcr.New(func(prefix, args string) {
		if prefix != "" {
			log.Printf("%s: %s", prefix, args)
		} else {
			log.Print(args)
		}
	}, funcr.Options{Verbosity: verbosity(cfg)})

	// Wire validator, state codec, handshake and ticket store
	boot, err := core.Bootstrap(cfg, nil, logger)
	if err != nil {
		log.Fatalf("Failed to bootstrap: %v", err)
	}
	defer boot.Close()
	log.Printf("CAS client initialized against %s (protocol v%d)", cfg.CasServerURL, cfg.ProtocolVersion)

	// Create and configure server
	server := core.NewServer(cfg, boot.Handshake, boot.Store, logger)
	if cfg.MockCasEnabled {
		server.Router().Route("/cas", mockcas.NewServer().RegisterRoutes)
		log.Printf("Mock CAS server mounted at %s/cas", cfg.BaseURL)
	}
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", cfg.ListenAddr)
		log.Printf("Sign in at %s/auth/login", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	fmt.Println()
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited gracefully")
}

func verbosity(cfg *core.Config) int {
	if cfg.Debug {
		return 2
	}
	return 0
}
