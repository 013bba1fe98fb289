package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BeskiJoseph/interview/internal/config"
	"github.com/BeskiJoseph/interview/internal/httpserver"
	"github.com/BeskiJoseph/interview/internal/llm"
	"github.com/BeskiJoseph/interview/internal/store"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	local, err := store.NewLocal(cfg.DataDir)
	if err != nil {
		log.Fatalf("local store: %v", err)
	}
	var remote store.Remote
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		sb, err := store.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseBucket)
		if err != nil {
			log.Printf("supabase unavailable, running on the local store: %v", err)
		} else {
			remote = sb
		}
	}
	storeGateway := store.NewGateway(remote, local)

	client := llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModelID, cfg.GeminiBaseURL)
	ledger := llm.NewLedger(local)
	gateway := llm.NewGateway(client, ledger, llm.GatewayConfig{
		QueueCapacity:  cfg.QueueCapacity,
		MaxPerMinute:   cfg.MaxPerMinute,
		MinInterval:    cfg.MinInterval,
		DailyQuota:     cfg.DailyQuota,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		QuotaRetryWait: cfg.QuotaRetryWait,
	})
	defer gateway.Close()

	srv := httpserver.New(cfg, httpserver.Deps{
		Generator: gateway,
		Keys:      client,
		Store:     storeGateway,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
