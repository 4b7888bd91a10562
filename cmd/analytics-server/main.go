package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Snitch-1302/PrivAnalytica/server"
)

func main() {
	addr := flag.String("addr", ":8000", "Listen address")
	configPath := flag.String("config", "", "Deployment config JSON (models and sigmoid approximation); built-in defaults when empty")
	flag.Parse()

	logger := log.New(os.Stderr, "analytics-server ", log.LstdFlags)

	cfg := server.DefaultDeployment()
	if *configPath != "" {
		loaded, err := server.LoadDeployment(*configPath)
		if err != nil {
			logger.Fatalf("loading deployment config: %v", err)
		}
		cfg = loaded
	}

	srv, err := server.New(cfg, nil, logger)
	if err != nil {
		logger.Fatalf("building server: %v", err)
	}

	httpSrv := &http.Server{
		Addr:         *addr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("listening on %s", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("serving: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
